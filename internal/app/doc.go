// Package app provides the application composition layer for the raffle
// service.
//
// # Architecture Role
//
// The app package sits above the domain services and is responsible for
// composing them into a running application. It wires stores, services and
// background workers together; business logic belongs in the service
// packages underneath it.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Main application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── raffle/         # Rounds, entries, upkeep status
//	│   ├── randomness/     # Randomness requests and oracle params
//	│   └── wallet/         # Accounts and transactions
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (RoundStore, WalletStore, etc.)
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── raffle/         # Raffle lifecycle and upkeep runner
//	│   ├── vrf/            # Randomness requests, resolvers, dispatcher
//	│   └── wallet/         # Fee collection and prize payout
//	├── events/             # In-process event feed
//	├── httpapi/            # HTTP API handlers and routing
//	├── system/             # Service lifecycle management
//	└── metrics/            # Application metrics
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing the raffle, randomness and wallet services with their stores
//   - Selecting the randomness resolver from the configured settings
//   - Registering background workers (upkeep runner, vrf dispatcher)
//   - Restoring persisted raffle state before traffic is accepted
//
// # Dependency Direction
//
// The dependency flow is:
//
//	cmd/raffled
//	      │
//	      ▼
//	internal/app/runtime (config, database, HTTP server)
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► internal/app/services (business logic)
//	      │
//	      ├──► internal/app/storage (persistence)
//	      │
//	      └──► internal/app/system (lifecycle)
//
// # Example: Adding a New Domain
//
// When adding a new domain (e.g., "referrals"):
//
//  1. Create domain models in internal/app/domain/referrals/
//  2. Add storage interface to internal/app/storage/interfaces.go
//  3. Implement storage in internal/app/storage/postgres/ and memory/
//  4. Create service in internal/app/services/referrals/service.go
//  5. Wire service in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/handler.go
package app
