//go:build integration && postgres

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/raffle_service/internal/app"
	"github.com/R3E-Network/raffle_service/internal/app/storage/postgres"
	"github.com/R3E-Network/raffle_service/internal/config"
	"github.com/R3E-Network/raffle_service/internal/platform/database"
	"github.com/R3E-Network/raffle_service/internal/platform/migrations"
)

// TestIntegrationPostgres exercises the API against a real database so the
// migrations and the persisted stores are covered together. It tolerates
// state left behind by earlier runs.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	dbCfg := config.Default().Database
	dbCfg.DSN = dsn
	db, err := database.Open(ctx, dbCfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := postgres.New(db)
	application, err := app.New(app.Stores{
		Rounds:   store,
		Entries:  store,
		Requests: store,
		Wallets:  store,
	}, app.Settings{
		EntranceFee: 1,
		Interval:    time.Hour,
		Words:       1,
	}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Raffle.Restore(ctx); err != nil {
		t.Fatalf("restore raffle: %v", err)
	}

	audit := NewAuditLog(50, NewPostgresAuditSink(db))
	server := httptest.NewServer(NewHandler(application, Options{Audit: audit}, nil))
	defer server.Close()

	post := func(path string, payload any) *http.Response {
		t.Helper()
		body, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		resp, err := http.Post(server.URL+path, "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		return resp
	}

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz failed: %v status %v", err, resp)
	}
	resp.Body.Close()

	// A draw left in flight by an earlier run blocks new entries.
	resp, err = http.Get(server.URL + "/raffle")
	if err != nil {
		t.Fatalf("get raffle: %v", err)
	}
	var snap map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	resp.Body.Close()
	if snap["State"] == "calculating" {
		resp = post("/raffle/draws/abort", map[string]any{"reason": "integration reset"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("abort stale draw: %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	address := fmt.Sprintf("itg-%d", time.Now().UnixNano())
	resp = post("/wallets", map[string]any{"address": address, "balance": 5})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create wallet: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post("/raffle/entries", map[string]any{"participant": address, "amount": 1})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enter raffle: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The entry must have reached the database, not just memory.
	var persisted int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raffle_entries WHERE address = $1`, address,
	).Scan(&persisted); err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if persisted != 1 {
		t.Fatalf("persisted entries = %d, want 1", persisted)
	}

	var balance float64
	if err := db.QueryRowContext(ctx,
		`SELECT balance FROM wallet_accounts WHERE address = $1`, address,
	).Scan(&balance); err != nil {
		t.Fatalf("query balance: %v", err)
	}
	if balance != 4 {
		t.Fatalf("persisted balance = %v, want 4", balance)
	}

	resp, err = http.Get(server.URL + "/audit")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("audit failed: %v status %v", err, resp)
	}
	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	resp.Body.Close()
	if len(entries) == 0 {
		t.Fatal("expected audit entries")
	}
}
