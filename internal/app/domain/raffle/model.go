package raffle

import "time"

// Entry records a single paid entry into a raffle round.
type Entry struct {
	ID        string
	RoundID   string
	Address   string
	FeePaid   float64
	CreatedAt time.Time
}

// Round captures one raffle cycle from opening through winner payout.
type Round struct {
	ID          string
	Number      int64
	State       State
	EntranceFee float64
	Pool        float64
	Entries     int
	Winner      string
	Payout      float64
	RequestID   string
	Words       []uint64
	OpenedAt    time.Time
	DrawAt      time.Time
	CompletedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Snapshot is a read-only view of the live raffle state.
type Snapshot struct {
	State              State
	RoundID            string
	RoundNumber        int64
	EntranceFee        float64
	Interval           time.Duration
	Pool               float64
	Participants       int
	RecentWinner       string
	LastDrawAt         time.Time
	NextDrawDue        time.Time
	OutstandingRequest string
}

// UpkeepStatus reports whether a draw is due and which preconditions hold.
type UpkeepStatus struct {
	Needed          bool
	State           State
	Participants    int
	Pool            float64
	IntervalElapsed bool
	NextDrawDue     time.Time
}
