package events

import (
	"fmt"
	"testing"
)

func TestLog_PublishAndRecent(t *testing.T) {
	log := NewLog(10)

	for i := 0; i < 3; i++ {
		log.Publish(Event{Type: TypeRaffleEntered, Address: fmt.Sprintf("addr-%d", i)})
	}

	if got := log.Count(); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}

	recent := log.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d events", len(recent))
	}
	if recent[0].Address != "addr-2" {
		t.Errorf("newest event address = %s, want addr-2", recent[0].Address)
	}
	if recent[0].ID == "" || recent[0].Timestamp.IsZero() {
		t.Error("published event missing generated ID or timestamp")
	}
	if recent[0].Severity != SeverityInfo {
		t.Errorf("default severity = %s, want %s", recent[0].Severity, SeverityInfo)
	}
}

func TestLog_WrapsAtCapacity(t *testing.T) {
	log := NewLog(3)

	for i := 0; i < 5; i++ {
		log.Publish(Event{Type: TypeRaffleEntered, Address: fmt.Sprintf("addr-%d", i)})
	}

	if got := log.Count(); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}

	recent := log.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Recent(10) returned %d events", len(recent))
	}
	if recent[0].Address != "addr-4" || recent[2].Address != "addr-2" {
		t.Errorf("unexpected window: newest=%s oldest=%s", recent[0].Address, recent[2].Address)
	}
}

func TestLog_RecentByType(t *testing.T) {
	log := NewLog(10)
	log.Publish(Event{Type: TypeRaffleEntered})
	log.Publish(Event{Type: TypeRaffleWinnerPicked, Address: "winner"})
	log.Publish(Event{Type: TypeRaffleEntered})

	picked := log.RecentByType(TypeRaffleWinnerPicked, 5)
	if len(picked) != 1 {
		t.Fatalf("RecentByType returned %d events, want 1", len(picked))
	}
	if picked[0].Address != "winner" {
		t.Errorf("address = %s, want winner", picked[0].Address)
	}
}

func TestLog_RecentByModule(t *testing.T) {
	log := NewLog(10)
	log.Publish(Event{Type: TypeRaffleEntered})
	log.Publish(Event{Type: TypeWalletDeposit, Address: "alice"})
	log.Publish(Event{Type: TypeRandomnessRequested})
	log.Publish(Event{Type: TypeWalletPayout, Address: "bob"})

	wallet := log.RecentByModule("wallet", 5)
	if len(wallet) != 2 {
		t.Fatalf("RecentByModule returned %d events, want 2", len(wallet))
	}
	if wallet[0].Address != "bob" || wallet[1].Address != "alice" {
		t.Errorf("unexpected order: %s, %s", wallet[0].Address, wallet[1].Address)
	}

	if got := log.RecentByModule("oracle", 5); len(got) != 0 {
		t.Errorf("unknown module returned %d events", len(got))
	}
}

func TestLog_Subscribe(t *testing.T) {
	log := NewLog(10)

	var seen []Event
	cancel := log.Subscribe(func(e Event) { seen = append(seen, e) })

	log.Publish(Event{Type: TypeRaffleEntered})
	if len(seen) != 1 {
		t.Fatalf("handler saw %d events, want 1", len(seen))
	}

	cancel()
	log.Publish(Event{Type: TypeRaffleEntered})
	if len(seen) != 1 {
		t.Fatalf("handler saw %d events after unsubscribe, want 1", len(seen))
	}
}

func TestLog_SubscribeFiltered(t *testing.T) {
	log := NewLog(10)

	var errors int
	cancel := log.SubscribeFiltered(
		func(e Event) bool { return e.Severity == SeverityError },
		func(Event) { errors++ },
	)
	defer cancel()

	log.Publish(Event{Type: TypeRaffleEntered})
	log.Publish(Event{Type: TypeRafflePayoutFailed, Severity: SeverityError})

	if errors != 1 {
		t.Fatalf("filtered handler saw %d events, want 1", errors)
	}
}
