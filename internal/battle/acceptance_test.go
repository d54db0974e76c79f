package battle

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kotobaquest/battle/internal/events"
	"github.com/kotobaquest/battle/internal/models"
	"github.com/kotobaquest/battle/internal/scheduler"
)

func TestOnPairFormedCreatesPendingMatch(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	parts := f.pair(t)

	match := f.store.matches[parts[0].MatchID]
	if match.Status != models.MatchStatusPending {
		t.Errorf("match status = %s, want %s", match.Status, models.MatchStatusPending)
	}
	if len(f.store.roundsByMatch[match.ID]) != 3 {
		t.Errorf("rounds created = %d, want 3", len(f.store.roundsByMatch[match.ID]))
	}

	jobs := f.sched.take(scheduler.JobAcceptanceTimeout)
	if len(jobs) != 2 {
		t.Fatalf("acceptance timeouts scheduled = %d, want 2", len(jobs))
	}
	for _, j := range jobs {
		if j.Delay != 25*time.Second {
			t.Errorf("acceptance timeout delay = %v, want 25s", j.Delay)
		}
	}

	found := f.notes.ofKind(events.KindMatchFound)
	if len(found) != 2 {
		t.Fatalf("MatchFound notifications = %d, want 2", len(found))
	}
	for _, n := range found {
		if len(n.Players) != 1 {
			t.Errorf("MatchFound sent to %d players, want 1", len(n.Players))
		}
	}
}

func TestBothAcceptStartsMatch(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	parts := f.acceptBoth(t)

	match := f.store.matches[parts[0].MatchID]
	if match.Status != models.MatchStatusInProgress {
		t.Errorf("match status = %s, want %s", match.Status, models.MatchStatusInProgress)
	}
	if got := len(f.notes.ofKind(events.KindMatchStarted)); got != 1 {
		t.Errorf("MatchStarted notifications = %d, want 1", got)
	}

	roundID := f.store.roundsByMatch[match.ID][0]
	if got := f.store.rounds[roundID].Status; got != models.RoundStatusSelecting {
		t.Errorf("round one status = %s, want %s", got, models.RoundStatusSelecting)
	}
	if got := len(f.notes.ofKind(events.KindTurnStarted)); got != 1 {
		t.Errorf("TurnStarted notifications = %d, want 1", got)
	}
}

func TestRejectionCancelsMatch(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	parts := f.pair(t)

	if err := f.svc.RespondToMatch(context.Background(), parts[0].ID, true); err != nil {
		t.Fatalf("RespondToMatch(accept) error = %v", err)
	}
	if got := f.store.matches[parts[0].MatchID].Status; got != models.MatchStatusPending {
		t.Fatalf("match decided with one side unsettled: status = %s", got)
	}

	if err := f.svc.RespondToMatch(context.Background(), parts[1].ID, false); err != nil {
		t.Fatalf("RespondToMatch(reject) error = %v", err)
	}
	if got := f.store.matches[parts[0].MatchID].Status; got != models.MatchStatusCancelled {
		t.Errorf("match status = %s, want %s", got, models.MatchStatusCancelled)
	}
	if got := len(f.notes.ofKind(events.KindMatchCancelled)); got != 1 {
		t.Errorf("MatchCancelled notifications = %d, want 1", got)
	}
	if got := len(f.notes.ofKind(events.KindMatchStarted)); got != 0 {
		t.Errorf("MatchStarted notifications = %d, want 0", got)
	}
}

func TestAcceptanceTimeoutCountsAsRejection(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	parts := f.pair(t)

	if err := f.svc.RespondToMatch(context.Background(), parts[0].ID, true); err != nil {
		t.Fatalf("RespondToMatch() error = %v", err)
	}
	for _, j := range f.sched.take(scheduler.JobAcceptanceTimeout) {
		if err := f.svc.handleAcceptanceTimeout(context.Background(), j.Job); err != nil {
			t.Fatalf("handleAcceptanceTimeout() error = %v", err)
		}
	}

	if got := f.store.matches[parts[0].MatchID].Status; got != models.MatchStatusCancelled {
		t.Errorf("match status = %s, want %s", got, models.MatchStatusCancelled)
	}
	if got := len(f.notes.ofKind(events.KindMatchCancelled)); got != 1 {
		t.Errorf("MatchCancelled notifications = %d, want 1", got)
	}
}

func TestLateAcceptanceTimeoutIsNoOp(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	parts := f.acceptBoth(t)

	for _, j := range f.sched.take(scheduler.JobAcceptanceTimeout) {
		if err := f.svc.handleAcceptanceTimeout(context.Background(), j.Job); err != nil {
			t.Fatalf("handleAcceptanceTimeout() error = %v", err)
		}
	}

	if got := f.store.matches[parts[0].MatchID].Status; got != models.MatchStatusInProgress {
		t.Errorf("match status = %s, want %s", got, models.MatchStatusInProgress)
	}
	if got := len(f.notes.ofKind(events.KindMatchCancelled)); got != 0 {
		t.Errorf("MatchCancelled notifications = %d, want 0", got)
	}
	if got := len(f.notes.ofKind(events.KindMatchStarted)); got != 1 {
		t.Errorf("MatchStarted notifications = %d, want 1", got)
	}
}

func TestDuplicateResponseIsIgnored(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	parts := f.pair(t)

	if err := f.svc.RespondToMatch(context.Background(), parts[0].ID, true); err != nil {
		t.Fatalf("first RespondToMatch() error = %v", err)
	}
	// A rejecting retry cannot overwrite the settled acceptance.
	if err := f.svc.RespondToMatch(context.Background(), parts[0].ID, false); err != nil {
		t.Fatalf("second RespondToMatch() error = %v", err)
	}

	p := f.store.participants[parts[0].ID]
	if p.HasAccepted == nil || !*p.HasAccepted {
		t.Errorf("HasAccepted = %v, want settled true", p.HasAccepted)
	}
	if got := f.store.matches[parts[0].MatchID].Status; got != models.MatchStatusPending {
		t.Errorf("match status = %s, want %s", got, models.MatchStatusPending)
	}
}

func TestAcceptanceTimeoutForUnknownParticipantIsDropped(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	err := f.svc.handleAcceptanceTimeout(context.Background(), scheduler.Job{
		ID:       uuid.New(),
		Kind:     scheduler.JobAcceptanceTimeout,
		TargetID: uuid.New(),
	})
	if err != nil {
		t.Errorf("handleAcceptanceTimeout() for unknown target error = %v, want nil", err)
	}
}
