package matchqueue

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// Rating domain. Windows are clamped to these bounds.
	RatingFloor = 0
	RatingCeil  = 3000

	// Window starts at 10% of the base rating and gains 10 percentage
	// points for every complete growth interval spent in the queue.
	initialRangePct  = 10
	growthStepPct    = 10
	growthInterval   = 5 * time.Second
	maxRangeEvictAge = 50 * time.Second
)

// Entry is one waiting player. Owned exclusively by the queue; callers only
// ever see copies.
type Entry struct {
	PlayerID          uuid.UUID
	BaseRating        int
	EnqueuedAt        time.Time
	MinRating         int
	MaxRating         int
	ReachedMaxRange   bool
	MaxRangeReachedAt time.Time
}

// Pair is a ready-to-match pair of players produced by a tick.
type Pair struct {
	A Entry
	B Entry
}

// Queue is the in-memory matchmaking registry. State is process-local and
// not expected to survive a restart; players re-enqueue.
type Queue struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	order   []uuid.UUID // insertion order, drives pairing scan
}

func NewQueue() *Queue {
	return &Queue{
		entries: make(map[uuid.UUID]*Entry),
	}
}

// Enqueue registers a player. Re-enqueueing an already waiting player is a
// no-op; the original enqueue time keeps driving the window growth.
func (q *Queue) Enqueue(playerID uuid.UUID, rating int, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[playerID]; exists {
		log.Debug().Str("player_id", playerID.String()).Msg("player already queued, ignoring enqueue")
		return
	}

	e := &Entry{
		PlayerID:   playerID,
		BaseRating: rating,
		EnqueuedAt: now,
	}
	e.applyWindow(now)
	q.entries[playerID] = e
	q.order = append(q.order, playerID)

	log.Info().
		Str("player_id", playerID.String()).
		Int("rating", rating).
		Int("min", e.MinRating).
		Int("max", e.MaxRating).
		Msg("player enqueued")
}

// Dequeue removes a player unconditionally. Returns whether the player was
// present.
func (q *Queue) Dequeue(playerID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remove(playerID)
}

// Len returns the number of waiting players.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Lookup returns a copy of a player's entry, if queued.
func (q *Queue) Lookup(playerID uuid.UUID) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[playerID]; ok {
		return *e, true
	}
	return Entry{}, false
}

// Tick recomputes every entry's rating window for the given instant, evicts
// entries that have sat at the clamped maximum range past the grace period,
// and returns at most one matchable pair. Callers re-tick to drain further
// pairs; returning a single pair keeps the downstream state changes simple.
func (q *Queue) Tick(now time.Time) (*Pair, []Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var evicted []Entry
	for _, id := range q.order {
		e := q.entries[id]
		e.applyWindow(now)
		if e.ReachedMaxRange && now.Sub(e.MaxRangeReachedAt) >= maxRangeEvictAge {
			evicted = append(evicted, *e)
		}
	}
	for _, e := range evicted {
		q.remove(e.PlayerID)
		log.Info().
			Str("player_id", e.PlayerID.String()).
			Dur("waited", now.Sub(e.EnqueuedAt)).
			Msg("player evicted from queue after max range grace period")
	}

	// First-found pairing over insertion order. Tie-break between multiple
	// viable partners is iteration order, accepted as non-deterministic.
	for i := 0; i < len(q.order); i++ {
		a := q.entries[q.order[i]]
		for j := i + 1; j < len(q.order); j++ {
			b := q.entries[q.order[j]]
			if !windowsOverlap(a, b) {
				continue
			}
			pair := &Pair{A: *a, B: *b}
			q.remove(a.PlayerID)
			q.remove(b.PlayerID)
			log.Info().
				Str("player_a", pair.A.PlayerID.String()).
				Str("player_b", pair.B.PlayerID.String()).
				Int("rating_a", pair.A.BaseRating).
				Int("rating_b", pair.B.BaseRating).
				Msg("pair formed")
			return pair, evicted
		}
	}
	return nil, evicted
}

// applyWindow recomputes the symmetric rating window from time in queue and
// flags the entry the instant either bound hits the rating domain clamp.
func (e *Entry) applyWindow(now time.Time) {
	intervals := int(now.Sub(e.EnqueuedAt) / growthInterval)
	if intervals < 0 {
		intervals = 0
	}
	pct := initialRangePct + growthStepPct*intervals
	delta := e.BaseRating * pct / 100

	minR := e.BaseRating - delta
	maxR := e.BaseRating + delta
	clamped := false
	if minR <= RatingFloor {
		minR = RatingFloor
		clamped = true
	}
	if maxR >= RatingCeil {
		maxR = RatingCeil
		clamped = true
	}
	e.MinRating = minR
	e.MaxRating = maxR

	if clamped && !e.ReachedMaxRange {
		e.ReachedMaxRange = true
		e.MaxRangeReachedAt = now
	}
}

// windowsOverlap reports whether two entries' windows intersect.
func windowsOverlap(a, b *Entry) bool {
	return a.MaxRating >= b.MinRating && b.MaxRating >= a.MinRating
}

func (q *Queue) remove(playerID uuid.UUID) bool {
	if _, exists := q.entries[playerID]; !exists {
		return false
	}
	delete(q.entries, playerID)
	for i, id := range q.order {
		if id == playerID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}
