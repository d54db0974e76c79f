package battle

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kotobaquest/battle/internal/catalog"
	"github.com/kotobaquest/battle/internal/events"
	"github.com/kotobaquest/battle/internal/matchqueue"
	"github.com/kotobaquest/battle/internal/models"
	"github.com/kotobaquest/battle/internal/scheduler"
)

func matchEntry(playerID uuid.UUID, rating int) matchqueue.Entry {
	return matchqueue.Entry{PlayerID: playerID, BaseRating: rating}
}

// memStore is an in-memory Store with the same claim semantics as the pgx
// repository: every Claim*/Transition* is checked under one lock.
type memStore struct {
	mu sync.Mutex

	matches      map[uuid.UUID]*models.Match
	participants map[uuid.UUID]*models.MatchParticipant
	rounds       map[uuid.UUID]*models.MatchRound
	roundParts   map[uuid.UUID]*models.MatchRoundParticipant
	questions    map[uuid.UUID]*models.RoundQuestion
	logs         map[uuid.UUID]*models.RoundQuestionAnswerLog // by RoundQuestionID

	partsByMatch  map[uuid.UUID][]uuid.UUID
	roundsByMatch map[uuid.UUID][]uuid.UUID
	rpsByRound    map[uuid.UUID][]uuid.UUID
	questionsByRP map[uuid.UUID][]uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		matches:       make(map[uuid.UUID]*models.Match),
		participants:  make(map[uuid.UUID]*models.MatchParticipant),
		rounds:        make(map[uuid.UUID]*models.MatchRound),
		roundParts:    make(map[uuid.UUID]*models.MatchRoundParticipant),
		questions:     make(map[uuid.UUID]*models.RoundQuestion),
		logs:          make(map[uuid.UUID]*models.RoundQuestionAnswerLog),
		partsByMatch:  make(map[uuid.UUID][]uuid.UUID),
		roundsByMatch: make(map[uuid.UUID][]uuid.UUID),
		rpsByRound:    make(map[uuid.UUID][]uuid.UUID),
		questionsByRP: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *memStore) CreateMatch(ctx context.Context, players [2]NewParticipant) (*models.Match, []models.MatchParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	match := &models.Match{ID: uuid.New(), Status: models.MatchStatusPending}
	m.matches[match.ID] = match

	out := make([]models.MatchParticipant, 0, 2)
	for _, in := range players {
		p := &models.MatchParticipant{
			ID:       uuid.New(),
			MatchID:  match.ID,
			PlayerID: in.PlayerID,
			Rating:   in.Rating,
		}
		m.participants[p.ID] = p
		m.partsByMatch[match.ID] = append(m.partsByMatch[match.ID], p.ID)
		out = append(out, *p)
	}
	for n := models.RoundOne; n != 0; n = n.Next() {
		r := &models.MatchRound{
			ID:          uuid.New(),
			MatchID:     match.ID,
			RoundNumber: n,
			Status:      models.RoundStatusPending,
		}
		m.rounds[r.ID] = r
		m.roundsByMatch[match.ID] = append(m.roundsByMatch[match.ID], r.ID)
	}
	cp := *match
	return &cp, out, nil
}

func (m *memStore) GetParticipant(ctx context.Context, id uuid.UUID) (*models.MatchParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListParticipants(ctx context.Context, matchID uuid.UUID) ([]models.MatchParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.MatchParticipant, 0, 2)
	for _, id := range m.partsByMatch[matchID] {
		out = append(out, *m.participants[id])
	}
	return out, nil
}

func (m *memStore) ClaimAcceptance(ctx context.Context, participantID uuid.UUID, accepted bool) (*models.MatchParticipant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantID]
	if !ok {
		return nil, false, models.ErrNotFound
	}
	if p.HasAccepted != nil {
		return nil, false, nil
	}
	v := accepted
	p.HasAccepted = &v
	cp := *p
	return &cp, true, nil
}

func (m *memStore) TransitionMatch(ctx context.Context, matchID uuid.UUID, from, to models.MatchStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[matchID]
	if !ok || match.Status != from {
		return false, nil
	}
	match.Status = to
	return true, nil
}

func (m *memStore) GetRound(ctx context.Context, roundID uuid.UUID) (*models.MatchRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetRoundByNumber(ctx context.Context, matchID uuid.UUID, n models.RoundNumber) (*models.MatchRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.roundsByMatch[matchID] {
		if m.rounds[id].RoundNumber == n {
			cp := *m.rounds[id]
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) TransitionRound(ctx context.Context, roundID uuid.UUID, from, to models.MatchRoundStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundID]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (m *memStore) CreateRoundParticipants(ctx context.Context, roundID uuid.UUID, participants []NewRoundParticipant) ([]models.MatchRoundParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.MatchRoundParticipant, 0, len(participants))
	for _, in := range participants {
		rp := &models.MatchRoundParticipant{
			ID:             uuid.New(),
			RoundID:        roundID,
			ParticipantID:  in.ParticipantID,
			OrderSelected:  in.OrderSelected,
			QuestionsTotal: in.QuestionsTotal,
			Status:         models.RoundParticipantPending,
		}
		m.roundParts[rp.ID] = rp
		m.rpsByRound[roundID] = append(m.rpsByRound[roundID], rp.ID)
		out = append(out, *rp)
	}
	return out, nil
}

func (m *memStore) GetRoundParticipant(ctx context.Context, id uuid.UUID) (*models.MatchRoundParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.roundParts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *rp
	return &cp, nil
}

func (m *memStore) ListRoundParticipants(ctx context.Context, roundID uuid.UUID) ([]models.MatchRoundParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.MatchRoundParticipant, 0, 2)
	for _, id := range m.rpsByRound[roundID] {
		out = append(out, *m.roundParts[id])
	}
	return out, nil
}

func (m *memStore) StartSelectionTurn(ctx context.Context, roundParticipantID uuid.UUID, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.roundParts[roundParticipantID]
	if !ok {
		return models.ErrNotFound
	}
	if rp.Status == models.RoundParticipantPending {
		d := deadline
		rp.EndTimeSelected = &d
		rp.Status = models.RoundParticipantSelecting
	}
	return nil
}

func (m *memStore) ClaimCombatant(ctx context.Context, roundParticipantID, combatantID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.roundParts[roundParticipantID]
	if !ok {
		return false, models.ErrNotFound
	}
	if rp.Status != models.RoundParticipantSelecting || rp.SelectedCombatantID != nil {
		return false, nil
	}
	id := combatantID
	rp.SelectedCombatantID = &id
	return true, nil
}

func (m *memStore) TransitionRoundParticipant(ctx context.Context, roundParticipantID uuid.UUID, from, to models.RoundParticipantStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.roundParts[roundParticipantID]
	if !ok || rp.Status != from {
		return false, nil
	}
	rp.Status = to
	return true, nil
}

func (m *memStore) NextRoundParticipant(ctx context.Context, roundID uuid.UUID, afterOrder int) (*models.MatchRoundParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.MatchRoundParticipant
	for _, id := range m.rpsByRound[roundID] {
		rp := m.roundParts[id]
		if rp.OrderSelected <= afterOrder {
			continue
		}
		if best == nil || rp.OrderSelected < best.OrderSelected {
			best = rp
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) CountUnfinishedRoundParticipants(ctx context.Context, roundID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, id := range m.rpsByRound[roundID] {
		if m.roundParts[id].Status != models.RoundParticipantCompleted {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CompleteRoundParticipant(ctx context.Context, roundParticipantID uuid.UUID) (*models.MatchRoundParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.roundParts[roundParticipantID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if rp.Status != models.RoundParticipantCompleted {
		points := 0
		var totalMs int64
		for _, qid := range m.questionsByRP[roundParticipantID] {
			if entry, ok := m.logs[qid]; ok {
				points += entry.PointsEarned
				totalMs += entry.TimeAnswerMs
			}
		}
		rp.Points = points
		rp.TotalTimeMs = totalMs
		rp.Status = models.RoundParticipantCompleted
	}
	cp := *rp
	return &cp, nil
}

func (m *memStore) CreateRoundQuestions(ctx context.Context, questions []models.RoundQuestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range questions {
		cp := q
		m.questions[q.ID] = &cp
		m.questionsByRP[q.MatchRoundParticipantID] = append(m.questionsByRP[q.MatchRoundParticipantID], q.ID)
	}
	return nil
}

func (m *memStore) GetRoundQuestion(ctx context.Context, id uuid.UUID) (*models.RoundQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (m *memStore) StartRoundQuestion(ctx context.Context, questionID uuid.UUID, endTime time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionID]
	if !ok {
		return false, models.ErrNotFound
	}
	if q.EndTimeQuestion != nil {
		return false, nil
	}
	e := endTime
	q.EndTimeQuestion = &e
	return true, nil
}

func (m *memStore) ClaimAnswerLog(ctx context.Context, entry models.RoundQuestionAnswerLog) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.logs[entry.RoundQuestionID]; exists {
		return false, nil
	}
	cp := entry
	m.logs[entry.RoundQuestionID] = &cp
	return true, nil
}

func (m *memStore) NextRoundQuestion(ctx context.Context, roundParticipantID uuid.UUID, afterOrder int) (*models.RoundQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.RoundQuestion
	for _, id := range m.questionsByRP[roundParticipantID] {
		q := m.questions[id]
		if q.OrderNumber <= afterOrder {
			continue
		}
		if best == nil || q.OrderNumber < best.OrderNumber {
			best = q
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) MatchResults(ctx context.Context, matchID uuid.UUID) ([]ParticipantTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ParticipantTotals, 0, 2)
	for _, pid := range m.partsByMatch[matchID] {
		p := m.participants[pid]
		totals := ParticipantTotals{PlayerID: p.PlayerID}
		for _, rid := range m.roundsByMatch[matchID] {
			for _, rpid := range m.rpsByRound[rid] {
				rp := m.roundParts[rpid]
				if rp.ParticipantID == pid {
					totals.Points += rp.Points
					totals.TotalTimeMs += rp.TotalTimeMs
				}
			}
		}
		out = append(out, totals)
	}
	return out, nil
}

// scheduledJob is one captured Schedule call.
type scheduledJob struct {
	Delay time.Duration
	Job   scheduler.Job
}

// fakeScheduler records scheduled jobs instead of arming timers. Tests fire
// them by invoking the service's timeout handlers directly.
type fakeScheduler struct {
	mu   sync.Mutex
	jobs []scheduledJob
}

func (f *fakeScheduler) Schedule(delay time.Duration, job scheduler.Job) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = uuid.New()
	f.jobs = append(f.jobs, scheduledJob{Delay: delay, Job: job})
	return job.ID
}

func (f *fakeScheduler) Cancel(jobID uuid.UUID) {}

// take removes and returns all recorded jobs of a kind.
func (f *fakeScheduler) take(kind scheduler.JobKind) []scheduledJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var taken []scheduledJob
	var rest []scheduledJob
	for _, j := range f.jobs {
		if j.Job.Kind == kind {
			taken = append(taken, j)
		} else {
			rest = append(rest, j)
		}
	}
	f.jobs = rest
	return taken
}

// notification is one captured Notify call.
type notification struct {
	Players []uuid.UUID
	Kind    events.Kind
	Payload any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Notify(ctx context.Context, playerIDs []uuid.UUID, kind events.Kind, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{Players: playerIDs, Kind: kind, Payload: payload})
}

func (f *fakeNotifier) ofKind(kind events.Kind) []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notification
	for _, n := range f.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type fakeCatalog struct {
	byPlayer map[uuid.UUID][]catalog.Combatant
}

func (f *fakeCatalog) CombatantsForPlayer(ctx context.Context, playerID uuid.UUID) ([]catalog.Combatant, error) {
	return f.byPlayer[playerID], nil
}

type fakeBank struct {
	questions []catalog.Question
	answers   map[uuid.UUID][]catalog.Answer
	shortBy   int // questions withheld from each draw
}

func (f *fakeBank) Draw(ctx context.Context, n int) ([]catalog.Question, error) {
	n -= f.shortBy
	out := make([]catalog.Question, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, f.questions[i%len(f.questions)])
	}
	return out, nil
}

func (f *fakeBank) Answers(ctx context.Context, questionID uuid.UUID) ([]catalog.Answer, error) {
	return f.answers[questionID], nil
}

// fixture assembles a service over the in-memory fakes with two players who
// each own one combatant.
type fixture struct {
	store    *memStore
	sched    *fakeScheduler
	notes    *fakeNotifier
	clock    *clockwork.FakeClock
	bank     *fakeBank
	svc      *Service
	playerA  uuid.UUID
	playerB  uuid.UUID
	fighterA uuid.UUID
	fighterB uuid.UUID
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		store:    newMemStore(),
		sched:    &fakeScheduler{},
		notes:    &fakeNotifier{},
		clock:    clockwork.NewFakeClock(),
		playerA:  uuid.New(),
		playerB:  uuid.New(),
		fighterA: uuid.New(),
		fighterB: uuid.New(),
	}

	questionID := uuid.New()
	right := uuid.New()
	wrong := uuid.New()
	f.bank = &fakeBank{
		questions: []catalog.Question{{ID: questionID, TimeLimitMs: 10000, BasePoints: 100}},
		answers: map[uuid.UUID][]catalog.Answer{
			questionID: {
				{ID: right, QuestionID: questionID, IsCorrect: true},
				{ID: wrong, QuestionID: questionID, IsCorrect: false},
			},
		},
	}

	combatants := &fakeCatalog{byPlayer: map[uuid.UUID][]catalog.Combatant{
		f.playerA: {{ID: f.fighterA, Name: "A"}},
		f.playerB: {{ID: f.fighterB, Name: "B"}},
	}}

	f.svc = NewService(f.store, f.sched, f.notes, combatants, f.bank, f.clock, cfg)
	return f
}

// correctAnswer returns the correct answer ID for the fixture's only bank
// question.
func (f *fixture) correctAnswer() uuid.UUID {
	for _, a := range f.bank.answers[f.bank.questions[0].ID] {
		if a.IsCorrect {
			return a.ID
		}
	}
	panic("fixture bank has no correct answer")
}

// pair creates a match for the fixture's two players and returns the
// participants in creation order (player A first).
func (f *fixture) pair(t *testing.T) []models.MatchParticipant {
	t.Helper()
	err := f.svc.OnPairFormed(context.Background(), matchEntry(f.playerA, 1000), matchEntry(f.playerB, 1100))
	if err != nil {
		t.Fatalf("OnPairFormed() error = %v", err)
	}
	var matchID uuid.UUID
	for id := range f.store.matches {
		matchID = id
	}
	parts, err := f.store.ListParticipants(context.Background(), matchID)
	if err != nil {
		t.Fatalf("ListParticipants() error = %v", err)
	}
	return parts
}

// roundByNumber reads a round straight out of the store.
func (f *fixture) roundByNumber(t *testing.T, matchID uuid.UUID, n models.RoundNumber) *models.MatchRound {
	t.Helper()
	round, err := f.store.GetRoundByNumber(context.Background(), matchID, n)
	if err != nil {
		t.Fatalf("GetRoundByNumber(%d) error = %v", n, err)
	}
	return round
}

// orderedRPs returns a round's slots sorted by turn order.
func (f *fixture) orderedRPs(t *testing.T, roundID uuid.UUID) []models.MatchRoundParticipant {
	t.Helper()
	rps, err := f.store.ListRoundParticipants(context.Background(), roundID)
	if err != nil {
		t.Fatalf("ListRoundParticipants() error = %v", err)
	}
	sort.Slice(rps, func(i, j int) bool { return rps[i].OrderSelected < rps[j].OrderSelected })
	return rps
}

// combatantFor resolves the combatant the slot's player owns.
func (f *fixture) combatantFor(t *testing.T, rp models.MatchRoundParticipant) uuid.UUID {
	t.Helper()
	part, err := f.store.GetParticipant(context.Background(), rp.ParticipantID)
	if err != nil {
		t.Fatalf("GetParticipant() error = %v", err)
	}
	if part.PlayerID == f.playerA {
		return f.fighterA
	}
	return f.fighterB
}

// openQuestion returns the slot's question that has a running countdown and
// no answer log yet.
func (f *fixture) openQuestion(t *testing.T, roundParticipantID uuid.UUID) models.RoundQuestion {
	t.Helper()
	for _, qid := range f.store.questionsByRP[roundParticipantID] {
		q := f.store.questions[qid]
		if q.EndTimeQuestion == nil {
			continue
		}
		if _, resolved := f.store.logs[qid]; resolved {
			continue
		}
		return *q
	}
	t.Fatal("no open question for round participant")
	return models.RoundQuestion{}
}

// playRound drives one round to completion: both slots pick their combatant
// in turn order, then answer every question correctly.
func (f *fixture) playRound(t *testing.T, matchID uuid.UUID, n models.RoundNumber) {
	t.Helper()
	round := f.roundByNumber(t, matchID, n)
	rps := f.orderedRPs(t, round.ID)
	for _, rp := range rps {
		if err := f.svc.SelectCombatant(context.Background(), rp.ID, f.combatantFor(t, rp)); err != nil {
			t.Fatalf("SelectCombatant() error = %v", err)
		}
	}
	for _, rp := range rps {
		for i := 0; i < rp.QuestionsTotal; i++ {
			q := f.openQuestion(t, rp.ID)
			if err := f.svc.SubmitAnswer(context.Background(), q.ID, f.correctAnswer()); err != nil {
				t.Fatalf("SubmitAnswer() error = %v", err)
			}
		}
	}
}

// acceptBoth drives the fixture's match through a successful handshake.
func (f *fixture) acceptBoth(t *testing.T) []models.MatchParticipant {
	t.Helper()
	parts := f.pair(t)
	for _, p := range parts {
		if err := f.svc.RespondToMatch(context.Background(), p.ID, true); err != nil {
			t.Fatalf("RespondToMatch(%s) error = %v", p.ID, err)
		}
	}
	return parts
}
