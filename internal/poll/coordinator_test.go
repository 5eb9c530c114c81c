package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meeting-live/internal/apperr"
	"meeting-live/internal/db"
	"meeting-live/internal/directory"
	"meeting-live/internal/notify"
	"meeting-live/internal/store"
	"meeting-live/internal/testdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordedEvent struct {
	sessionID uint
	kind      string
	payload   any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(sessionID uint, kind string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{sessionID: sessionID, kind: kind, payload: payload})
	return nil
}

func (p *recordingPublisher) count(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, event := range p.events {
		if event.kind == kind {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) last(kind string) (recordedEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].kind == kind {
			return p.events[i], true
		}
	}
	return recordedEvent{}, false
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	conn     *gorm.DB
	store    *store.Store
	pub      *recordingPublisher
	clock    *testClock
	dir      *directory.Static
	notified []notify.Message
	coord    *Coordinator
	session  uint
}

func newFixture(t *testing.T, leadIn time.Duration) *fixture {
	t.Helper()
	conn := testdb.Open(t)
	f := &fixture{
		conn:    conn,
		store:   store.New(conn),
		pub:     &recordingPublisher{},
		clock:   &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		dir:     directory.NewStatic(),
		session: testdb.SeedMeeting(t, conn, "All hands"),
	}
	var mu sync.Mutex
	f.coord = NewCoordinator(f.store, f.pub, Options{
		Directory: f.dir,
		Sessions:  directory.NewDB(conn),
		Notifier: notify.Func(func(_ context.Context, msg notify.Message) error {
			mu.Lock()
			defer mu.Unlock()
			f.notified = append(f.notified, msg)
			return nil
		}),
		Now:            f.clock.Now,
		PersistTimeout: time.Second,
		LeadIn:         leadIn,
	})
	return f
}

func (f *fixture) create(t *testing.T, in CreateInput) Poll {
	t.Helper()
	if in.Title == "" {
		in.Title = "Lunch"
	}
	if len(in.Options) == 0 {
		in.Options = []string{"Noodles", "Rice", "Salad"}
	}
	if in.DurationSeconds == 0 {
		in.DurationSeconds = 60
	}
	poll, err := f.coord.Create(context.Background(), f.session, in)
	require.NoError(t, err)
	return poll
}

func (f *fixture) started(t *testing.T, in CreateInput) Poll {
	t.Helper()
	poll := f.create(t, in)
	started, err := f.coord.Start(context.Background(), poll.ID)
	require.NoError(t, err)
	return started
}

func (f *fixture) vote(t *testing.T, pollID uint, voterID string, optionIDs ...uint) Tally {
	t.Helper()
	out, err := f.coord.Submit(context.Background(), pollID, SubmitInput{VoterID: voterID, OptionIDs: optionIDs})
	require.NoError(t, err)
	return out
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateInput
	}{
		{"missing title", CreateInput{Title: " ", Options: []string{"a", "b"}, DurationSeconds: 10}},
		{"one option", CreateInput{Title: "Q", Options: []string{"a"}, DurationSeconds: 10}},
		{"blank option", CreateInput{Title: "Q", Options: []string{"a", " "}, DurationSeconds: 10}},
		{"zero duration", CreateInput{Title: "Q", Options: []string{"a", "b"}}},
		{"max selections above options", CreateInput{Title: "Q", Options: []string{"a", "b"}, MultiSelect: true, MaxSelections: 3, DurationSeconds: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.coord.Create(ctx, f.session, tc.in)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "got %v", err)
		})
	}

	tooMany := make([]string, maxOptions+1)
	for i := range tooMany {
		tooMany[i] = "option"
	}
	_, err := f.coord.Create(ctx, f.session, CreateInput{Title: "Q", Options: tooMany, DurationSeconds: 10})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.coord.Create(ctx, f.session+40, CreateInput{Title: "Q", Options: []string{"a", "b"}, DurationSeconds: 10})
	assert.True(t, apperr.Is(err, apperr.CodeSessionNotFound))
}

func TestCreateDefaultsMaxSelections(t *testing.T) {
	f := newFixture(t, 0)

	single := f.create(t, CreateInput{MaxSelections: 3})
	assert.Equal(t, 1, single.MaxSelections, "single choice polls always allow one selection")
	assert.Equal(t, db.PollDraft, single.Status)
	require.Len(t, single.Options, 3)
	assert.Equal(t, "Noodles", single.Options[0].Content)

	multi := f.create(t, CreateInput{MultiSelect: true})
	assert.Equal(t, 3, multi.MaxSelections)
}

func TestSingleVotePerVoter(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	poll := f.started(t, CreateInput{DurationSeconds: 60})
	target := poll.Options[1].ID

	out := f.vote(t, poll.ID, "X", target)
	assert.Equal(t, 1, out.TotalVoters)

	_, err := f.coord.Submit(ctx, poll.ID, SubmitInput{VoterID: "X", OptionIDs: []uint{poll.Options[0].ID}})
	assert.True(t, apperr.Is(err, apperr.CodeAlreadyVoted), "expected ALREADY_VOTED, got %v", err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	results, err := f.coord.Results(ctx, poll.ID)
	require.NoError(t, err)
	require.Len(t, results.Results, 3)
	assert.Equal(t, target, results.Results[1].OptionID)
	assert.Equal(t, 1, results.Results[1].Count)
	assert.Equal(t, 100.0, results.Results[1].Percent)
	assert.Equal(t, 0, results.Results[0].Count)
	assert.Equal(t, 0.0, results.Results[0].Percent)

	assert.Equal(t, 1, f.pub.count(EventUpdate))
}

func TestSubmitSelectionRules(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	poll := f.started(t, CreateInput{MultiSelect: true, MaxSelections: 2, Options: []string{"A", "B", "C", "D"}})
	a, b, c := poll.Options[0].ID, poll.Options[1].ID, poll.Options[2].ID

	_, err := f.coord.Submit(ctx, poll.ID, SubmitInput{VoterID: "v1"})
	assert.True(t, apperr.Is(err, apperr.CodeNoSelection))

	_, err = f.coord.Submit(ctx, poll.ID, SubmitInput{VoterID: "v1", OptionIDs: []uint{a, b, c}})
	assert.True(t, apperr.Is(err, apperr.CodeTooManySelections))

	_, err = f.coord.Submit(ctx, poll.ID, SubmitInput{VoterID: "v1", OptionIDs: []uint{a, 9999}})
	assert.True(t, apperr.Is(err, apperr.CodeUnknownOption))

	_, err = f.coord.Submit(ctx, poll.ID, SubmitInput{OptionIDs: []uint{a}})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	out := f.vote(t, poll.ID, "v1", a, a, b)
	assert.Equal(t, 1, out.Results[0].Count, "duplicate ids count once")
	assert.Equal(t, 1, out.Results[1].Count)

	ballots, err := f.store.ListBallots(ctx, poll.ID)
	require.NoError(t, err)
	assert.Len(t, ballots, 2)
}

func TestSubmitRequiresOpenPoll(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	draft := f.create(t, CreateInput{})

	_, err := f.coord.Submit(ctx, draft.ID, SubmitInput{VoterID: "v", OptionIDs: []uint{draft.Options[0].ID}})
	assert.True(t, apperr.Is(err, apperr.CodePollNotActive))

	poll := f.started(t, CreateInput{DurationSeconds: 30})
	f.clock.Advance(30 * time.Second)
	_, err = f.coord.Submit(ctx, poll.ID, SubmitInput{VoterID: "v", OptionIDs: []uint{poll.Options[0].ID}})
	assert.True(t, apperr.Is(err, apperr.CodePollExpired), "expected POLL_EXPIRED at the deadline, got %v", err)

	_, err = f.coord.Submit(ctx, 4242, SubmitInput{VoterID: "v", OptionIDs: []uint{1}})
	assert.True(t, apperr.Is(err, apperr.CodePollNotFound))
}

func TestLeadInDelaysVoting(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ctx := context.Background()
	poll := f.started(t, CreateInput{DurationSeconds: 30})

	event, ok := f.pub.last(EventStart)
	require.True(t, ok)
	start := event.payload.(startEvent)
	assert.Equal(t, 5, start.WaitSeconds)
	assert.Equal(t, 30, start.Duration)
	assert.Equal(t, f.clock.Now().Add(5*time.Second), start.StartTime)

	state, err := f.coord.State(ctx, poll.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 5, state.WaitSeconds)
	assert.Equal(t, 35, state.RemainingSeconds)

	_, err = f.coord.Submit(ctx, poll.ID, SubmitInput{VoterID: "early", OptionIDs: []uint{poll.Options[0].ID}})
	assert.True(t, apperr.Is(err, apperr.CodePollNotActive))

	f.clock.Advance(5 * time.Second)
	f.vote(t, poll.ID, "early", poll.Options[0].ID)
}

func TestStartOnlyFromDraft(t *testing.T) {
	f := newFixture(t, 0)
	poll := f.started(t, CreateInput{})
	_, err := f.coord.Start(context.Background(), poll.ID)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
	assert.Equal(t, 1, f.pub.count(EventStart))
}

func TestCloseTransitions(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	draft := f.create(t, CreateInput{})
	_, _, err := f.coord.Close(ctx, draft.ID)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))

	_, _, err = f.coord.Close(ctx, 777)
	assert.True(t, apperr.Is(err, apperr.CodePollNotFound))

	poll := f.started(t, CreateInput{})
	f.vote(t, poll.ID, "a", poll.Options[0].ID)
	out, closed, err := f.coord.Close(ctx, poll.ID)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, 1, out.TotalVoters)

	again, closed, err := f.coord.Close(ctx, poll.ID)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, out.TotalVoters, again.TotalVoters)
	assert.Equal(t, 1, f.pub.count(EventClose))
	require.Len(t, f.notified, 1)
	assert.Equal(t, EventClose, f.notified[0].Type)

	_, err = f.coord.Submit(ctx, poll.ID, SubmitInput{VoterID: "b", OptionIDs: []uint{poll.Options[0].ID}})
	assert.True(t, apperr.Is(err, apperr.CodePollNotActive))

	state, err := f.coord.State(ctx, poll.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, db.PollClosed, state.Poll.Status)
	assert.True(t, state.HasVoted)
	assert.Zero(t, state.RemainingSeconds)
}

func TestConcurrentClosesBroadcastOnce(t *testing.T) {
	f := newFixture(t, 0)
	poll := f.started(t, CreateInput{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, closed, err := f.coord.Close(context.Background(), poll.ID)
			assert.NoError(t, err)
			if closed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, f.pub.count(EventClose))
}

func TestAnonymousPollsHideVoters(t *testing.T) {
	f := newFixture(t, 0)
	f.dir.AddProfile(directory.Profile{ID: "e1", Name: "Zhou Min"})

	named := f.started(t, CreateInput{Title: "Named"})
	out := f.vote(t, named.ID, "e1", named.Options[2].ID)
	assert.Equal(t, []string{"Zhou Min"}, out.Results[2].Voters)

	secret := f.started(t, CreateInput{Title: "Secret", Anonymous: true})
	out = f.vote(t, secret.ID, "e1", secret.Options[2].ID)
	assert.Equal(t, 1, out.Results[2].Count)
	assert.Nil(t, out.Results[2].Voters)

	event, ok := f.pub.last(EventUpdate)
	require.True(t, ok)
	for _, result := range event.payload.(Tally).Results {
		assert.Empty(t, result.Voters)
	}
}

func TestPercentUsesDistinctVoters(t *testing.T) {
	f := newFixture(t, 0)
	poll := f.started(t, CreateInput{MultiSelect: true})
	a, b, c := poll.Options[0].ID, poll.Options[1].ID, poll.Options[2].ID

	f.vote(t, poll.ID, "v1", a, b)
	f.vote(t, poll.ID, "v2", a)
	out := f.vote(t, poll.ID, "v3", c)

	assert.Equal(t, 3, out.TotalVoters)
	assert.Equal(t, 66.7, out.Results[0].Percent)
	assert.Equal(t, 33.3, out.Results[1].Percent)
	assert.Equal(t, 33.3, out.Results[2].Percent)
}

func TestListAndActive(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	active, err := f.coord.ActiveForSession(ctx, f.session, "")
	require.NoError(t, err)
	assert.Nil(t, active)

	f.create(t, CreateInput{Title: "Later"})
	running := f.started(t, CreateInput{Title: "Now"})
	f.vote(t, running.ID, "v1", running.Options[0].ID)

	polls, err := f.coord.ListBySession(ctx, f.session, "")
	require.NoError(t, err)
	require.Len(t, polls, 2)
	assert.Equal(t, "Now", polls[0].Title)
	assert.False(t, polls[0].HasVoted)

	active, err = f.coord.ActiveForSession(ctx, f.session, "v1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, running.ID, active.Poll.ID)
	assert.True(t, active.HasVoted)
	assert.Equal(t, 60, active.RemainingSeconds)
}

func TestListBySessionForVoter(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	draft := f.create(t, CreateInput{Title: "Later"})
	running := f.started(t, CreateInput{Title: "Now"})
	f.vote(t, running.ID, "v1", running.Options[0].ID)
	f.clock.Advance(15 * time.Second)

	polls, err := f.coord.ListBySession(ctx, f.session, "v1")
	require.NoError(t, err)
	require.Len(t, polls, 2)
	assert.Equal(t, running.ID, polls[0].ID)
	assert.True(t, polls[0].HasVoted)
	assert.Equal(t, 45, polls[0].RemainingSeconds)
	assert.Equal(t, draft.ID, polls[1].ID)
	assert.False(t, polls[1].HasVoted)
	assert.Zero(t, polls[1].RemainingSeconds, "drafts have no countdown")

	polls, err = f.coord.ListBySession(ctx, f.session, "v2")
	require.NoError(t, err)
	assert.False(t, polls[0].HasVoted)
}

func TestVoterHistory(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	var voted []uint
	for _, title := range []string{"First", "Second", "Third"} {
		poll := f.started(t, CreateInput{Title: title})
		f.vote(t, poll.ID, "v1", poll.Options[0].ID)
		voted = append(voted, poll.ID)
		f.clock.Advance(time.Second)
		_, _, err := f.coord.Close(ctx, poll.ID)
		require.NoError(t, err)
	}
	skipped := f.started(t, CreateInput{Title: "Skipped"})
	f.vote(t, skipped.ID, "v2", skipped.Options[0].ID)

	page, err := f.coord.VoterHistory(ctx, "v1", 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Polls, 2)
	assert.Equal(t, voted[2], page.Polls[0].ID)
	assert.Equal(t, voted[1], page.Polls[1].ID)
	for _, poll := range page.Polls {
		assert.True(t, poll.HasVoted)
	}

	page, err = f.coord.VoterHistory(ctx, "v1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Polls, 1)
	assert.Equal(t, voted[0], page.Polls[0].ID)

	page, err = f.coord.VoterHistory(ctx, "nobody", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Polls)
	assert.Zero(t, page.Total)
	assert.Equal(t, 20, page.Limit)

	_, err = f.coord.VoterHistory(ctx, " ", 0, 10)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.coord.VoterHistory(ctx, "v1", -1, 10)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

// brokenTally stores ballots but cannot read them back.
type brokenTally struct {
	*store.Store
}

func (brokenTally) ListBallots(context.Context, uint) ([]db.Ballot, error) {
	return nil, errors.New("read replica lagging")
}

func TestSubmitSurvivesTallyFailure(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	poll := f.started(t, CreateInput{})

	coord := NewCoordinator(brokenTally{f.store}, f.pub, Options{
		Directory:      f.dir,
		Now:            f.clock.Now,
		PersistTimeout: time.Second,
	})
	out, err := coord.Submit(ctx, poll.ID, SubmitInput{VoterID: "v1", OptionIDs: []uint{poll.Options[0].ID}})
	require.NoError(t, err)
	assert.Equal(t, poll.ID, out.PollID)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)

	voted, err := f.store.HasVoted(ctx, poll.ID, "v1")
	require.NoError(t, err)
	assert.True(t, voted, "the ballot is committed even though the tally failed")
}
