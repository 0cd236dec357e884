package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/database/mock"
	"github.com/kozaktomas/facegate/internal/facematch"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *mock.Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := mock.NewStore()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(store, store, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...), store, clock
}

func TestCanRecord_DuplicateWindow(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()
	window := 30 * time.Minute

	ok, err := l.CanRecord(ctx, "alice", database.CheckIn, window, clock.Now())
	require.NoError(t, err)
	assert.True(t, ok, "first check-in must be allowed")

	_, err = l.RecordAdmissibleEvent(ctx, facematch.Match{OwnerID: "alice", Confidence: 0.95}, database.CheckIn, "d1", clock.Now())
	require.NoError(t, err)

	clock.Advance(time.Minute)
	ok, err = l.CanRecord(ctx, "alice", database.CheckIn, window, clock.Now())
	require.NoError(t, err)
	assert.False(t, ok, "second check-in inside the window must be rejected")

	ok, err = l.CanRecord(ctx, "alice", database.CheckOut, window, clock.Now())
	require.NoError(t, err)
	assert.True(t, ok, "window is per kind")

	ok, err = l.CanRecord(ctx, "bob", database.CheckIn, window, clock.Now())
	require.NoError(t, err)
	assert.True(t, ok, "window is per owner")

	clock.Advance(window)
	ok, err = l.CanRecord(ctx, "alice", database.CheckIn, window, clock.Now())
	require.NoError(t, err)
	assert.True(t, ok, "after the window elapses the kind is accepted again")
}

func TestCanRecord_BackdatedAttempts(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()
	window := 30 * time.Minute
	m := facematch.Match{OwnerID: "alice", Confidence: 0.95}

	// A device uploads its offline queue hours after capture.
	queued := clock.Now().Add(-3 * time.Hour)
	ok, err := l.CanRecord(ctx, "alice", database.CheckIn, window, queued)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = l.RecordAdmissibleEvent(ctx, m, database.CheckIn, "d1", queued)
	require.NoError(t, err)

	ok, err = l.CanRecord(ctx, "alice", database.CheckIn, window, queued.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "second backdated check-in inside the window")

	ok, err = l.CanRecord(ctx, "alice", database.CheckIn, window, queued.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "an earlier capture replayed after a later one")

	ok, err = l.CanRecord(ctx, "alice", database.CheckIn, window, queued.Add(window))
	require.NoError(t, err)
	assert.True(t, ok, "window boundary is exclusive")

	ok, err = l.CanRecord(ctx, "alice", database.CheckIn, window, time.Time{})
	require.NoError(t, err)
	assert.True(t, ok, "zero time is measured from now")
}

func TestCanRecord_IgnoresFailedAttempts(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordAttempt(ctx, facematch.NoMatch{}, "h", "d1", AttemptContext{Kind: database.CheckIn, ClaimedOwnerID: "alice", At: clock.Now()})
	require.NoError(t, err)

	ok, err := l.CanRecord(ctx, "alice", database.CheckIn, time.Hour, clock.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecordAttempt_NumbersAttempts(t *testing.T) {
	l, store, clock := newTestLedger(t)
	ctx := context.Background()

	first, err := l.RecordAttempt(ctx, facematch.NoMatch{}, "h1", "d1", AttemptContext{Kind: database.CheckIn, ClaimedOwnerID: "alice", At: clock.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, first.AttemptNumber)
	assert.Nil(t, first.PreviousAttemptAt)
	assert.False(t, first.Success)
	assert.Equal(t, msgNoMatch, first.ErrorMessage)
	assert.Equal(t, "alice", first.OwnerID)

	clock.Advance(10 * time.Second)
	second, err := l.RecordAttempt(ctx, facematch.Match{OwnerID: "alice", Confidence: 0.9}, "h2", "d1", AttemptContext{Kind: database.CheckIn, At: clock.Now()})
	require.NoError(t, err)
	assert.Equal(t, 2, second.AttemptNumber)
	require.NotNil(t, second.PreviousAttemptAt)
	assert.True(t, second.PreviousAttemptAt.Equal(first.Timestamp))
	assert.True(t, second.Success)
	assert.Empty(t, second.ErrorMessage)
	assert.Equal(t, 0.9, second.Confidence)

	// Different kind starts a new sequence.
	out, err := l.RecordAttempt(ctx, facematch.Match{OwnerID: "alice", Confidence: 0.9}, "h3", "d1", AttemptContext{Kind: database.CheckOut, At: clock.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, out.AttemptNumber)

	// Outside the horizon the count resets.
	clock.Advance(DefaultHorizon + time.Minute)
	later, err := l.RecordAttempt(ctx, facematch.Match{OwnerID: "alice", Confidence: 0.9}, "h4", "d1", AttemptContext{Kind: database.CheckIn, At: clock.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, later.AttemptNumber)

	assert.Len(t, store.Audits(), 4)
}

func TestRecordAttempt_RejectionIsFailure(t *testing.T) {
	l, store, clock := newTestLedger(t)

	rec, err := l.RecordAttempt(context.Background(), facematch.Match{OwnerID: "bob", Confidence: 0.88}, "h", "d1",
		AttemptContext{Kind: database.CheckIn, At: clock.Now(), Rejection: "duplicate check_in within 30m0s"})
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, "duplicate check_in within 30m0s", rec.ErrorMessage)
	assert.Empty(t, store.Events(), "a rejected attempt never creates an event")
}

func TestRecordAttempt_AuditStoreDown(t *testing.T) {
	l, store, clock := newTestLedger(t)
	store.InsertAuditError = errors.New("disk full")

	rec, err := l.RecordAttempt(context.Background(), facematch.NoMatch{}, "h", "d1", AttemptContext{Kind: database.CheckIn, At: clock.Now()})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Empty(t, store.Audits())
}

func TestRecordAdmissibleEvent_Pairing(t *testing.T) {
	l, store, clock := newTestLedger(t)
	ctx := context.Background()
	m := facematch.Match{OwnerID: "alice", Confidence: 0.93}

	in, err := l.RecordAdmissibleEvent(ctx, m, database.CheckIn, "d1", clock.Now())
	require.NoError(t, err)
	require.NotEmpty(t, in.PairID)

	clock.Advance(8 * time.Hour)
	out, err := l.RecordAdmissibleEvent(ctx, m, database.CheckOut, "d1", clock.Now())
	require.NoError(t, err)
	assert.Equal(t, in.PairID, out.PairID)

	// The pair is closed, so a second check-out stays unpaired.
	clock.Advance(time.Hour)
	again, err := l.RecordAdmissibleEvent(ctx, m, database.CheckOut, "d1", clock.Now())
	require.NoError(t, err)
	assert.Empty(t, again.PairID)

	// A new check-in gets a different pair id.
	clock.Advance(time.Hour)
	in2, err := l.RecordAdmissibleEvent(ctx, m, database.CheckIn, "d1", clock.Now())
	require.NoError(t, err)
	assert.NotEqual(t, in.PairID, in2.PairID)

	assert.Len(t, store.Events(), 4)
}

func TestRecordAdmissibleEvent_Schedule(t *testing.T) {
	l, _, clock := newTestLedger(t, WithSchedule(Schedule{
		WorkStart: 8 * time.Hour,
		WorkEnd:   16 * time.Hour,
		Grace:     10 * time.Minute,
		Location:  time.UTC,
	}))
	ctx := context.Background()
	m := facematch.Match{OwnerID: "alice", Confidence: 0.93}

	// 09:00 is past 08:10.
	in, err := l.RecordAdmissibleEvent(ctx, m, database.CheckIn, "d1", clock.Now())
	require.NoError(t, err)
	assert.True(t, in.IsLate)

	out, err := l.RecordAdmissibleEvent(ctx, m, database.CheckOut, "d1", clock.Now().Add(6*time.Hour))
	require.NoError(t, err)
	assert.True(t, out.IsEarlyDeparture)

	late, err := l.RecordAdmissibleEvent(ctx, m, database.CheckOut, "d1", clock.Now().Add(8*time.Hour))
	require.NoError(t, err)
	assert.False(t, late.IsEarlyDeparture)
}

func TestRecordAdmissibleEvent_InsertError(t *testing.T) {
	l, store, clock := newTestLedger(t)
	store.InsertEventError = errors.New("boom")

	_, err := l.RecordAdmissibleEvent(context.Background(), facematch.Match{OwnerID: "a", Confidence: 1}, database.CheckIn, "d1", clock.Now())
	require.Error(t, err)
}

func TestLastEventForOwner(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()
	m := facematch.Match{OwnerID: "alice", Confidence: 0.93}

	none, err := l.LastEventForOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = l.RecordAdmissibleEvent(ctx, m, database.CheckIn, "d1", clock.Now())
	require.NoError(t, err)
	out, err := l.RecordAdmissibleEvent(ctx, m, database.CheckOut, "d1", clock.Now().Add(time.Hour))
	require.NoError(t, err)

	last, err := l.LastEventForOwner(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, out.ID, last.ID)
}

func TestRecentFailures(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.RecordAttempt(ctx, facematch.NoMatch{}, "h", "d1", AttemptContext{Kind: database.CheckIn, ClaimedOwnerID: "mallory", At: clock.Now()})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	n, err := l.RecentFailures(ctx, "mallory", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeleteOlderThan(t *testing.T) {
	l, store, clock := newTestLedger(t)
	ctx := context.Background()
	m := facematch.Match{OwnerID: "alice", Confidence: 0.93}

	_, err := l.RecordAdmissibleEvent(ctx, m, database.CheckIn, "d1", clock.Now())
	require.NoError(t, err)
	_, err = l.RecordAttempt(ctx, m, "h", "d1", AttemptContext{Kind: database.CheckIn, At: clock.Now()})
	require.NoError(t, err)

	n, err := l.DeleteOlderThan(ctx, clock.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, store.Events())
	assert.Empty(t, store.Audits())
}

type compactingStore struct {
	*mock.Store
	compactions int
	err         error
}

func (s *compactingStore) Compact(ctx context.Context) error {
	s.compactions++
	return s.err
}

func TestDeleteOlderThan_CompactsOncePerStore(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := &compactingStore{Store: mock.NewStore()}
	l := New(store, store, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(clock.Now))
	ctx := context.Background()

	n, err := l.DeleteOlderThan(ctx, clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, store.compactions, "nothing deleted, nothing to reclaim")

	m := facematch.Match{OwnerID: "alice", Confidence: 0.93}
	_, err = l.RecordAttempt(ctx, m, "h", "d1", AttemptContext{Kind: database.CheckIn, At: clock.Now()})
	require.NoError(t, err)
	_, err = l.RecordAdmissibleEvent(ctx, m, database.CheckIn, "d1", clock.Now())
	require.NoError(t, err)

	store.err = errors.New("disk busy")
	n, err = l.DeleteOlderThan(ctx, clock.Now().Add(time.Second))
	require.NoError(t, err, "a failed compaction does not undo the prune")
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, store.compactions)
}

func TestSchedule_Disabled(t *testing.T) {
	var s Schedule
	now := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	assert.False(t, s.IsLate(now))
	assert.False(t, s.IsEarlyDeparture(now))
}
