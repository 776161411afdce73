package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"visualizer-backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemoryStore().WithClock(clock.Now), clock
}

func seed(t *testing.T, s *MemoryStore, userID string) *models.Visualization {
	t.Helper()
	v := &models.Visualization{
		UserID:         userID,
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Prompt:         "Explain the Pythagorean theorem",
	}
	require.NoError(t, s.Create(context.Background(), v))
	return v
}

func TestMemoryCreateAssignsDefaults(t *testing.T) {
	s, clock := newTestStore()
	v := seed(t, s, "user-1")

	assert.NotEqual(t, uuid.Nil, v.ID)
	assert.Equal(t, models.StatusPending, v.Status)
	assert.Equal(t, clock.Now(), v.CreatedAt)
	assert.Equal(t, 1, v.Version)

	got, err := s.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.Prompt, got.Prompt)
}

func TestMemoryGetUnknown(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	v := seed(t, s, "user-1")

	require.NoError(t, s.Transition(ctx, v.ID, models.StatusPending, models.StatusGeneratingScript, models.Artifacts{}))

	err := s.Transition(ctx, v.ID, models.StatusPending, models.StatusGeneratingScript, models.Artifacts{})
	assert.ErrorIs(t, err, ErrConflict)

	err = s.Transition(ctx, v.ID, models.StatusGeneratingScript, models.StatusGeneratingManim, models.Artifacts{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = s.Transition(ctx, uuid.New(), models.StatusGeneratingScript, models.StatusGeneratingAudio, models.Artifacts{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTransitionWritesArtifactsOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	v := seed(t, s, "user-1")

	require.NoError(t, s.Transition(ctx, v.ID, models.StatusPending, models.StatusGeneratingScript, models.Artifacts{}))
	require.NoError(t, s.Transition(ctx, v.ID, models.StatusGeneratingScript, models.StatusGeneratingAudio,
		models.Artifacts{Script: "a squared plus b squared"}))

	got, err := s.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusGeneratingAudio, got.Status)
	assert.Equal(t, "a squared plus b squared", got.Script)
	assert.Empty(t, got.AudioURL)
	assert.Equal(t, 3, got.Version)

	require.NoError(t, s.Transition(ctx, v.ID, models.StatusGeneratingAudio, models.StatusGeneratingManim,
		models.Artifacts{Script: "overwritten", AudioURL: "https://cdn/a.mp3"}))
	got, err = s.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "a squared plus b squared", got.Script)
	assert.Equal(t, "https://cdn/a.mp3", got.AudioURL)
}

func TestMemoryClaimLease(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()
	v := seed(t, s, "user-1")
	lease := time.Minute

	require.NoError(t, s.Transition(ctx, v.ID, models.StatusPending, models.StatusGeneratingScript, models.Artifacts{}))

	require.NoError(t, s.Claim(ctx, v.ID, models.StatusGeneratingScript, clock.Now().Add(-lease)))
	assert.ErrorIs(t, s.Claim(ctx, v.ID, models.StatusGeneratingScript, clock.Now().Add(-lease)), ErrConflict)
	assert.ErrorIs(t, s.Claim(ctx, v.ID, models.StatusGeneratingAudio, clock.Now().Add(-lease)), ErrConflict)

	clock.Advance(2 * lease)
	assert.NoError(t, s.Claim(ctx, v.ID, models.StatusGeneratingScript, clock.Now().Add(-lease)), "expired lease is reclaimable")

	require.NoError(t, s.Transition(ctx, v.ID, models.StatusGeneratingScript, models.StatusGeneratingAudio, models.Artifacts{Script: "s"}))
	got, err := s.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ClaimedAt, "transition releases the lease")
}

func TestMemoryConcurrentClaimsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()
	v := seed(t, s, "user-1")
	require.NoError(t, s.Transition(ctx, v.ID, models.StatusPending, models.StatusGeneratingScript, models.Artifacts{}))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Claim(ctx, v.ID, models.StatusGeneratingScript, clock.Now().Add(-time.Minute)) == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestMemoryFailIsTerminal(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	v := seed(t, s, "user-1")
	require.NoError(t, s.Transition(ctx, v.ID, models.StatusPending, models.StatusGeneratingScript, models.Artifacts{}))

	require.NoError(t, s.Fail(ctx, v.ID, models.StatusGeneratingScript, "Gemini API error: 500"))

	got, err := s.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "Gemini API error: 500", got.ErrorMessage)

	assert.ErrorIs(t, s.Fail(ctx, v.ID, models.StatusFailed, "again"), ErrInvalidTransition)
	assert.ErrorIs(t, s.Transition(ctx, v.ID, models.StatusFailed, models.StatusGeneratingAudio, models.Artifacts{}), ErrInvalidTransition)
}

func TestMemoryListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()

	first := seed(t, s, "user-1")
	clock.Advance(time.Second)
	second := seed(t, s, "user-1")
	clock.Advance(time.Second)
	other := &models.Visualization{UserID: "user-1", ConversationID: "conv-2", MessageID: "m", Prompt: "p"}
	require.NoError(t, s.Create(ctx, other))
	seed(t, s, "user-2")

	all, err := s.List(ctx, ListQuery{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, other.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
	assert.Equal(t, first.ID, all[2].ID)

	conv, err := s.List(ctx, ListQuery{UserID: "user-1", ConversationID: "conv-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, second.ID, conv[0].ID)
}

func TestMemoryStalled(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()

	idle := seed(t, s, "user-1")
	leased := seed(t, s, "user-1")
	done := seed(t, s, "user-1")
	require.NoError(t, s.Transition(ctx, leased.ID, models.StatusPending, models.StatusGeneratingScript, models.Artifacts{}))
	require.NoError(t, s.Claim(ctx, leased.ID, models.StatusGeneratingScript, clock.Now().Add(-time.Hour)))
	require.NoError(t, s.Fail(ctx, done.ID, models.StatusPending, "boom"))

	clock.Advance(5 * time.Minute)
	live := LeaseCutoffs{models.StatusGeneratingScript: clock.Now().Add(-time.Hour)}
	stalled, err := s.Stalled(ctx, clock.Now().Add(-time.Minute), live, 10)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, idle.ID, stalled[0].ID)

	expired := LeaseCutoffs{models.StatusGeneratingScript: clock.Now().Add(-time.Minute)}
	stalled, err = s.Stalled(ctx, clock.Now().Add(-time.Minute), expired, 10)
	require.NoError(t, err)
	assert.Len(t, stalled, 2, "expired lease counts as stalled")

	stalled, err = s.Stalled(ctx, clock.Now().Add(-time.Minute), LeaseCutoffs{}, 10)
	require.NoError(t, err)
	assert.Len(t, stalled, 1, "lease without a cutoff stays live")
}

func TestMemoryStalledLimitSkipsLiveLeases(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()

	// Long-running leases are the oldest updates and would sort first.
	for i := 0; i < 3; i++ {
		v := seed(t, s, "user-1")
		require.NoError(t, s.Transition(ctx, v.ID, models.StatusPending, models.StatusGeneratingScript, models.Artifacts{}))
		require.NoError(t, s.Transition(ctx, v.ID, models.StatusGeneratingScript, models.StatusGeneratingAudio, models.Artifacts{Script: "s"}))
		require.NoError(t, s.Transition(ctx, v.ID, models.StatusGeneratingAudio, models.StatusGeneratingManim, models.Artifacts{AudioURL: "a"}))
		require.NoError(t, s.Transition(ctx, v.ID, models.StatusGeneratingManim, models.StatusRenderingVideo, models.Artifacts{Code: "c"}))
		require.NoError(t, s.Claim(ctx, v.ID, models.StatusRenderingVideo, clock.Now().Add(-time.Hour)))
	}
	clock.Advance(time.Second)
	idle := seed(t, s, "user-1")

	clock.Advance(3 * time.Minute)
	stalled, err := s.Stalled(ctx, clock.Now().Add(-2*time.Minute), LeaseCutoffs{
		models.StatusGeneratingScript: clock.Now().Add(-90 * time.Second),
		models.StatusRenderingVideo:   clock.Now().Add(-330 * time.Second),
	}, 1)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, idle.ID, stalled[0].ID)
}
