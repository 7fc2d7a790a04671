package matchmaking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvp-typing/arena/internal/realtime"
)

type pairing struct {
	p1, p2 string
}

type fakeCreator struct {
	mu       sync.Mutex
	pairings []pairing
	failNext int // number of upcoming CreateMatch calls to fail
}

func (f *fakeCreator) CreateMatch(ctx context.Context, p1UserID, p1Username, p2UserID, p2Username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("storage unavailable")
	}
	f.pairings = append(f.pairings, pairing{p1: p1UserID, p2: p2UserID})
	return nil
}

func (f *fakeCreator) snapshot() []pairing {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pairing, len(f.pairings))
	copy(out, f.pairings)
	return out
}

func newTestQueue(t *testing.T, creator MatchCreator, queueTimeout, cleanupInterval time.Duration) (*Queue, context.CancelFunc) {
	t.Helper()
	hub := realtime.NewHub(nil)
	q := NewQueue(hub, creator, queueTimeout, cleanupInterval)
	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	return q, cancel
}

func TestQueue_JoinAndPairOff(t *testing.T) {
	creator := &fakeCreator{}
	q, cancel := newTestQueue(t, creator, 30*time.Second, time.Hour)
	defer cancel()
	ctx := context.Background()

	size := q.Join(ctx, "a", "alice")
	assert.Equal(t, 1, size)
	assert.True(t, q.IsInQueue(ctx, "a"))

	size = q.Join(ctx, "b", "bob")
	assert.Equal(t, 2, size)

	require.Eventually(t, func() bool {
		return len(creator.snapshot()) == 1
	}, time.Second, time.Millisecond)

	p := creator.snapshot()[0]
	assert.Equal(t, "a", p.p1)
	assert.Equal(t, "b", p.p2)

	assert.False(t, q.IsInQueue(ctx, "a"))
	assert.False(t, q.IsInQueue(ctx, "b"))
	assert.Equal(t, 0, q.Size(ctx))
}

func TestQueue_SingleEntryDoesNotPairOff(t *testing.T) {
	creator := &fakeCreator{}
	q, cancel := newTestQueue(t, creator, 30*time.Second, time.Hour)
	defer cancel()
	ctx := context.Background()

	q.Join(ctx, "a", "alice")
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, creator.snapshot())
	assert.Equal(t, 1, q.Size(ctx))
}

func TestQueue_DuplicateJoinIsNoOp(t *testing.T) {
	creator := &fakeCreator{}
	q, cancel := newTestQueue(t, creator, 30*time.Second, time.Hour)
	defer cancel()
	ctx := context.Background()

	first := q.Join(ctx, "a", "alice")
	second := q.Join(ctx, "a", "alice")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, q.Size(ctx))
	assert.True(t, q.IsInQueue(ctx, "a"))
}

func TestQueue_DuplicateJoinThenPairOffCreatesOneMatch(t *testing.T) {
	// §8 scenario S4.
	creator := &fakeCreator{}
	q, cancel := newTestQueue(t, creator, 30*time.Second, time.Hour)
	defer cancel()
	ctx := context.Background()

	q.Join(ctx, "a", "alice")
	sizeAfterDup := q.Join(ctx, "a", "alice")
	assert.Equal(t, 1, sizeAfterDup)

	q.Join(ctx, "b", "bob")

	require.Eventually(t, func() bool {
		return len(creator.snapshot()) == 1
	}, time.Second, time.Millisecond)
	assert.Len(t, creator.snapshot(), 1)
}

func TestQueue_LeaveWhenAbsentReturnsFalse(t *testing.T) {
	creator := &fakeCreator{}
	q, cancel := newTestQueue(t, creator, 30*time.Second, time.Hour)
	defer cancel()
	ctx := context.Background()

	removed := q.Leave(ctx, "ghost")
	assert.False(t, removed)
}

func TestQueue_LeavePresentReturnsTrue(t *testing.T) {
	creator := &fakeCreator{}
	q, cancel := newTestQueue(t, creator, 30*time.Second, time.Hour)
	defer cancel()
	ctx := context.Background()

	q.Join(ctx, "a", "alice")
	removed := q.Leave(ctx, "a")
	assert.True(t, removed)
	assert.False(t, q.IsInQueue(ctx, "a"))
}

func TestQueue_PairOffFailureRollsBackInOriginalOrder(t *testing.T) {
	// §8 scenario S5.
	creator := &fakeCreator{failNext: 1}
	q, cancel := newTestQueue(t, creator, 30*time.Second, time.Hour)
	defer cancel()
	ctx := context.Background()

	q.Join(ctx, "a", "alice")
	q.Join(ctx, "b", "bob")

	require.Eventually(t, func() bool {
		return q.Size(ctx) == 2
	}, time.Second, time.Millisecond)

	assert.Empty(t, creator.snapshot())
	assert.True(t, q.IsInQueue(ctx, "a"))
	assert.True(t, q.IsInQueue(ctx, "b"))

	// A third joiner must still pair off once storage recovers, and must
	// pair with whichever entry was at the head (a), not skip the queue.
	q.Join(ctx, "c", "carol")
	require.Eventually(t, func() bool {
		return len(creator.snapshot()) == 1
	}, time.Second, time.Millisecond)
	p := creator.snapshot()[0]
	assert.Equal(t, "a", p.p1)
	assert.Equal(t, "b", p.p2)
	assert.True(t, q.IsInQueue(ctx, "c"))
}

func TestQueue_StalenessEviction(t *testing.T) {
	// §8 scenario S6: entries older than queueTimeout are evicted by the
	// periodic cleanup tick.
	creator := &fakeCreator{}
	q, cancel := newTestQueue(t, creator, 20*time.Millisecond, 10*time.Millisecond)
	defer cancel()
	ctx := context.Background()

	q.Join(ctx, "a", "alice")

	require.Eventually(t, func() bool {
		return !q.IsInQueue(ctx, "a")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Size(ctx))
}

func TestQueue_NoUserAppearsTwiceUnderConcurrentJoins(t *testing.T) {
	// §8 universal invariant 1, stressed with concurrent duplicate joins.
	creator := &fakeCreator{}
	q, cancel := newTestQueue(t, creator, time.Minute, time.Hour)
	defer cancel()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Join(ctx, "a", "alice")
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, q.Size(ctx), 1)
}
