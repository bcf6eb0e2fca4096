package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestStore(ttl time.Duration, maxTurns int) (*Store, *fakeClock) {
	clock := &fakeClock{current: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	s := NewStore(ttl, maxTurns)
	s.now = clock.Now
	return s, clock
}

func TestNewStore_Defaults(t *testing.T) {
	s := NewStore(0, 0)
	assert.Equal(t, DefaultTTL, s.ttl)
	assert.Equal(t, DefaultMaxTurns, s.maxTurns)
}

func TestAppendAndHistory(t *testing.T) {
	s, _ := newTestStore(30*time.Minute, 20)

	s.Append("whatsapp:+63917", Turn{Role: RoleUser, Content: "how many oak boxes left?"})
	s.Append("whatsapp:+63917", Turn{Role: RoleAssistant, Content: "120 boxes."})

	history := s.History("whatsapp:+63917")
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, RoleAssistant, history[1].Role)
}

func TestHistory_UnknownSender(t *testing.T) {
	s, _ := newTestStore(30*time.Minute, 20)
	assert.Empty(t, s.History("whatsapp:+63000"))
}

func TestHistory_ReturnsCopy(t *testing.T) {
	s, _ := newTestStore(30*time.Minute, 20)
	s.Append("a", Turn{Role: RoleUser, Content: "original"})

	history := s.History("a")
	history[0].Content = "mutated"

	assert.Equal(t, "original", s.History("a")[0].Content)
}

func TestAppend_TimestampsStrictlyIncrease(t *testing.T) {
	s, _ := newTestStore(30*time.Minute, 20)

	// Clock does not advance between appends; timestamps must still order.
	s.Append("a",
		Turn{Role: RoleUser, Content: "one"},
		Turn{Role: RoleAssistant, Content: "two"},
	)
	s.Append("a", Turn{Role: RoleUser, Content: "three"})

	history := s.History("a")
	require.Len(t, history, 3)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].Timestamp.After(history[i-1].Timestamp),
			"turn %d not after turn %d", i, i-1)
	}
}

func TestAppend_TrimsToMaxTurns(t *testing.T) {
	s, _ := newTestStore(30*time.Minute, 4)

	for i := 0; i < 6; i++ {
		s.Append("a", Turn{Role: RoleUser, Content: string(rune('a' + i))})
	}

	history := s.History("a")
	require.Len(t, history, 4)
	assert.Equal(t, "c", history[0].Content)
	assert.Equal(t, "f", history[3].Content)
}

func TestAppend_TrimNeverOrphansToolResult(t *testing.T) {
	s, _ := newTestStore(30*time.Minute, 2)

	s.Append("a",
		Turn{Role: RoleUser, Content: "sold 20 oak boxes"},
		Turn{Role: RoleToolCall, Content: "log_sale"},
		Turn{Role: RoleToolResult, Content: "total 17000"},
		Turn{Role: RoleAssistant, Content: "Logged."},
	)

	// A cut at the turn cap would leave the tool result leading the
	// history; it must be dropped along with its call.
	history := s.History("a")
	require.Len(t, history, 1)
	assert.Equal(t, RoleAssistant, history[0].Role)
}

func TestHistory_ExpiresIdleThread(t *testing.T) {
	s, clock := newTestStore(30*time.Minute, 20)

	s.Append("a", Turn{Role: RoleUser, Content: "hello"})

	clock.Advance(29 * time.Minute)
	assert.Len(t, s.History("a"), 1, "thread inside the idle window survives")

	clock.Advance(2 * time.Minute)
	assert.Empty(t, s.History("a"), "idle thread is discarded on access")
}

func TestAppend_AfterExpiryStartsFresh(t *testing.T) {
	s, clock := newTestStore(30*time.Minute, 20)

	s.Append("a", Turn{Role: RoleUser, Content: "old"})
	clock.Advance(31 * time.Minute)
	s.Append("a", Turn{Role: RoleUser, Content: "new"})

	history := s.History("a")
	require.Len(t, history, 1)
	assert.Equal(t, "new", history[0].Content)
}

func TestActivityRefreshesIdleWindow(t *testing.T) {
	s, clock := newTestStore(30*time.Minute, 20)

	s.Append("a", Turn{Role: RoleUser, Content: "one"})
	clock.Advance(20 * time.Minute)
	s.Append("a", Turn{Role: RoleUser, Content: "two"})
	clock.Advance(20 * time.Minute)

	// 40 minutes since the first turn but only 20 since the last.
	assert.Len(t, s.History("a"), 2)
}

func TestReset(t *testing.T) {
	s, _ := newTestStore(30*time.Minute, 20)

	s.Append("a", Turn{Role: RoleUser, Content: "hello"})
	s.Reset("a")
	assert.Empty(t, s.History("a"))

	// Resetting an unknown sender is a no-op.
	s.Reset("b")
}

func TestActiveCount(t *testing.T) {
	s, clock := newTestStore(30*time.Minute, 20)

	s.Append("a", Turn{Role: RoleUser, Content: "x"})
	clock.Advance(20 * time.Minute)
	s.Append("b", Turn{Role: RoleUser, Content: "y"})
	assert.Equal(t, 2, s.ActiveCount())

	clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, s.ActiveCount(), "only the fresher thread survives")
}

func TestThreadsAreIsolatedBySender(t *testing.T) {
	s, _ := newTestStore(30*time.Minute, 20)

	s.Append("a", Turn{Role: RoleUser, Content: "for a"})
	s.Append("b", Turn{Role: RoleUser, Content: "for b"})

	assert.Equal(t, "for a", s.History("a")[0].Content)
	assert.Equal(t, "for b", s.History("b")[0].Content)
}
