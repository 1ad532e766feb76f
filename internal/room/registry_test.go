package room

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Records every frame queued for one connection
type fakePeer struct {
	id     string
	refuse bool

	mu     sync.Mutex
	frames []map[string]any
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: id} }

func (f *fakePeer) ID() string { return f.id }

func (f *fakePeer) Send(frame []byte) bool {
	if f.refuse {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(frame, &m); err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.frames = append(f.frames, m)
	f.mu.Unlock()
	return true
}

func (f *fakePeer) received() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakePeer) ofType(typ string) []map[string]any {
	var out []map[string]any
	for _, m := range f.received() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

type countingObserver struct {
	mu      sync.Mutex
	opened  []string
	closed  []string
	stats   []Stats
	dropped int
}

func (c *countingObserver) RoomOpened(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = append(c.opened, roomID)
}

func (c *countingObserver) RoomClosed(roomID string, stats Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, roomID)
	c.stats = append(c.stats, stats)
}

func (c *countingObserver) FrameDropped(string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
}

func TestJoinSendsPresenceAndUserJoined(t *testing.T) {
	reg := NewRegistry(nil)
	alice, bob := newFakePeer("c1"), newFakePeer("c2")

	u1 := reg.Join("page-42", "u1", "Alice", alice)
	require.Equal(t, Palette[0], u1.Color)

	got := alice.received()
	require.Len(t, got, 1)
	require.Equal(t, "presence", got[0]["type"])
	require.Empty(t, got[0]["users"])

	u2 := reg.Join("page-42", "u2", "Bob", bob)
	require.Equal(t, Palette[1], u2.Color)

	joined := alice.ofType("user-joined")
	require.Len(t, joined, 1)
	require.Equal(t, "u2", joined[0]["participantId"])
	require.Equal(t, "Bob", joined[0]["displayName"])
	require.Equal(t, Palette[1], joined[0]["color"])

	presence := bob.ofType("presence")
	require.Len(t, presence, 1)
	users := presence[0]["users"].([]any)
	require.Len(t, users, 1)
	require.Equal(t, map[string]any{"participantId": "u1", "displayName": "Alice", "color": Palette[0]}, users[0])

	require.Empty(t, bob.ofType("user-joined"), "joiner must not see its own user-joined")
}

func TestJoinDefaultsDisplayName(t *testing.T) {
	reg := NewRegistry(nil)
	p := reg.Join("r", "u1", "", newFakePeer("c1"))
	require.Equal(t, DefaultDisplayName, p.DisplayName)
}

func TestColorsAreUniqueUpToPaletteSize(t *testing.T) {
	reg := NewRegistry(nil)

	seen := map[string]bool{}
	for i := 0; i < len(Palette); i++ {
		p := reg.Join("r", fmt.Sprintf("u%d", i), "", newFakePeer(fmt.Sprintf("c%d", i)))
		require.False(t, seen[p.Color], "color %s assigned twice", p.Color)
		seen[p.Color] = true
	}

	ninth := reg.Join("r", "u8", "", newFakePeer("c8"))
	require.Equal(t, Palette[8%len(Palette)], ninth.Color)
}

func TestFreedColorIsReusedLowestFirst(t *testing.T) {
	reg := NewRegistry(nil)

	var members []*Participant
	for i := 0; i < 4; i++ {
		members = append(members, reg.Join("r", fmt.Sprintf("u%d", i), "", newFakePeer(fmt.Sprintf("c%d", i))))
	}
	require.True(t, reg.Leave(members[2]))
	require.True(t, reg.Leave(members[1]))

	next := reg.Join("r", "u9", "", newFakePeer("c9"))
	require.Equal(t, Palette[1], next.Color)
}

func TestLeaveBroadcastsUserLeft(t *testing.T) {
	reg := NewRegistry(nil)
	alice, bob := newFakePeer("c1"), newFakePeer("c2")
	u1 := reg.Join("r", "u1", "Alice", alice)
	reg.Join("r", "u2", "Bob", bob)

	require.True(t, reg.Leave(u1))

	left := bob.ofType("user-left")
	require.Len(t, left, 1)
	require.Equal(t, map[string]any{"type": "user-left", "participantId": "u1"}, left[0])
	require.Empty(t, alice.ofType("user-left"))
}

func TestLeaveTwiceIsSilent(t *testing.T) {
	reg := NewRegistry(nil)
	bob := newFakePeer("c2")
	u1 := reg.Join("r", "u1", "Alice", newFakePeer("c1"))
	reg.Join("r", "u2", "Bob", bob)

	require.True(t, reg.Leave(u1))
	require.False(t, reg.Leave(u1))
	require.Len(t, bob.ofType("user-left"), 1)
}

func TestEmptyRoomIsReclaimed(t *testing.T) {
	obs := &countingObserver{}
	reg := NewRegistry(nil, obs)

	u1 := reg.Join("r", "u1", "Alice", newFakePeer("c1"))
	first, ok := reg.Get("r")
	require.True(t, ok)

	require.True(t, reg.Leave(u1))
	_, ok = reg.Get("r")
	require.False(t, ok)
	require.Equal(t, 0, reg.RoomCount())

	again := newFakePeer("c3")
	reg.Join("r", "u3", "Carol", again)
	second, ok := reg.Get("r")
	require.True(t, ok)
	require.NotSame(t, first, second)

	presence := again.ofType("presence")
	require.Len(t, presence, 1)
	require.Empty(t, presence[0]["users"])

	require.Equal(t, []string{"r", "r"}, obs.opened)
	require.Equal(t, []string{"r"}, obs.closed)
	require.Equal(t, 1, obs.stats[0].Joins)
	require.Equal(t, 1, obs.stats[0].PeakMembers)
	require.False(t, obs.stats[0].ClosedAt.IsZero())
}

func TestRoomsAreIsolated(t *testing.T) {
	reg := NewRegistry(nil)
	a1, a2 := newFakePeer("a1"), newFakePeer("a2")
	b1 := newFakePeer("b1")

	pa1 := reg.Join("room-a", "u1", "", a1)
	reg.Join("room-a", "u2", "", a2)
	pb1 := reg.Join("room-b", "u3", "", b1)

	reg.Broadcast(pa1, []byte(`{"type":"change","participantId":"u1","operation":1}`))
	require.Len(t, a2.ofType("change"), 1)
	require.Empty(t, a1.ofType("change"))
	require.Empty(t, b1.ofType("change"))
	require.Empty(t, b1.ofType("user-joined"))

	reg.Leave(pb1)
	require.Empty(t, a1.ofType("user-left"))
	require.Empty(t, a2.ofType("user-left"))
	require.Equal(t, map[string]int{"room-a": 2}, reg.ActiveRooms())
	require.Equal(t, 2, reg.ParticipantCount())
}

func TestBroadcastSkipsRefusingPeer(t *testing.T) {
	obs := &countingObserver{}
	reg := NewRegistry(nil, obs)
	slow := newFakePeer("slow")
	fast := newFakePeer("fast")

	sender := reg.Join("r", "u0", "", newFakePeer("sender"))
	reg.Join("r", "u1", "", slow)
	reg.Join("r", "u2", "", fast)
	slow.refuse = true

	reg.Broadcast(sender, []byte(`{"type":"cursor"}`))

	require.Len(t, fast.ofType("cursor"), 1)
	require.Equal(t, 1, obs.dropped)
}

func TestDuplicateParticipantReplacesOlderConnection(t *testing.T) {
	reg := NewRegistry(nil)
	watcher := newFakePeer("w")
	reg.Join("r", "w", "", watcher)

	old := reg.Join("r", "u1", "", newFakePeer("tab-1"))
	fresh := reg.Join("r", "u1", "", newFakePeer("tab-2"))

	require.False(t, reg.Leave(old), "stale connection must not remove the newer membership")
	require.Empty(t, watcher.ofType("user-left"))

	room, ok := reg.Get("r")
	require.True(t, ok)
	require.Equal(t, 2, room.MemberCount())

	require.True(t, reg.Leave(fresh))
	require.Len(t, watcher.ofType("user-left"), 1)
}

func TestConcurrentJoinLeaveLeavesNoRooms(t *testing.T) {
	reg := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			roomID := fmt.Sprintf("room-%d", i%3)
			for j := 0; j < 20; j++ {
				p := reg.Join(roomID, fmt.Sprintf("u%d-%d", i, j), "", newFakePeer(fmt.Sprintf("c%d", i)))
				reg.Broadcast(p, []byte(`{"type":"change"}`))
				reg.Leave(p)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 0, reg.RoomCount())
	require.Empty(t, reg.ActiveRooms())
}

func TestConcurrentJoinsKeepColorsUnique(t *testing.T) {
	reg := NewRegistry(nil)

	var wg sync.WaitGroup
	colors := make([]string, len(Palette))
	for i := range colors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			colors[i] = reg.Join("r", fmt.Sprintf("u%d", i), "", newFakePeer(fmt.Sprintf("c%d", i))).Color
		}(i)
	}
	wg.Wait()

	require.ElementsMatch(t, Palette[:], colors)
}
