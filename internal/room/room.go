package room

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/manpreetbhatti/lattice/relay/internal/protocol"
)

// DefaultDisplayName is used when a join carries no display name.
const DefaultDisplayName = "Anonymous"

// Peer is the outbound half of one connection.
// Send must not block; it reports false when the frame was not queued.
type Peer interface {
	ID() string
	Send(frame []byte) bool
}

// A connected editor. The dispatcher owns it; the room only references it.
type Participant struct {
	ID          string
	DisplayName string
	Color       string
	RoomID      string

	peer Peer
	seq  uint64
}

func (p *Participant) User() protocol.User {
	return protocol.User{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Color:         p.Color,
	}
}

// Stats describes one room lifetime.
type Stats struct {
	OpenedAt    time.Time
	ClosedAt    time.Time
	PeakMembers int
	Joins       int
}

// A set of participants editing the same document
type Room struct {
	ID string

	mu      sync.Mutex
	members map[string]*Participant
	closed  bool
	seq     uint64
	stats   Stats
}

func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		members: make(map[string]*Participant),
		stats:   Stats{OpenedAt: time.Now().UTC()},
	}
}

// Returns the number of current members
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Returns the current members in join order
func (r *Room) Users() []protocol.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usersExcept("")
}

// usersExcept lists members other than participantID in join order. Caller holds r.mu.
func (r *Room) usersExcept(participantID string) []protocol.User {
	others := lo.Filter(lo.Values(r.members), func(p *Participant, _ int) bool {
		return p.ID != participantID
	})
	sort.Slice(others, func(i, j int) bool { return others[i].seq < others[j].seq })
	return lo.Map(others, func(p *Participant, _ int) protocol.User { return p.User() })
}

// fanout queues frame on every member except the sender and returns the
// participants whose peers refused it. Caller holds r.mu.
func (r *Room) fanout(sender *Participant, frame []byte) []*Participant {
	var dropped []*Participant
	for _, m := range r.members {
		if m == sender {
			continue
		}
		if !m.peer.Send(frame) {
			dropped = append(dropped, m)
		}
	}
	return dropped
}
