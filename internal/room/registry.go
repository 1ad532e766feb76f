package room

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/manpreetbhatti/lattice/relay/internal/protocol"
)

// Observer is notified of room lifecycle and delivery events.
// Callbacks run while a room lock is held and must not block.
type Observer interface {
	RoomOpened(roomID string)
	RoomClosed(roomID string, stats Stats)
	FrameDropped(roomID, participantID string)
}

// Observers fans every callback out to each element.
type Observers []Observer

func (o Observers) RoomOpened(roomID string) {
	for _, ob := range o {
		ob.RoomOpened(roomID)
	}
}

func (o Observers) RoomClosed(roomID string, stats Stats) {
	for _, ob := range o {
		ob.RoomClosed(roomID, stats)
	}
}

func (o Observers) FrameDropped(roomID, participantID string) {
	for _, ob := range o {
		ob.FrameDropped(roomID, participantID)
	}
}

// Registry maps document ids to live rooms.
//
// Lock order is Room.mu then Registry.mu; the registry lock is never held
// while waiting on a room.
type Registry struct {
	log      *zap.Logger
	observer Observer

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(log *zap.Logger, observers ...Observer) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:      log,
		observer: Observers(observers),
		rooms:    make(map[string]*Room),
	}
}

func (g *Registry) getOrCreate(roomID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[roomID]; ok {
		return r
	}
	r := newRoom(roomID)
	g.rooms[roomID] = r
	g.observer.RoomOpened(roomID)
	g.log.Info("room.opened", zap.String("room", roomID))
	return r
}

// Get returns the live room for roomID, if any.
func (g *Registry) Get(roomID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	return r, ok
}

// Join registers a participant in roomID, creating the room if needed.
// Every other member is sent user-joined and peer alone is sent the
// presence snapshot, both before the room lock is released.
func (g *Registry) Join(roomID, participantID, displayName string, peer Peer) *Participant {
	if displayName == "" {
		displayName = DefaultDisplayName
	}

	for {
		r := g.getOrCreate(roomID)
		r.mu.Lock()
		if r.closed {
			// Lost a race with the last member leaving; the next lookup creates a fresh room.
			r.mu.Unlock()
			continue
		}

		if prev, ok := r.members[participantID]; ok {
			g.log.Warn("room.participant.replaced",
				zap.String("room", roomID),
				zap.String("participant", participantID),
				zap.String("previous_conn", prev.peer.ID()),
				zap.String("conn", peer.ID()))
			delete(r.members, participantID)
		}

		r.seq++
		p := &Participant{
			ID:          participantID,
			DisplayName: displayName,
			Color:       pickColor(r.members),
			RoomID:      roomID,
			peer:        peer,
			seq:         r.seq,
		}
		r.members[participantID] = p
		r.stats.Joins++
		r.stats.PeakMembers = max(r.stats.PeakMembers, len(r.members))

		g.send(r, p, protocol.NewUserJoined(p.User()), false)
		g.send(r, p, protocol.NewPresence(r.usersExcept(p.ID)), true)

		count := len(r.members)
		r.mu.Unlock()

		g.log.Info("room.joined",
			zap.String("room", roomID),
			zap.String("participant", participantID),
			zap.String("color", p.Color),
			zap.Int("members", count))
		return p
	}
}

// Broadcast queues frame for every member of p's room except p.
// It is a no-op when p is no longer a member.
func (g *Registry) Broadcast(p *Participant, frame []byte) {
	r, ok := g.Get(p.RoomID)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[p.ID] != p {
		return
	}
	g.dropped(r, r.fanout(p, frame))
}

// Leave removes p from its room and tells the remaining members.
// The room is deleted from the registry before Leave returns if p was the
// last member. Leave reports false when p was not a current member.
func (g *Registry) Leave(p *Participant) bool {
	r, ok := g.Get(p.RoomID)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[p.ID] != p {
		return false
	}
	delete(r.members, p.ID)

	remaining := len(r.members)
	if remaining > 0 {
		g.send(r, p, protocol.NewUserLeft(p.ID), false)
		g.log.Info("room.left",
			zap.String("room", r.ID),
			zap.String("participant", p.ID),
			zap.Int("members", remaining))
		return true
	}

	r.closed = true
	r.stats.ClosedAt = time.Now().UTC()

	g.mu.Lock()
	if g.rooms[r.ID] == r {
		delete(g.rooms, r.ID)
	}
	g.mu.Unlock()

	g.observer.RoomClosed(r.ID, r.stats)
	g.log.Info("room.closed",
		zap.String("room", r.ID),
		zap.String("participant", p.ID),
		zap.Int("peak_members", r.stats.PeakMembers),
		zap.Int("joins", r.stats.Joins))
	return true
}

// send encodes msg and either queues it on p alone (direct) or on every other
// member. Caller holds r.mu.
func (g *Registry) send(r *Room, p *Participant, msg any, direct bool) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		g.log.Error("room.encode", zap.String("room", r.ID), zap.Error(err))
		return
	}
	if direct {
		if !p.peer.Send(frame) {
			g.dropped(r, []*Participant{p})
		}
		return
	}
	g.dropped(r, r.fanout(p, frame))
}

func (g *Registry) dropped(r *Room, peers []*Participant) {
	for _, p := range peers {
		g.observer.FrameDropped(r.ID, p.ID)
		g.log.Debug("room.frame.dropped",
			zap.String("room", r.ID),
			zap.String("participant", p.ID),
			zap.String("conn", p.peer.ID()))
	}
}

// Returns the number of live rooms
func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Returns member counts keyed by room id
func (g *Registry) ActiveRooms() map[string]int {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	active := make(map[string]int, len(rooms))
	for _, r := range rooms {
		if n := r.MemberCount(); n > 0 {
			active[r.ID] = n
		}
	}
	return active
}

// Returns the number of participants across all rooms
func (g *Registry) ParticipantCount() int {
	total := 0
	for _, n := range g.ActiveRooms() {
		total += n
	}
	return total
}
