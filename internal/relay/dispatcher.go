// Package relay turns inbound frames from one connection into room operations.
package relay

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/manpreetbhatti/lattice/relay/internal/metrics"
	"github.com/manpreetbhatti/lattice/relay/internal/protocol"
	"github.com/manpreetbhatti/lattice/relay/internal/room"
)

// State of one connection's membership
type State int

const (
	Unjoined State = iota
	Joined
	Left
)

func (s State) String() string {
	switch s {
	case Unjoined:
		return "unjoined"
	case Joined:
		return "joined"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}

// Dispatcher is the per-connection message loop. It owns the connection's
// Participant and is driven by the transport's read pump.
type Dispatcher struct {
	registry *room.Registry
	peer     room.Peer
	log      *zap.Logger

	mu          sync.Mutex
	state       State
	participant *room.Participant
}

func NewDispatcher(registry *room.Registry, peer room.Peer, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		peer:     peer,
		log:      log.With(zap.String("conn", peer.ID())),
	}
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Participant returns the joined participant, or nil.
func (d *Dispatcher) Participant() *room.Participant {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.participant
}

// Handle decodes one inbound frame and applies it. Malformed or
// out-of-order frames are logged and dropped; nothing is ever replied.
func (d *Dispatcher) Handle(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Left {
		d.log.Debug("relay.discard", zap.String("state", d.state.String()))
		return
	}

	msg, err := protocol.Decode(frame)
	if err != nil {
		d.reject(reasonFor(err), err)
		return
	}

	switch m := msg.(type) {
	case *protocol.Join:
		metrics.InboundMessage(protocol.TypeJoin)
		d.handleJoin(m)
	case *protocol.Cursor:
		metrics.InboundMessage(protocol.TypeCursor)
		d.handleCursor(m)
	case *protocol.Change:
		metrics.InboundMessage(protocol.TypeChange)
		d.handleChange(m)
	case *protocol.Leave:
		metrics.InboundMessage(protocol.TypeLeave)
		d.handleLeave(m.RoomID)
	}
}

// Close is called once the transport is closed or broken. It behaves like
// an explicit leave and is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leave()
	d.state = Left
}

func (d *Dispatcher) handleJoin(m *protocol.Join) {
	if d.state == Joined {
		d.log.Debug("relay.rejoin.ignored",
			zap.String("room", d.participant.RoomID),
			zap.String("requested_room", m.RoomID))
		return
	}

	d.participant = d.registry.Join(m.RoomID, m.ParticipantID, m.DisplayName, d.peer)
	d.state = Joined
}

func (d *Dispatcher) handleCursor(m *protocol.Cursor) {
	if !d.accepts(m.RoomID) {
		return
	}
	d.broadcast(protocol.NewCursorEvent(d.participant.User(), m))
}

func (d *Dispatcher) handleChange(m *protocol.Change) {
	if !d.accepts(m.RoomID) {
		return
	}
	d.broadcast(protocol.NewChangeEvent(d.participant.ID, m))
}

func (d *Dispatcher) handleLeave(roomID string) {
	if !d.accepts(roomID) {
		return
	}
	d.leave()
	d.state = Left
}

// accepts reports whether a room-scoped frame applies to this connection.
// A roomId naming a different room than the joined one is rejected.
func (d *Dispatcher) accepts(roomID string) bool {
	if d.state != Joined {
		return false
	}
	if roomID != "" && roomID != d.participant.RoomID {
		d.reject("room_mismatch", errors.New("frame addressed to another room"))
		return false
	}
	return true
}

func (d *Dispatcher) broadcast(msg any) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		d.log.Error("relay.encode", zap.Error(err))
		return
	}
	d.registry.Broadcast(d.participant, frame)
}

func (d *Dispatcher) leave() {
	if d.state != Joined {
		return
	}
	d.registry.Leave(d.participant)
	d.log.Debug("relay.left",
		zap.String("room", d.participant.RoomID),
		zap.String("participant", d.participant.ID))
}

func (d *Dispatcher) reject(reason string, err error) {
	metrics.MalformedMessage(reason)
	d.log.Warn("relay.malformed", zap.String("reason", reason), zap.Error(err))
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, protocol.ErrEmptyFrame):
		return "empty"
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown_type"
	default:
		return "invalid"
	}
}
