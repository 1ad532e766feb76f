package db

import (
	"sync"

	"go.uber.org/zap"

	"github.com/manpreetbhatti/lattice/relay/internal/room"
)

// Journal records closed rooms in the database off the hot path.
// RoomClosed only queues; a single goroutine does the writes.
type Journal struct {
	database *Database
	log      *zap.Logger
	queue    chan Session
	stop     chan struct{}
	wg       sync.WaitGroup
}

var _ room.Observer = (*Journal)(nil)

func NewJournal(database *Database, log *zap.Logger, queueSize int) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{
		database: database,
		log:      log,
		queue:    make(chan Session, queueSize),
		stop:     make(chan struct{}),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.run()
}

// Stop flushes queued sessions and waits for the writer to exit.
func (j *Journal) Stop() {
	close(j.stop)
	j.wg.Wait()
}

func (j *Journal) run() {
	defer j.wg.Done()
	for {
		select {
		case s := <-j.queue:
			j.write(s)
		case <-j.stop:
			for {
				select {
				case s := <-j.queue:
					j.write(s)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(s Session) {
	if err := j.database.SaveSession(s); err != nil {
		j.log.Error("journal.save", zap.String("room", s.RoomID), zap.Error(err))
	}
}

func (j *Journal) RoomOpened(string) {}

func (j *Journal) RoomClosed(roomID string, stats room.Stats) {
	s := Session{
		RoomID:      roomID,
		OpenedAt:    stats.OpenedAt,
		ClosedAt:    stats.ClosedAt,
		PeakMembers: stats.PeakMembers,
		Joins:       stats.Joins,
	}
	select {
	case j.queue <- s:
	default:
		j.log.Warn("journal.queue.full", zap.String("room", roomID))
	}
}

func (j *Journal) FrameDropped(string, string) {}
