package retention

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/lattice/relay/internal/db"
)

type Config struct {
	Schedule string        // cron spec, e.g. "@every 1h"
	MaxAge   time.Duration // closed sessions older than this are pruned
}

// Service prunes old room journal entries on a schedule.
type Service struct {
	database *db.Database
	config   Config
	log      *zap.Logger
	cron     *cron.Cron
	now      func() time.Time
}

func New(database *db.Database, config Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		database: database,
		config:   config,
		log:      log,
		cron:     cron.New(),
		now:      time.Now,
	}
}

func (s *Service) Start() error {
	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		if _, err := s.PruneNow(); err != nil {
			s.log.Error("retention.prune", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention %q: %w", s.config.Schedule, err)
	}

	s.cron.Start()
	s.log.Info("retention.started",
		zap.String("schedule", s.config.Schedule),
		zap.Duration("max_age", s.config.MaxAge))
	return nil
}

// Stop waits for a running prune to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("retention.stopped")
}

// PruneNow deletes sessions that closed more than MaxAge ago.
func (s *Service) PruneNow() (int64, error) {
	cutoff := s.now().Add(-s.config.MaxAge)
	n, err := s.database.DeleteSessionsBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete sessions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		s.log.Info("retention.pruned", zap.Int64("sessions", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
