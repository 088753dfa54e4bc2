// Package maintenance runs scheduled background sweeps: renumbering of
// crowded operation positions and cleanup of expired invitations.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"validai/api/internal/metrics"
	"validai/api/internal/ordering"
	"validai/api/internal/store"
)

// Store is the subset of the persistence layer the sweeps use.
type Store interface {
	ListCrowdedAreas(ctx context.Context, minGap float64) ([]store.AreaRef, error)
	ListAreaOperations(ctx context.Context, processorID, area string) ([]store.Operation, error)
	RenumberArea(ctx context.Context, processorID, area string, renumbered []ordering.Operation) error
	DeleteExpiredInvitations(ctx context.Context) (int64, error)
}

// Config controls the sweep schedules.
type Config struct {
	// RenumberSchedule and CleanupSchedule are standard cron expressions.
	RenumberSchedule string
	CleanupSchedule  string
	SweepTimeout     time.Duration
}

// Service owns the cron scheduler for background maintenance.
type Service struct {
	store   Store
	log     zerolog.Logger
	metrics *metrics.Metrics
	cfg     Config
	cron    *cron.Cron
}

func New(s Store, log zerolog.Logger, m *metrics.Metrics, cfg Config) *Service {
	if cfg.RenumberSchedule == "" {
		cfg.RenumberSchedule = "*/10 * * * *"
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = "0 3 * * *"
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 2 * time.Minute
	}
	return &Service{
		store:   s,
		log:     log.With().Str("component", "maintenance").Logger(),
		metrics: m,
		cfg:     cfg,
		cron:    cron.New(),
	}
}

// Start schedules the sweeps and starts the cron loop.
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.RenumberSchedule, s.runRenumberSweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.CleanupSchedule, s.runCleanupSweep); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().
		Str("renumber_schedule", s.cfg.RenumberSchedule).
		Str("cleanup_schedule", s.cfg.CleanupSchedule).
		Msg("maintenance sweeps scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) runRenumberSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
	defer cancel()
	if err := s.RenumberSweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("renumber sweep failed")
	}
}

func (s *Service) runCleanupSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
	defer cancel()
	if err := s.CleanupSweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("invitation cleanup sweep failed")
	}
}

// RenumberSweep rewrites positions in every area whose smallest adjacent
// position gap has dropped below the renumber threshold.
func (s *Service) RenumberSweep(ctx context.Context) error {
	crowded, err := s.store.ListCrowdedAreas(ctx, ordering.MinGap)
	if err != nil {
		return err
	}
	for _, ref := range crowded {
		ops, err := s.store.ListAreaOperations(ctx, ref.ProcessorID, ref.Area)
		if err != nil {
			s.log.Error().Err(err).
				Str("processor_id", ref.ProcessorID).
				Str("area", ref.Area).
				Msg("failed to load crowded area")
			continue
		}
		planned := make([]ordering.Operation, 0, len(ops))
		for _, op := range ops {
			planned = append(planned, ordering.Operation{ID: op.ID, Area: op.Area, Position: op.Position})
		}
		if err := s.store.RenumberArea(ctx, ref.ProcessorID, ref.Area, ordering.Renumber(planned)); err != nil {
			s.log.Error().Err(err).
				Str("processor_id", ref.ProcessorID).
				Str("area", ref.Area).
				Msg("failed to renumber area")
			continue
		}
		s.metrics.RenumberSweeps.Inc()
		s.log.Info().
			Str("processor_id", ref.ProcessorID).
			Str("area", ref.Area).
			Int("operations", len(ops)).
			Msg("renumbered crowded area")
	}
	return nil
}

// CleanupSweep deletes invitations whose expiry has passed.
func (s *Service) CleanupSweep(ctx context.Context) error {
	deleted, err := s.store.DeleteExpiredInvitations(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted", deleted).Msg("removed expired invitations")
	}
	return nil
}
