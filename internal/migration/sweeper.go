package migration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fieldlite/credvault/internal/store"
	"github.com/fieldlite/credvault/pkg/schema"
)

// Sweeper periodically converges all tenants' credentials to the current
// encryption format. It is the background driver for the forward-only
// credential state machine; per-request self-healing handles the hot path,
// the sweep handles records nobody reads.
type Sweeper struct {
	store    store.Store
	migrator *Migrator
	schedule cron.Schedule
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // tenant IDs currently migrating (dedup)
}

// NewSweeper creates a Sweeper from a standard 5-field cron expression.
func NewSweeper(s store.Store, migrator *Migrator, spec string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid sweep schedule %q: %s", spec, err.Error()).WithCause(err)
	}
	return &Sweeper{
		store:    s,
		migrator: migrator,
		schedule: schedule,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}, nil
}

// Start launches the background sweep loop. A stopped Sweeper may be
// started again.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeValidation, "sweeper already started")
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(sweepCtx, done)
	return nil
}

// Stop cancels the loop and waits for it to exit, leaving the Sweeper
// ready for a fresh Start.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.mu.Lock()
	if s.done == done {
		s.cancel = nil
		s.done = nil
	}
	s.mu.Unlock()
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps every tenant with pending records. Exposed for manual
// triggering and tests; the loop calls it on schedule.
func (s *Sweeper) RunOnce(ctx context.Context) {
	tenants, err := s.store.ListTenantsPendingMigration(ctx)
	if err != nil {
		s.logger.Error("sweep: list pending tenants failed", slog.String("reason", err.Error()))
		return
	}
	if len(tenants) == 0 {
		return
	}
	s.logger.Info("sweep starting", slog.Int("tenants", len(tenants)))

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return
		}
		if !s.claim(tenantID) {
			continue // another sweep run still working on this tenant
		}
		result, err := s.migrator.migrateTenant(ctx, tenantID, store.EventSweep)
		s.release(tenantID)
		if err != nil {
			s.logger.Error("sweep: tenant migration failed",
				slog.String("tenant_id", tenantID), slog.String("reason", err.Error()))
			continue
		}
		if result.MigratedCount < len(result.Details) {
			s.logger.Warn("sweep: tenant has records that could not be migrated",
				slog.String("tenant_id", tenantID),
				slog.Int("failed", len(result.Details)-result.MigratedCount))
		}
	}
}

func (s *Sweeper) claim(tenantID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[tenantID]; busy {
		return false
	}
	s.inflight[tenantID] = struct{}{}
	return true
}

func (s *Sweeper) release(tenantID string) {
	s.inflightMu.Lock()
	delete(s.inflight, tenantID)
	s.inflightMu.Unlock()
}
