package dispatch

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-deadman-backend/internal/repo"
	"github.com/tbourn/go-deadman-backend/internal/services"
)

// DefaultStuckGrace is how far past its scheduled_at a pending entry may be
// before the sweep treats its condition as stuck.
const DefaultStuckGrace = 10 * time.Minute

// Admin bundles the dispatcher and sweeper behind the HTTP admin surface.
type Admin struct {
	Dispatcher *Dispatcher
	Sweeper    *Sweeper
}

// ResetStuck runs one sweep pass on demand.
func (a Admin) ResetStuck(ctx context.Context) (int, error) {
	return a.Sweeper.Sweep(ctx)
}

// ForceProcess reconciles and dispatches one condition immediately.
func (a Admin) ForceProcess(ctx context.Context, conditionID string) (int, error) {
	return a.Dispatcher.ForceProcess(ctx, conditionID)
}

// Sweeper periodically finds conditions whose schedules have stalled, either
// pending entries overdue beyond the grace window or a final delivery that
// exhausted its retries, and forces a fresh reconciliation for each.
type Sweeper struct {
	DB         *gorm.DB
	Reconciler *services.Reconciler
	Dispatcher *Dispatcher

	Grace time.Duration

	// Now returns the current time; tests pin it.
	Now func() time.Time
}

// NewSweeper constructs a Sweeper with the default grace window.
func NewSweeper(db *gorm.DB, rec *services.Reconciler, disp *Dispatcher) *Sweeper {
	return &Sweeper{
		DB:         db,
		Reconciler: rec,
		Dispatcher: disp,
		Grace:      DefaultStuckGrace,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Schedule registers the sweep on the given cron runner under spec
// (e.g. "@every 5m"). The caller owns the cron's lifecycle.
func (s *Sweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			log.Error().Err(err).Msg("Stuck-condition sweep failed")
		}
	})
}

// Sweep runs one pass and returns how many conditions it recovered.
// Reconciliation is enough to unstick a condition: overdue duplicates and
// drifted entries are cancelled and regenerated, and the dispatcher is woken
// so anything now due goes out immediately.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.Now()
	ids, err := repo.ListStuckConditionIDs(ctx, s.DB, now, s.Grace)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	recovered := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}
		if _, _, rerr := s.Reconciler.Reconcile(ctx, id, now); rerr != nil {
			log.Error().Err(rerr).Str("condition_id", id).Msg("Sweep reconcile failed")
			continue
		}
		recovered++
		sweepRecovered.Inc()
	}
	if recovered > 0 {
		log.Warn().Int("recovered", recovered).Int("stuck", len(ids)).Msg("Sweep recovered stuck conditions")
		if s.Dispatcher != nil {
			s.Dispatcher.Notify()
		}
	}
	return recovered, nil
}
