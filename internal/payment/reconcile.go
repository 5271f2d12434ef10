package payment

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/academyhq/academy-api/internal/lock"
	"github.com/academyhq/academy-api/internal/obs"
)

// TaskReconcile is the queue task type for the periodic payment sweep.
const TaskReconcile = "payment:reconcile"

const reconcileLockKey = "lock:payment:reconcile"

// NewReconcileTask builds the periodic sweep task for scheduler registration.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskReconcile, nil, asynq.MaxRetry(0))
}

// Reconciler re-checks payments stuck in pending. Records that reached the
// provider are re-verified; records that never got a reference are counted as
// the gap and surfaced through metrics and logs.
type Reconciler struct {
	Store     Store
	Svc       *Service
	Locker    lock.Locker
	LockTTL   time.Duration
	Age       time.Duration
	BatchSize int
	Logger    zerolog.Logger
}

// HandleTask is the asynq handler. The Redis lock keeps concurrent workers
// from sweeping the same batch; a held lock means another worker is on it.
func (rc *Reconciler) HandleTask(ctx context.Context, _ *asynq.Task) error {
	ran, err := rc.Locker.TryWithLock(ctx, reconcileLockKey, rc.lockTTL(), rc.Run)
	if err != nil {
		return err
	}
	if !ran {
		rc.Logger.Debug().Msg("reconcile sweep already running elsewhere")
	}
	return nil
}

// Run performs one sweep over stale pending payments.
func (rc *Reconciler) Run(ctx context.Context) error {
	obs.ReconcileRunsTotal.Inc()

	age := rc.Age
	if age <= 0 {
		age = 30 * time.Minute
	}
	cutoff := time.Now().Add(-age)
	stale, err := rc.Store.ListStalePending(ctx, cutoff, rc.BatchSize)
	if err != nil {
		rc.Logger.Error().Err(err).Msg("reconcile: list stale pending failed")
		return err
	}

	var recovered, gap int
	for _, p := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.Initialized() {
			gap++
			continue
		}
		result, err := rc.Svc.Verify(ctx, p.Reference)
		if err != nil {
			rc.Logger.Warn().Err(err).
				Str("reference", p.Reference).
				Msg("reconcile: verify failed, will retry next sweep")
			continue
		}
		if result.Payment.Status.Terminal() {
			recovered++
		}
	}

	obs.ReconcileGap.Set(float64(gap))
	if recovered > 0 {
		obs.ReconcileRecovered.Add(float64(recovered))
	}
	if gap > 0 {
		rc.Logger.Warn().
			Int("count", gap).
			Msg("reconcile: pending payments never reached the provider")
	}
	rc.Logger.Info().
		Int("stale", len(stale)).
		Int("recovered", recovered).
		Int("gap", gap).
		Msg("reconcile sweep complete")
	return nil
}

func (rc *Reconciler) lockTTL() time.Duration {
	if rc.LockTTL > 0 {
		return rc.LockTTL
	}
	return 2 * time.Minute
}
