package mirror

import (
	"context"
	"time"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

// BacklogSource lists appointments whose mirror copy is stale.
type BacklogSource interface {
	ListMirrorBacklog(ctx context.Context, olderThan time.Time, limit int) ([]appointment.Appointment, error)
}

// Reconciler re-enqueues mirror work that was dropped or failed.
type Reconciler struct {
	source   BacklogSource
	syncer   *Syncer
	logger   *logging.Logger
	interval time.Duration
	grace    time.Duration
	batch    int
	now      func() time.Time
}

func NewReconciler(source BacklogSource, syncer *Syncer, logger *logging.Logger) *Reconciler {
	if source == nil || syncer == nil {
		panic("mirror: reconciler requires source and syncer")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		source:   source,
		syncer:   syncer,
		logger:   logger,
		interval: 5 * time.Minute,
		grace:    time.Minute,
		batch:    100,
		now:      time.Now,
	}
}

func (r *Reconciler) WithInterval(d time.Duration) *Reconciler {
	if d > 0 {
		r.interval = d
	}
	return r
}

// WithGrace skips rows touched more recently than d, leaving them to in-flight tasks.
func (r *Reconciler) WithGrace(d time.Duration) *Reconciler {
	if d >= 0 {
		r.grace = d
	}
	return r
}

func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	if now != nil {
		r.now = now
	}
	return r
}

// Run reconciles on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Error("mirror: reconcile failed", "error", err)
			}
		}
	}
}

// ReconcileOnce enqueues one batch and returns how many tasks were queued.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	backlog, err := r.source.ListMirrorBacklog(ctx, r.now().Add(-r.grace), r.batch)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, appt := range backlog {
		switch {
		case appt.Status.IsActive():
			r.syncer.Update(appt)
		case appt.ExternalEventID != nil:
			r.syncer.Delete(appt)
		default:
			continue
		}
		queued++
	}
	if queued > 0 {
		r.logger.Info("mirror: reconciled backlog", "queued", queued)
	}
	return queued, nil
}
