// Package worker holds background loops that run next to the HTTP server.
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Resumer re-queues stalled records. *service.VisualizationService satisfies it.
type Resumer interface {
	ResumeStalled(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
}

// ResumeWorker periodically re-dispatches records whose stage was lost:
// a full queue, a restart mid-stage or an expired lease.
type ResumeWorker struct {
	resumer    Resumer
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	log        *logrus.Logger
}

func NewResumeWorker(r Resumer, interval, staleAfter time.Duration, batchSize int, log *logrus.Logger) *ResumeWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ResumeWorker{
		resumer:    r,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		log:        log,
	}
}

// Start blocks until ctx is cancelled.
func (w *ResumeWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.WithFields(logrus.Fields{
		"interval":   w.interval.String(),
		"staleAfter": w.staleAfter.String(),
	}).Info("resume worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("resume worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. A panic is logged and the next tick
// tries again.
func (w *ResumeWorker) RunOnce(ctx context.Context) int {
	defer func() {
		if r := recover(); r != nil {
			w.log.WithField("panic", r).Error("resume sweep panicked")
		}
	}()

	n, err := w.resumer.ResumeStalled(ctx, w.staleAfter, w.batchSize)
	if err != nil {
		w.log.WithError(err).Error("resume sweep failed")
		return n
	}
	if n > 0 {
		w.log.WithField("queued", n).Info("resumed stalled visualizations")
	}
	return n
}
