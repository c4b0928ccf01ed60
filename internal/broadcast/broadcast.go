// Package broadcast starts the survey for every registered participant.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many targets are started at once.
const DefaultConcurrency = 8

// Registry lists consented participants.
type Registry interface {
	ListParticipants(ctx context.Context) ([]models.Participant, error)
}

// Locker provides the per-key critical section shared with the message router.
type Locker interface {
	Lock(key models.SessionKey) (unlock func())
}

// Starter starts a survey on a session.
type Starter interface {
	Start(ctx context.Context, key models.SessionKey) error
}

// Orchestrator fans a survey start out over the participant registry.
type Orchestrator struct {
	registry    Registry
	locks       Locker
	surveys     Starter
	concurrency int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds parallel starts. Values below 1 fall back to DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(registry Registry, locks Locker, surveys Starter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    registry,
		locks:       locks,
		surveys:     surveys,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		o.concurrency = DefaultConcurrency
	}
	return o
}

// RunBroadcast starts the survey for every registered participant not in excluded.
// One target's failure never affects another. A registry read failure yields (0, 0).
func (o *Orchestrator) RunBroadcast(ctx context.Context, excluded []string) (attempted, succeeded int) {
	participants, err := o.registry.ListParticipants(ctx)
	if err != nil {
		slog.Error("Orchestrator.RunBroadcast registry read failed", "error", err)
		return 0, 0
	}

	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}
	var targets []string
	for _, p := range participants {
		if _, ok := skip[p.ID]; ok {
			continue
		}
		targets = append(targets, p.ID)
	}
	slog.Info("Orchestrator.RunBroadcast starting", "registered", len(participants), "targets", len(targets), "excluded", len(excluded))

	var ok atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, id := range targets {
		g.Go(func() error {
			if err := o.startOne(gctx, id); err != nil {
				slog.Error("Orchestrator.RunBroadcast target failed", "participantID", id, "error", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	// Target errors are swallowed above so siblings keep running.
	_ = g.Wait()

	attempted, succeeded = len(targets), int(ok.Load())
	slog.Info("Orchestrator.RunBroadcast finished", "attempted", attempted, "succeeded", succeeded)
	return attempted, succeeded
}

// startOne starts the survey for id under that target's own session lock.
func (o *Orchestrator) startOne(ctx context.Context, id string) (err error) {
	key := models.KeyFor(id)
	unlock := o.locks.Lock(key)
	defer unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic starting survey: %v", r)
		}
	}()
	return o.surveys.Start(ctx, key)
}
