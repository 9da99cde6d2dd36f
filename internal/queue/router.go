// Package queue serialises gateway events per guild. Each guild hashes to
// one worker, so events of a guild run in arrival order while different
// guilds proceed in parallel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"discord-invite-tracker/internal/metrics"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("queue stopped")

// Event is one unit of guild work.
type Event struct {
	GuildID string
	// Kind names the event in logs, e.g. "member_add".
	Kind   string
	Handle func(ctx context.Context)
}

type Config struct {
	// Workers defaults to GOMAXPROCS.
	Workers int
	// Size is the buffer of each worker.
	Size int
}

// Router fans events out to a fixed set of workers by guild id.
type Router struct {
	workers []*worker
	logger  *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

type worker struct {
	id     int
	label  string
	events chan Event
}

func NewRouter(cfg Config, logger *zap.Logger) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{logger: logger}
	for i := 0; i < cfg.Workers; i++ {
		r.workers = append(r.workers, &worker{
			id:     i,
			label:  strconv.Itoa(i),
			events: make(chan Event, cfg.Size),
		})
	}
	return r
}

// Start launches the workers. Handlers receive ctx.
func (r *Router) Start(ctx context.Context) {
	for _, w := range r.workers {
		r.wg.Add(1)
		go r.run(ctx, w)
	}
}

func (r *Router) shard(guildID string) *worker {
	h := fnv.New32a()
	_, _ = h.Write([]byte(guildID))
	return r.workers[h.Sum32()%uint32(len(r.workers))]
}

// Submit queues ev on its guild's worker, blocking while the worker is
// full until ctx is done.
func (r *Router) Submit(ctx context.Context, ev Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrStopped
	}

	w := r.shard(ev.GuildID)
	select {
	case w.events <- ev:
		metrics.QueueDepth.WithLabelValues(w.label).Set(float64(len(w.events)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit %s for guild %s: %w", ev.Kind, ev.GuildID, ctx.Err())
	}
}

// Stop refuses new events and waits until queued ones are handled.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for _, w := range r.workers {
		close(w.events)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Router) run(ctx context.Context, w *worker) {
	defer r.wg.Done()
	for ev := range w.events {
		metrics.QueueDepth.WithLabelValues(w.label).Set(float64(len(w.events)))
		r.handle(ctx, w, ev)
	}
}

func (r *Router) handle(ctx context.Context, w *worker, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.QueuePanics.Inc()
			r.logger.Error("Recovered panic in event handler",
				zap.Int("worker", w.id),
				zap.String("kind", ev.Kind),
				zap.String("guild_id", ev.GuildID),
				zap.Any("panic", rec),
				zap.Stack("stack"))
		}
	}()
	ev.Handle(ctx)
}
