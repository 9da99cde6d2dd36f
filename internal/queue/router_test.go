package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"discord-invite-tracker/internal/metrics"
)

func TestRouterKeepsGuildOrder(t *testing.T) {
	r := NewRouter(Config{Workers: 4, Size: 8}, nil)
	r.Start(context.Background())

	var mu sync.Mutex
	seen := make(map[string][]int)

	for i := 0; i < 50; i++ {
		for _, g := range []string{"g1", "g2", "g3"} {
			guild, n := g, i
			err := r.Submit(context.Background(), Event{GuildID: guild, Kind: "test", Handle: func(context.Context) {
				mu.Lock()
				seen[guild] = append(seen[guild], n)
				mu.Unlock()
			}})
			if err != nil {
				t.Fatal(err)
			}
		}
	}
	r.Stop()

	for g, got := range seen {
		if len(got) != 50 {
			t.Errorf("%s: expected 50 events, got %d", g, len(got))
		}
		for i, n := range got {
			if n != i {
				t.Errorf("%s: out of order at %d: %v", g, i, got)
				break
			}
		}
	}
}

func TestRouterSameGuildSameWorker(t *testing.T) {
	r := NewRouter(Config{Workers: 8}, nil)
	for i := 0; i < 100; i++ {
		g := fmt.Sprintf("guild-%d", i)
		if r.shard(g) != r.shard(g) {
			t.Fatalf("guild %s moved between workers", g)
		}
	}
}

func TestRouterRecoversPanics(t *testing.T) {
	r := NewRouter(Config{Workers: 1}, nil)
	r.Start(context.Background())
	before := testutil.ToFloat64(metrics.QueuePanics)

	var ran atomic.Bool
	_ = r.Submit(context.Background(), Event{GuildID: "g", Kind: "boom", Handle: func(context.Context) { panic("boom") }})
	_ = r.Submit(context.Background(), Event{GuildID: "g", Kind: "after", Handle: func(context.Context) { ran.Store(true) }})
	r.Stop()

	if !ran.Load() {
		t.Error("expected worker to keep running after a panic")
	}
	if got := testutil.ToFloat64(metrics.QueuePanics) - before; got != 1 {
		t.Errorf("expected one recorded panic, got %v", got)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	r := NewRouter(Config{Workers: 1}, nil)
	r.Start(context.Background())
	r.Stop()
	r.Stop()

	if err := r.Submit(context.Background(), Event{GuildID: "g", Handle: func(context.Context) {}}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestSubmitHonoursContext(t *testing.T) {
	// Not started, so the single slot stays full.
	r := NewRouter(Config{Workers: 1, Size: 1}, nil)
	noop := Event{GuildID: "g", Handle: func(context.Context) {}}
	if err := r.Submit(context.Background(), noop); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Submit(ctx, noop); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
