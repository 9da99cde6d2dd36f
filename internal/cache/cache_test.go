package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memRemote struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemRemote() *memRemote { return &memRemote{data: make(map[string][]byte)} }

func (m *memRemote) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return v, nil
}

func (m *memRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memRemote) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type board struct {
	Names []string `json:"names"`
}

func TestFetchLoadsOnceThenHitsL1(t *testing.T) {
	c, err := NewCache(nil, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	loads := 0
	load := func(context.Context) (*board, error) {
		loads++
		return &board{Names: []string{"a"}}, nil
	}

	if _, err := Fetch(ctx, c, "k", load); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	got, err := Fetch(ctx, c, "k", load)
	if err != nil {
		t.Fatal(err)
	}
	if loads != 1 {
		t.Errorf("expected one load, got %d", loads)
	}
	if len(got.Names) != 1 || got.Names[0] != "a" {
		t.Errorf("unexpected value %+v", got)
	}
	if c.GetMetrics().L1Hits != 1 {
		t.Errorf("expected one L1 hit, got %+v", c.GetMetrics())
	}
}

func TestFetchFallsBackToL2(t *testing.T) {
	remote := newMemRemote()
	remote.data["k"] = []byte(`{"names":["from-redis"]}`)

	c, err := NewCache(remote, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	got, err := Fetch(context.Background(), c, "k", func(context.Context) (board, error) {
		t.Error("loader must not run on an L2 hit")
		return board{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Names) != 1 || got.Names[0] != "from-redis" {
		t.Errorf("unexpected value %+v", got)
	}
}

func TestFetchWritesThroughAndDelete(t *testing.T) {
	remote := newMemRemote()
	c, err := NewCache(remote, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if _, err := Fetch(ctx, c, "k", func(context.Context) (int, error) { return 42, nil }); err != nil {
		t.Fatal(err)
	}
	if string(remote.data["k"]) != "42" {
		t.Errorf("expected JSON in L2, got %q", remote.data["k"])
	}

	c.Wait()
	c.Delete(ctx, "k")
	if _, ok := remote.data["k"]; ok {
		t.Error("expected key removed from L2")
	}

	loads := 0
	if _, err := Fetch(ctx, c, "k", func(context.Context) (int, error) { loads++; return 7, nil }); err != nil {
		t.Fatal(err)
	}
	if loads != 1 {
		t.Error("expected reload after delete")
	}
}

func TestDeleteDuringLoadIsNotOverwritten(t *testing.T) {
	remote := newMemRemote()
	c, err := NewCache(remote, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	started, release := make(chan struct{}), make(chan struct{})
	stale := make(chan int, 1)
	go func() {
		v, _ := Fetch(ctx, c, "k", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		stale <- v
	}()

	<-started
	c.Delete(ctx, "k")
	close(release)
	if v := <-stale; v != 1 {
		t.Fatalf("expected the in-flight caller to get its load, got %d", v)
	}
	c.Wait()

	if _, ok := remote.data["k"]; ok {
		t.Error("a load that overlapped Delete must not reach L2")
	}
	v, err := Fetch(ctx, c, "k", func(context.Context) (int, error) { return 2, nil })
	if err != nil || v != 2 {
		t.Errorf("expected a fresh load after delete, got %d, %v", v, err)
	}
}

func TestFetchErrorNotCached(t *testing.T) {
	c, err := NewCache(nil, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	boom := errors.New("db down")
	if _, err := Fetch(ctx, c, "k", func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	c.Wait()
	v, err := Fetch(ctx, c, "k", func(context.Context) (int, error) { return 3, nil })
	if err != nil || v != 3 {
		t.Errorf("expected fresh load after error, got %d, %v", v, err)
	}
}

func TestNilCacheLoads(t *testing.T) {
	var c *Cache
	v, err := Fetch(context.Background(), c, "k", func(context.Context) (string, error) { return "x", nil })
	if err != nil || v != "x" {
		t.Errorf("expected direct load, got %q, %v", v, err)
	}
	c.Delete(context.Background(), "k")
}
