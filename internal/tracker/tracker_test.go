package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"discord-invite-tracker/internal/directory"
	"discord-invite-tracker/internal/metrics"
	"discord-invite-tracker/internal/models"
)

type fakeLedger struct {
	mu       sync.Mutex
	invites  map[string]*models.Invite
	recorded []string
	failNext error
}

func newFakeLedger(codes ...string) *fakeLedger {
	l := &fakeLedger{invites: make(map[string]*models.Invite)}
	for i, c := range codes {
		l.invites[c] = &models.Invite{ID: int64(i + 1), Code: c, CreatorID: "creator-" + c}
	}
	return l
}

func (l *fakeLedger) GetInviteByCode(ctx context.Context, code string) (*models.Invite, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.invites[code], nil
}

func (l *fakeLedger) RecordUsage(ctx context.Context, inviteID int64, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failNext; err != nil {
		l.failNext = nil
		return 0, err
	}
	for code, inv := range l.invites {
		if inv.ID == inviteID {
			l.recorded = append(l.recorded, code+":"+userID)
			return int64(len(l.recorded)), nil
		}
	}
	return 0, errors.New("unknown invite")
}

func setup(t *testing.T, codes ...string) (*Tracker, *directory.Memory, *fakeLedger) {
	t.Helper()
	dir := directory.NewMemory()
	ledger := newFakeLedger(codes...)
	return New(dir, ledger, nil, Config{}), dir, ledger
}

func TestAttributeFirstIncremented(t *testing.T) {
	tr, dir, ledger := setup(t, "A", "B")
	ctx := context.Background()

	dir.Set("g1", directory.InviteCount{Code: "A", Uses: 5}, directory.InviteCount{Code: "B", Uses: 2})
	if err := tr.Sync(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	dir.Use("g1", "B")

	att, err := tr.Attribute(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if att.Code != "B" || !att.Attributed() {
		t.Errorf("expected attribution to B, got %+v", att)
	}

	snap := tr.Snapshot("g1")
	if snap["A"] != 5 || snap["B"] != 3 || len(snap) != 2 {
		t.Errorf("expected baseline {A:5,B:3}, got %v", snap)
	}
	if len(ledger.recorded) != 1 || ledger.recorded[0] != "B:u1" {
		t.Errorf("expected one usage for B, got %v", ledger.recorded)
	}
}

func TestAttributeDirectoryOrderWins(t *testing.T) {
	tr, dir, _ := setup(t, "A", "B")
	ctx := context.Background()

	dir.Set("g1", directory.InviteCount{Code: "A", Uses: 1}, directory.InviteCount{Code: "B", Uses: 1})
	if err := tr.Sync(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	dir.Use("g1", "B")
	dir.Use("g1", "A")

	att, err := tr.Attribute(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if att.Code != "A" {
		t.Errorf("expected first incremented code in directory order, got %q", att.Code)
	}
}

func TestAttributeAbsentBaselineIsZero(t *testing.T) {
	tr, dir, _ := setup(t, "A", "NEW")
	ctx := context.Background()

	dir.Set("g1", directory.InviteCount{Code: "A", Uses: 5})
	if err := tr.Sync(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	dir.Set("g1", directory.InviteCount{Code: "A", Uses: 5}, directory.InviteCount{Code: "NEW", Uses: 1})

	att, err := tr.Attribute(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if att.Code != "NEW" {
		t.Errorf("expected unseen invite with uses to win, got %q", att.Code)
	}
}

func TestAttributeNoChange(t *testing.T) {
	tr, dir, ledger := setup(t, "A")
	ctx := context.Background()

	dir.Set("g1", directory.InviteCount{Code: "A", Uses: 5})
	if err := tr.Sync(ctx, "g1"); err != nil {
		t.Fatal(err)
	}

	att, err := tr.Attribute(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if att.Outcome != metrics.OutcomeUnattributed || att.Code != "" {
		t.Errorf("expected unattributed join, got %+v", att)
	}
	if len(ledger.recorded) != 0 {
		t.Errorf("expected no ledger writes, got %v", ledger.recorded)
	}
}

func TestAttributeUntrackedInvite(t *testing.T) {
	tr, dir, ledger := setup(t)
	ctx := context.Background()

	dir.Set("g1", directory.InviteCount{Code: "VANITY", Uses: 0})
	if err := tr.Sync(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	dir.Use("g1", "VANITY")

	att, err := tr.Attribute(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if att.Outcome != metrics.OutcomeUntracked || att.Code != "VANITY" {
		t.Errorf("expected untracked outcome, got %+v", att)
	}
	if len(ledger.recorded) != 0 {
		t.Errorf("expected no ledger writes, got %v", ledger.recorded)
	}
	if tr.Snapshot("g1")["VANITY"] != 1 {
		t.Error("expected snapshot updated after untracked join")
	}
}

func TestAttributeDirectoryFailureKeepsSnapshot(t *testing.T) {
	tr, dir, _ := setup(t, "A")
	ctx := context.Background()

	dir.Set("g1", directory.InviteCount{Code: "A", Uses: 5})
	if err := tr.Sync(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	dir.Use("g1", "A")
	dir.FailNext("list", directory.ErrUnavailable)

	att, err := tr.Attribute(ctx, "g1", "u1")
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if att.Reason != "directory unavailable" {
		t.Errorf("unexpected reason %q", att.Reason)
	}
	if tr.Snapshot("g1")["A"] != 5 {
		t.Errorf("expected snapshot untouched, got %v", tr.Snapshot("g1"))
	}
}

func TestAttributeLedgerFailureStillOverwrites(t *testing.T) {
	tr, dir, ledger := setup(t, "A")
	ctx := context.Background()

	dir.Set("g1", directory.InviteCount{Code: "A", Uses: 5})
	if err := tr.Sync(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	dir.Use("g1", "A")
	ledger.failNext = errors.New("db down")

	att, err := tr.Attribute(ctx, "g1", "u1")
	if err == nil {
		t.Fatal("expected ledger error")
	}
	if att.Outcome != metrics.OutcomeLedgerError {
		t.Errorf("unexpected outcome %q", att.Outcome)
	}
	if tr.Snapshot("g1")["A"] != 6 {
		t.Errorf("expected snapshot overwritten, got %v", tr.Snapshot("g1"))
	}
}

func TestUnsyncedGuildCountsFromZero(t *testing.T) {
	tr, dir, _ := setup(t, "A")
	ctx := context.Background()

	if tr.State("g1") != Unsynced {
		t.Fatal("expected unsynced guild")
	}
	dir.Set("g1", directory.InviteCount{Code: "A", Uses: 3})

	att, err := tr.Attribute(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if att.Code != "A" {
		t.Errorf("expected A with empty baseline, got %q", att.Code)
	}
	if tr.State("g1") != Synced {
		t.Error("expected guild synced after attribution")
	}
}

func TestObserveCreatedAndDeleted(t *testing.T) {
	tr, dir, _ := setup(t)
	ctx := context.Background()

	tr.ObserveCreated("g1", "X", 0)
	if tr.State("g1") != Unsynced {
		t.Error("observing an unsynced guild must not create a snapshot")
	}

	dir.Set("g1")
	if err := tr.Sync(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	tr.ObserveCreated("g1", "X", 2)
	if _, ok := tr.Snapshot("g1")["X"]; !ok {
		t.Error("expected X in snapshot")
	}
	tr.ObserveCreated("g1", "X", 0)
	if got := tr.Snapshot("g1")["X"]; got != 2 {
		t.Errorf("a repeated observation must not lower the count, got %d", got)
	}
	tr.ObserveDeleted("g1", "X")
	if _, ok := tr.Snapshot("g1")["X"]; ok {
		t.Error("expected X removed")
	}

	tr.Forget("g1")
	if tr.State("g1") != Unsynced {
		t.Error("expected forgotten guild to be unsynced")
	}
}

// heldLister reads live counts immediately but holds the first answer
// until release is closed.
type heldLister struct {
	*directory.Memory
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newHeldLister(dir *directory.Memory) *heldLister {
	return &heldLister{Memory: dir, read: make(chan struct{}), release: make(chan struct{})}
}

func (h *heldLister) ListInvites(ctx context.Context, guildID string) ([]directory.InviteCount, error) {
	live, err := h.Memory.ListInvites(ctx, guildID)
	first := false
	h.once.Do(func() { first = true })
	if first {
		close(h.read)
		<-h.release
	}
	return live, err
}

func TestSlowSyncDoesNotRollBackAttribution(t *testing.T) {
	dir := directory.NewMemory()
	dir.Set("g1", directory.InviteCount{Code: "A", Uses: 5}, directory.InviteCount{Code: "B", Uses: 0})
	held := newHeldLister(dir)
	ledger := newFakeLedger("A", "B")
	tr := New(held, ledger, nil, Config{})
	ctx := context.Background()

	synced := make(chan error, 1)
	go func() { synced <- tr.Sync(ctx, "g1") }()
	<-held.read

	// The join through A is diffed against an empty baseline while the sync
	// is still outstanding, then stores {A:6 B:0}.
	dir.Use("g1", "A")
	if _, err := tr.Attribute(ctx, "g1", "u1"); err != nil {
		t.Fatal(err)
	}
	close(held.release)
	if err := <-synced; err != nil {
		t.Fatal(err)
	}
	if got := tr.Snapshot("g1"); got["A"] != 6 || got["B"] != 0 {
		t.Fatalf("slow sync rolled the snapshot back: %v", got)
	}

	dir.Use("g1", "B")
	att, err := tr.Attribute(ctx, "g1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if att.Code != "B" {
		t.Errorf("expected second join via B, got %q (recorded %v)", att.Code, ledger.recorded)
	}
}

func TestForgetDiscardsInFlightSync(t *testing.T) {
	dir := directory.NewMemory()
	dir.Set("g1", directory.InviteCount{Code: "A", Uses: 1})
	held := newHeldLister(dir)
	tr := New(held, newFakeLedger(), nil, Config{})

	synced := make(chan error, 1)
	go func() { synced <- tr.Sync(context.Background(), "g1") }()
	<-held.read
	tr.Forget("g1")
	close(held.release)
	if err := <-synced; err != nil {
		t.Fatal(err)
	}
	if tr.State("g1") != Unsynced {
		t.Error("a sync started before Forget must not resurrect the snapshot")
	}
}
