package txpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"AgentNFT-Chain/internal/types"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)
	entries := []*Entry{
		{ID: "0x01", Sender: "0xA", Kind: "fund_agent", Status: StatusPending, MaxRetries: 3},
		{ID: "0x02", Sender: "0xA", Kind: "withdraw", Status: StatusPending, MaxRetries: 3},
		{ID: "0x03", Sender: "0xB", Kind: "fund_agent", Status: StatusPending, MaxRetries: 3},
	}
	for _, entry := range entries {
		if err := store.Create(ctx, entry); err != nil {
			t.Fatalf("create %s: %v", entry.ID, err)
		}
	}
	if err := store.MarkFailed(ctx, "0x02", CodeEntryProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkIncluded(ctx, "0x03", &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: 7}); err != nil {
		t.Fatalf("mark included: %v", err)
	}

	store.mu.Lock()
	store.entries["0x01"].UpdatedAt = base.Unix()
	store.entries["0x02"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.entries["0x03"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "0x03" {
		t.Fatalf("expected newest entry first, got %+v", all)
	}

	failed, err := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed)))
	if err != nil || len(failed) != 1 || failed[0].ID != "0x02" {
		t.Fatalf("unexpected failed list: %+v, %v", failed, err)
	}

	bySender, err := store.List(ctx, BuildListOptions(WithSender("0xA"), WithSortOrder(SortByUpdatedAsc)))
	if err != nil || len(bySender) != 2 || bySender[0].ID != "0x01" {
		t.Fatalf("unexpected sender list: %+v, %v", bySender, err)
	}

	funds, err := store.List(ctx, BuildListOptions(WithKind("fund_agent"), WithUpdatedSince(base.Add(15*time.Second))))
	if err != nil || len(funds) != 1 || funds[0].ID != "0x03" {
		t.Fatalf("unexpected kind list: %+v, %v", funds, err)
	}

	paged, err := store.List(ctx, BuildListOptions(WithLimit(1), WithOffset(1)))
	if err != nil || len(paged) != 1 || paged[0].ID != "0x02" {
		t.Fatalf("unexpected page: %+v, %v", paged, err)
	}
	if rest, _ := store.List(ctx, BuildListOptions(WithOffset(5))); len(rest) != 0 {
		t.Fatalf("offset past the end must return nothing")
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		if err := store.Create(ctx, &Entry{ID: id, Status: StatusPending, MaxRetries: 2}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := store.Claim(ctx, "b"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkIncluded(ctx, "c", nil); err != nil {
		t.Fatalf("include: %v", err)
	}
	if err := store.MarkFailed(ctx, "d", CodeEntryProcessing, "x", false); err != nil {
		t.Fatalf("fail: %v", err)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Pending != 1 || stats.Running != 1 || stats.Included != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.OldestUpdatedAt == 0 || stats.NewestUpdatedAt < stats.OldestUpdatedAt {
		t.Fatalf("unexpected time range %+v", stats)
	}

	empty, err := store.Stats(ctx, BuildListOptions(WithSender("nobody")))
	if err != nil || empty.Total != 0 || empty.OldestUpdatedAt != 0 {
		t.Fatalf("unexpected empty stats %+v, %v", empty, err)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Create(ctx, &Entry{ID: "x", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Entry{ID: "x"}); !errors.Is(err, ErrEntryConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	entry, err := store.Claim(ctx, "x")
	if err != nil || entry.Attempts != 1 || entry.Status != StatusRunning {
		t.Fatalf("unexpected claim %+v, %v", entry, err)
	}
	if _, err := store.Claim(ctx, "x"); !errors.Is(err, ErrEntryConflict) {
		t.Fatalf("running entry must not be claimed twice, got %v", err)
	}

	if err := store.MarkFailed(ctx, "x", types.CodeNonceTooHigh, "later", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if entry, err = store.Claim(ctx, "x"); err != nil || entry.Attempts != 2 {
		t.Fatalf("retryable failure should be claimable, got %+v, %v", entry, err)
	}
	if err := store.MarkFailed(ctx, "x", types.CodeNonceTooHigh, "later", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "x"); !errors.Is(err, ErrEntryExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if got, _ := store.Get(ctx, "x"); !got.Done() {
		t.Fatalf("exhausted entry should be done")
	}
}

func TestMemoryStoreTerminalFailure(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Entry{ID: "y", Status: StatusPending, MaxRetries: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "y"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "y", types.CodeNonceTooLow, "stale", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "y"); !errors.Is(err, ErrEntryExhausted) {
		t.Fatalf("terminal failure must not be claimable, got %v", err)
	}
	got, err := store.Get(ctx, "y")
	if err != nil || !got.Done() || got.ErrorCode != string(types.CodeNonceTooLow) {
		t.Fatalf("unexpected entry %+v, %v", got, err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Entry{ID: "z", Status: StatusPending, MaxRetries: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkIncluded(ctx, "z", &types.Receipt{BlockNumber: 3}); err != nil {
		t.Fatalf("include: %v", err)
	}
	got, _ := store.Get(ctx, "z")
	got.Receipt.BlockNumber = 99
	got.Status = StatusFailed

	again, _ := store.Get(ctx, "z")
	if again.Receipt.BlockNumber != 3 || again.Status != StatusIncluded {
		t.Fatalf("store must hand out copies, got %+v", again)
	}
}
