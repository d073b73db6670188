package txpool

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/types"
)

type stubValidator struct {
	sender common.Address
	err    error
	calls  int
}

func (s *stubValidator) Validate(*types.Transaction) (common.Address, error) {
	s.calls++
	return s.sender, s.err
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

func TestServiceSubmitDeduplicatesByHash(t *testing.T) {
	ctx := context.Background()
	validator := &stubValidator{sender: common.HexToAddress("0xbeef")}
	queue := NewMemoryQueue(8)
	service := NewService(validator, NewMemoryStore(), queue, 0)

	tx := unsignedTx(0)
	first, err := service.Submit(ctx, tx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.ID != tx.Hash().Hex() || first.Sender != validator.sender.Hex() || first.MaxRetries != 3 {
		t.Fatalf("unexpected entry %+v", first)
	}
	again, err := service.Submit(ctx, tx)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.ID != first.ID || validator.calls != 1 || queue.Len() != 1 {
		t.Fatalf("duplicate submission must not be validated or enqueued again")
	}
}

func TestServiceSubmitValidation(t *testing.T) {
	ctx := context.Background()

	if _, err := NewService(&stubValidator{}, NewMemoryStore(), NewMemoryQueue(1), 1).Submit(ctx, nil); !IsPoolError(err, CodeEntryValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	rejected := NewService(&stubValidator{err: types.ErrNonceTooLow}, NewMemoryStore(), NewMemoryQueue(1), 1)
	if _, err := rejected.Submit(ctx, unsignedTx(0)); !errors.Is(err, types.ErrNonceTooLow) {
		t.Fatalf("expected nonce too low, got %v", err)
	}

	future := NewService(&stubValidator{err: types.ErrNonceTooHigh}, NewMemoryStore(), NewMemoryQueue(1), 1)
	entry, err := future.Submit(ctx, unsignedTx(5))
	if err != nil || entry.Status != StatusPending || entry.Nonce != 5 {
		t.Fatalf("future nonce should be queued, got %+v, %v", entry, err)
	}
}

func TestServiceSubmitPublishFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(&stubValidator{}, store, failingProducer{}, 3)

	tx := unsignedTx(0)
	if _, err := service.Submit(ctx, tx); !IsPoolError(err, CodeEntryPublish) {
		t.Fatalf("expected publish error, got %v", err)
	}
	entry, err := store.Get(ctx, tx.Hash().Hex())
	if err != nil {
		t.Fatalf("entry should be recorded: %v", err)
	}
	if entry.Status != StatusFailed || !entry.Done() {
		t.Fatalf("publish failure must be terminal, got %+v", entry)
	}
}

func TestServiceListAndStats(t *testing.T) {
	ctx := context.Background()
	service := NewService(&stubValidator{}, NewMemoryStore(), NewMemoryQueue(8), 3)
	for i := uint64(0); i < 3; i++ {
		if _, err := service.Submit(ctx, unsignedTx(i)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	list, err := service.List(ctx, WithStatuses(StatusPending), WithLimit(2))
	if err != nil || len(list) != 2 {
		t.Fatalf("unexpected list %d, %v", len(list), err)
	}
	stats, err := service.Stats(ctx)
	if err != nil || stats.Total != 3 || stats.Pending != 3 {
		t.Fatalf("unexpected stats %+v, %v", stats, err)
	}
	if _, err := service.Get(ctx, "0xmissing"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
