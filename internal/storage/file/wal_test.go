package file

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/state"
	"AgentNFT-Chain/internal/storage"
	"AgentNFT-Chain/internal/types"
)

func TestRepositoryReplaysCommits(t *testing.T) {
	dir := t.TempDir()
	repo, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	db := state.New()
	owner := common.HexToAddress("0x01")
	db.AddBalance(owner, big.NewInt(10))
	db.SetOwner(1, owner)
	db.SetNextID(2)
	db.SetAgent(1, &types.AgentState{Balance: big.NewInt(3), Status: types.StatusActive, Owner: owner})
	if err := repo.Persist(ctx, storage.Checkpoint{Height: 1, Timestamp: 100}, db.Commit()); err != nil {
		t.Fatalf("persist 1: %v", err)
	}
	db.SetBalance(owner, big.NewInt(7))
	db.SetState(1, common.Hash{0x01}, common.Hash{0x02})
	if err := repo.Persist(ctx, storage.Checkpoint{Height: 2, Timestamp: 105}, db.Commit()); err != nil {
		t.Fatalf("persist 2: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	cs, cp, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp.Height != 2 || cp.Timestamp != 105 {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}
	restored := state.New()
	restored.Apply(cs)
	if restored.GetBalance(owner).Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("balance not replayed: %s", restored.GetBalance(owner))
	}
	if restored.GetState(1, common.Hash{0x01}) != (common.Hash{0x02}) {
		t.Fatalf("slot not replayed")
	}
	if st := restored.Agent(1); st == nil || st.Balance.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("agent not replayed: %+v", st)
	}
	if restored.NextID() != 2 {
		t.Fatalf("next id %d", restored.NextID())
	}
}

func TestRepositoryTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	repo, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db := state.New()
	db.AddBalance(common.HexToAddress("0x02"), big.NewInt(1))
	if err := repo.Persist(context.Background(), storage.Checkpoint{Height: 1}, db.Commit()); err != nil {
		t.Fatalf("persist: %v", err)
	}
	repo.Close()

	f, err := os.OpenFile(repo.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	if _, err := f.WriteString(`{"height":2,"chan`); err != nil {
		t.Fatalf("write torn tail: %v", err)
	}
	f.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	_, cp, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp.Height != 1 {
		t.Fatalf("torn record must be ignored, got height %d", cp.Height)
	}
	info, err := os.Stat(reopened.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	raw, _ := os.ReadFile(reopened.Path())
	if int64(len(raw)) != info.Size() || raw[len(raw)-1] != '\n' {
		t.Fatalf("wal should end on a complete record")
	}
}

func TestEmptyRepository(t *testing.T) {
	repo, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()
	cs, cp, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cs != nil || cp.Height != 0 {
		t.Fatalf("expected empty state, got %+v %+v", cs, cp)
	}
}
