package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentNFT-Chain/internal/config"
	"AgentNFT-Chain/internal/txpool"
	"AgentNFT-Chain/internal/types"
)

func TestBuildNodeWithMemoryDrivers(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	cfg := config.Default(t.TempDir())
	cfg.Ledger.ChainID = 4242
	cfg.Ledger.TokenAddress = "0x00000000000000000000000000000000000a9e17"
	cfg.Ledger.Genesis.Governance = owner.Hex()
	cfg.Ledger.Genesis.Alloc = map[string]string{owner.Hex(): "100"}
	cfg.Storage.Driver = config.DriverFile
	cfg.Logic.Builtins = []string{"counter"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := buildNode(ctx, cfg)
	if err != nil {
		t.Fatalf("buildNode: %v", err)
	}
	defer n.close()

	go func() { _ = n.processor.Start(ctx) }()

	status := n.ledger.Status()
	if len(status.Logic) != 1 || status.Logic[0].Name != "counter" {
		t.Fatalf("expected counter logic to be deployed, got %+v", status.Logic)
	}
	counter := status.Logic[0].Address
	if want := crypto.CreateAddress(common.HexToAddress(cfg.Ledger.TokenAddress), 0); counter != want {
		t.Fatalf("counter deployed at %s, want %s", counter.Hex(), want.Hex())
	}

	tx := types.NewTransaction(cfg.Ledger.ChainID, 0, nil, types.MustAction(types.ActionCreateAgent, types.CreateAgentPayload{
		Owner: owner, Logic: counter, MetadataURI: "ipfs://agent",
	}))
	if err := tx.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	entry, err := n.pool.Submit(ctx, tx)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done, err := n.pool.WaitUntilDone(ctx, entry.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitUntilDone: %v", err)
	}
	if done.Status != txpool.StatusIncluded || done.Receipt == nil || !done.Receipt.Succeeded() {
		t.Fatalf("expected successful inclusion, got %+v", done)
	}
	if got := n.ledger.Status().TotalSupply; got != 1 {
		t.Fatalf("expected one agent, got %d", got)
	}
}

func TestBuildNodeRejectsUnknownBuiltin(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Ledger.ChainID = 1
	cfg.Ledger.TokenAddress = "0x00000000000000000000000000000000000a9e17"
	cfg.Ledger.Genesis.Governance = "0x1111111111111111111111111111111111111111"
	cfg.Storage.Driver = config.DriverMemory
	cfg.Logic.Builtins = []string{"missing"}
	if _, err := buildNode(context.Background(), cfg); err == nil {
		t.Fatalf("expected unknown builtin to fail")
	}
}

func TestKeygenPrintsAddress(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"keygen"})
	if err := root.Execute(); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if !strings.Contains(out.String(), "address: 0x") || !strings.Contains(out.String(), "private key: ") {
		t.Fatalf("unexpected keygen output %q", out.String())
	}
}
