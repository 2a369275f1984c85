package rpc

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"tipjar/core/events"
	"tipjar/core/runtime"
	"tipjar/core/state"
	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/native/faucet"
	"tipjar/native/system"
	"tipjar/native/tipjar"
	"tipjar/storage"
)

type testNode struct {
	t           *testing.T
	exec        *runtime.Executor
	broadcaster *events.Broadcaster
	server      *Server
	http        *httptest.Server
	client      *Client
}

func newTestNode(t *testing.T, limit RateLimit) *testNode {
	t.Helper()
	db := storage.NewMemDB()
	broadcaster := events.NewBroadcaster()
	rent := system.DefaultRent()
	exec, err := runtime.NewExecutor(state.NewManager(db), runtime.Config{
		Rent:    rent,
		Now:     func() time.Time { return time.Unix(1_700_000_000, 0) },
		Emitter: broadcaster,
	}, system.NewProgram(), tipjar.NewProgram(tipjar.DefaultProgramID, rent))
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	drops := faucet.New(faucet.Config{
		Enabled:           true,
		MaxLamports:       100_000_000_000,
		RequestsPerMinute: 6_000,
		Burst:             100,
	}, exec, faucet.NewStore(db), nil)
	srv, err := NewServer(ServerConfig{
		ProgramID:   tipjar.DefaultProgramID,
		Executor:    exec,
		Faucet:      drops,
		Broadcaster: broadcaster,
		RateLimit:   limit,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testNode{
		t:           t,
		exec:        exec,
		broadcaster: broadcaster,
		server:      srv,
		http:        ts,
		client:      NewClient(ts.URL),
	}
}

func (n *testNode) fundedKey(lamports uint64) *crypto.PrivateKey {
	n.t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		n.t.Fatalf("generate key: %v", err)
	}
	if _, err := n.client.RequestAirdrop(context.Background(), key.Address(), lamports); err != nil {
		n.t.Fatalf("airdrop: %v", err)
	}
	return key
}

func (n *testNode) signed(key *crypto.PrivateKey, ix types.Instruction) *types.Transaction {
	n.t.Helper()
	bal, err := n.client.GetBalance(context.Background(), key.Address())
	if err != nil {
		n.t.Fatalf("balance: %v", err)
	}
	tx := types.NewTransaction(bal.Nonce, []crypto.Address{key.Address()}, ix)
	if err := tx.Sign(key); err != nil {
		n.t.Fatalf("sign: %v", err)
	}
	return tx
}

func (n *testNode) ix(ix types.Instruction, err error) types.Instruction {
	n.t.Helper()
	if err != nil {
		n.t.Fatalf("build instruction: %v", err)
	}
	return ix
}

func (n *testNode) submit(key *crypto.PrivateKey, ix types.Instruction) *ReceiptResult {
	n.t.Helper()
	receipt, err := n.client.SendTransaction(context.Background(), n.signed(key, ix))
	if err != nil {
		n.t.Fatalf("send transaction: %v", err)
	}
	return receipt
}
