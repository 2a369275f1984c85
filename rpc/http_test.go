package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/native/tipjar"
)

const rentExemptJar = 1_280_640

func TestTipJarLifecycleOverRPC(t *testing.T) {
	node := newTestNode(t, RateLimit{})
	ctx := context.Background()
	owner := node.fundedKey(10_000_000)
	tipper := node.fundedKey(5_000_000)
	pid := tipjar.DefaultProgramID

	receipt := node.submit(owner, node.ix(tipjar.NewInitializeInstruction(pid, owner.Address())))
	require.True(t, receipt.Success, receipt.Error)
	require.NotEmpty(t, receipt.TxHash)
	require.Contains(t, strings.Join(receipt.Logs, "\n"), "Tip jar initialized for: "+owner.Address().String())

	receipt = node.submit(tipper, node.ix(tipjar.NewSendTipInstruction(pid, owner.Address(), tipper.Address(), 1000)))
	require.True(t, receipt.Success, receipt.Error)

	jar, err := node.client.GetTipJar(ctx, owner.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(1000), jar.TotalTips)
	require.Equal(t, uint64(rentExemptJar+1000), jar.Balance)
	require.Equal(t, uint64(1000), jar.Withdrawable)
	require.Equal(t, int64(1_700_000_000), jar.CreatedAt)

	derived, err := node.client.DeriveAddress(ctx, owner.Address())
	require.NoError(t, err)
	require.Equal(t, jar.Address, derived.Address)
	require.Equal(t, jar.Bump, derived.Bump)

	before, err := node.client.GetBalance(ctx, owner.Address())
	require.NoError(t, err)
	receipt = node.submit(owner, node.ix(tipjar.NewWithdrawInstruction(pid, owner.Address(), 400)))
	require.True(t, receipt.Success, receipt.Error)
	after, err := node.client.GetBalance(ctx, owner.Address())
	require.NoError(t, err)
	require.Equal(t, before.Lamports+400, after.Lamports)

	jar, err = node.client.GetTipJar(ctx, owner.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(1000), jar.TotalTips)
	require.Equal(t, uint64(600), jar.Withdrawable)

	receipt = node.submit(owner, node.ix(tipjar.NewWithdrawInstruction(pid, owner.Address(), 10_000_000)))
	require.False(t, receipt.Success)
	require.Contains(t, receipt.Error, "insufficient funds")

	account, err := node.client.GetAccount(ctx, crypto.MustDecodeAddress(jar.Address))
	require.NoError(t, err)
	require.Equal(t, pid.String(), account.Owner)
	require.Len(t, account.Data, 2*tipjar.RecordSize)
}

func TestSendTransactionRejections(t *testing.T) {
	node := newTestNode(t, RateLimit{})
	owner := node.fundedKey(10_000_000)
	ix := node.ix(tipjar.NewInitializeInstruction(tipjar.DefaultProgramID, owner.Address()))

	stale := types.NewTransaction(7, []crypto.Address{owner.Address()}, ix)
	require.NoError(t, stale.Sign(owner))
	_, err := node.client.SendTransaction(context.Background(), stale)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr), "expected rpc error, got %v", err)
	require.Equal(t, codeDuplicateTx, rpcErr.Code)

	unsigned := types.NewTransaction(0, []crypto.Address{owner.Address()}, ix)
	_, err = node.client.SendTransaction(context.Background(), unsigned)
	require.True(t, errors.As(err, &rpcErr), "expected rpc error, got %v", err)
	require.Equal(t, codeUnauthorized, rpcErr.Code)
}

func TestGetTipJarNotFound(t *testing.T) {
	node := newTestNode(t, RateLimit{})
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	_, err = node.client.GetTipJar(context.Background(), key.Address())
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, codeNotFound, rpcErr.Code)
}

func TestGetProgramInfo(t *testing.T) {
	node := newTestNode(t, RateLimit{})
	info, err := node.client.GetProgramInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, tipjar.DefaultProgramID.String(), info.ProgramID)
	require.Equal(t, 56, info.RecordSize)
	require.Equal(t, uint64(rentExemptJar), info.RentExemptMinimum)
	require.Equal(t, hex.EncodeToString(tipjar.RecordDiscriminator[:]), info.Discriminator)
	require.Len(t, info.Instructions, 3)
	require.True(t, info.FaucetEnabled)
}

func TestAirdropLimits(t *testing.T) {
	node := newTestNode(t, RateLimit{})
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	_, err = node.client.RequestAirdrop(context.Background(), key.Address(), 0)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, codeInvalidParams, rpcErr.Code)

	res, err := node.client.RequestAirdrop(context.Background(), key.Address(), 42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), res.Balance)
}

func postRaw(t *testing.T, url, body string) (int, RPCResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestMalformedRequests(t *testing.T) {
	node := newTestNode(t, RateLimit{})
	cases := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{"bad json", "{", http.StatusBadRequest, codeParseError},
		{"empty", "   ", http.StatusBadRequest, codeInvalidRequest},
		{"no method", `{"jsonrpc":"2.0","id":1}`, http.StatusBadRequest, codeInvalidRequest},
		{"wrong version", `{"jsonrpc":"1.0","method":"tipjar_getBalance","id":1}`, http.StatusBadRequest, codeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"eth_call","id":1}`, http.StatusNotFound, codeMethodNotFound},
		{"bad address", `{"jsonrpc":"2.0","method":"tipjar_getBalance","params":["0OIl"],"id":1}`, http.StatusBadRequest, codeInvalidParams},
		{"extra params", `{"jsonrpc":"2.0","method":"tipjar_getProgramInfo","params":[1],"id":1}`, http.StatusBadRequest, codeInvalidParams},
	}
	for _, tc := range cases {
		status, resp := postRaw(t, node.http.URL, tc.body)
		if status != tc.status || resp.Error == nil || resp.Error.Code != tc.code {
			t.Fatalf("%s: status=%d resp=%+v", tc.name, status, resp.Error)
		}
	}
}

func TestBalanceAcceptsObjectParam(t *testing.T) {
	node := newTestNode(t, RateLimit{})
	key := node.fundedKey(77)
	status, resp := postRaw(t, node.http.URL,
		`{"jsonrpc":"2.0","method":"tipjar_getBalance","params":[{"address":"`+key.Address().String()+`"}],"id":"a"}`)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)
	require.Equal(t, "a", resp.ID)
}

func TestRateLimiterThrottlesPerClient(t *testing.T) {
	node := newTestNode(t, RateLimit{RequestsPerMinute: 1, Burst: 1})
	body := `{"jsonrpc":"2.0","method":"tipjar_getProgramInfo","id":1}`

	status, _ := postRaw(t, node.http.URL, body)
	require.Equal(t, http.StatusOK, status)
	status, resp := postRaw(t, node.http.URL, body)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)

	req, err := http.NewRequest(http.MethodPost, node.http.URL, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Real-IP", "10.0.0.9")
	other, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	other.Body.Close()
	require.Equal(t, http.StatusOK, other.StatusCode)
}

func TestHealthzMetricsAndRequestID(t *testing.T) {
	node := newTestNode(t, RateLimit{})

	resp, err := http.Get(node.http.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, "ok", string(body))
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))

	_, err = node.client.GetProgramInfo(context.Background())
	require.NoError(t, err)
	resp, err = http.Get(node.http.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(body), "tipjar_rpc_requests_total")
}

func TestEventStreamDeliversCommittedEvents(t *testing.T) {
	node := newTestNode(t, RateLimit{})
	owner := node.fundedKey(10_000_000)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(node.http.URL, "http") + "/ws?type=tipjar."
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return node.broadcaster.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	receipt := node.submit(owner, node.ix(tipjar.NewInitializeInstruction(tipjar.DefaultProgramID, owner.Address())))
	require.True(t, receipt.Success, receipt.Error)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, tipjar.EventTypeInitialized, evt.Type)
	require.Equal(t, owner.Address().String(), evt.Attributes["owner"])
}

func TestMatchesFilter(t *testing.T) {
	filter := parseTypeFilter(" tipjar.tipped, system.")
	require.True(t, matchesFilter(filter, "system.transfer"))
	require.True(t, matchesFilter(filter, tipjar.EventTypeTipped))
	require.False(t, matchesFilter(filter, tipjar.EventTypeWithdrawn))
	require.True(t, matchesFilter(nil, "anything"))
}
