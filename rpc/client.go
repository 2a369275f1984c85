package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tipjar/core/types"
	"tipjar/crypto"
)

// Client is a minimal JSON-RPC client for a tipjard node.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

func NewClient(endpoint string) *Client {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	return &Client{
		endpoint: endpoint + "/",
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Call invokes method and decodes the result into out. A JSON-RPC error is
// returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (*ReceiptResult, error) {
	var res ReceiptResult
	if err := c.Call(ctx, "tipjar_sendTransaction", &res, tx); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetAccount(ctx context.Context, addr crypto.Address) (*AccountResult, error) {
	var res AccountResult
	if err := c.Call(ctx, "tipjar_getAccount", &res, addr.String()); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetBalance(ctx context.Context, addr crypto.Address) (*BalanceResult, error) {
	var res BalanceResult
	if err := c.Call(ctx, "tipjar_getBalance", &res, addr.String()); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetTipJar(ctx context.Context, owner crypto.Address) (*JarResult, error) {
	var res JarResult
	if err := c.Call(ctx, "tipjar_getTipJar", &res, owner.String()); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) DeriveAddress(ctx context.Context, owner crypto.Address) (*DerivedAddressResult, error) {
	var res DerivedAddressResult
	if err := c.Call(ctx, "tipjar_deriveAddress", &res, owner.String()); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) RequestAirdrop(ctx context.Context, addr crypto.Address, lamports uint64) (*AirdropResult, error) {
	var res AirdropResult
	if err := c.Call(ctx, "tipjar_requestAirdrop", &res, addr.String(), lamports); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetProgramInfo(ctx context.Context) (*ProgramInfoResult, error) {
	var res ProgramInfoResult
	if err := c.Call(ctx, "tipjar_getProgramInfo", &res); err != nil {
		return nil, err
	}
	return &res, nil
}
