// Package ethrpc reads consent events from an Ethereum JSON-RPC node by
// polling eth_getLogs.
package ethrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/go-resty/resty/v2"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Client is a minimal JSON-RPC client. Every failure it returns wraps
// common.ErrTransientRPC.
type Client struct {
	http *resty.Client
	url  string
	id   atomic.Uint64
}

func retryOnErrOr5xx(r *resty.Response, err error) bool {
	return err != nil || (r != nil && (r.StatusCode() >= http.StatusInternalServerError || r.StatusCode() == http.StatusTooManyRequests))
}

func NewClient(url string, timeout time.Duration) *Client {
	h := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(retryOnErrOr5xx)
	return &Client{http: h, url: url}
}

func (c *Client) call(ctx context.Context, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	r, err := c.http.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", ID: c.id.Add(1), Method: method, Params: params}).
		Post(c.url)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", common.ErrTransientRPC, method, err)
	}
	if r.IsError() {
		return fmt.Errorf("%w: %s: http %d", common.ErrTransientRPC, method, r.StatusCode())
	}
	var resp rpcResponse
	if err := json.Unmarshal(r.Body(), &resp); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", common.ErrTransientRPC, method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrTransientRPC, method, resp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%w: %s: decode result: %v", common.ErrTransientRPC, method, err)
	}
	return nil
}

// BlockNumber returns the node's latest block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var hex string
	if err := c.call(ctx, "eth_blockNumber", &hex); err != nil {
		return 0, err
	}
	return parseQuantity(hex)
}

type rpcLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

type logFilter struct {
	FromBlock string     `json:"fromBlock"`
	ToBlock   string     `json:"toBlock"`
	Address   []string   `json:"address"`
	Topics    [][]string `json:"topics,omitempty"`
}

// Logs returns the logs emitted by addresses in blocks from..to inclusive.
func (c *Client) Logs(ctx context.Context, from, to uint64, addresses []string, topics []string) ([]rpcLog, error) {
	f := logFilter{
		FromBlock: quantity(from),
		ToBlock:   quantity(to),
		Address:   addresses,
	}
	if len(topics) > 0 {
		f.Topics = [][]string{topics}
	}
	var logs []rpcLog
	if err := c.call(ctx, "eth_getLogs", &logs, f); err != nil {
		return nil, err
	}
	return logs, nil
}

// BlockTime returns the timestamp of block n.
func (c *Client) BlockTime(ctx context.Context, n uint64) (time.Time, error) {
	var b struct {
		Timestamp string `json:"timestamp"`
	}
	if err := c.call(ctx, "eth_getBlockByNumber", &b, quantity(n), false); err != nil {
		return time.Time{}, err
	}
	ts, err := parseQuantity(b.Timestamp)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(ts), 0).UTC(), nil
}

// TxInput returns the call data of transaction hash.
func (c *Client) TxInput(ctx context.Context, hash string) (string, error) {
	var tx struct {
		Input string `json:"input"`
	}
	if err := c.call(ctx, "eth_getTransactionByHash", &tx, hash); err != nil {
		return "", err
	}
	return tx.Input, nil
}

func quantity(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

func parseQuantity(s string) (uint64, error) {
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok || !v.IsUint64() {
		return 0, fmt.Errorf("%w: bad quantity %q", common.ErrTransientRPC, s)
	}
	return v.Uint64(), nil
}
