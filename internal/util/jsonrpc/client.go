package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultTimeout = 30 * time.Second

// Client JSON-RPC 2.0 HTTP 客户端（NEAR / Solana 共用）
type Client struct {
	endpoint string
	client   *http.Client
	nextID   atomic.Uint64
}

// NewClient 创建 JSON-RPC 客户端
func NewClient(endpoint string) *Client {
	return NewClientWithHTTP(endpoint, &http.Client{Timeout: defaultTimeout})
}

// NewClientWithHTTP 使用自定义 http.Client 创建 JSON-RPC 客户端
func NewClientWithHTTP(endpoint string, httpClient *http.Client) *Client {
	return &Client{
		endpoint: endpoint,
		client:   httpClient,
	}
}

// Endpoint 返回 RPC 地址
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Request RPC 请求
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      uint64      `json:"id"`
}

// Response RPC 响应
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// ErrorCause NEAR 风格的结构化错误原因
type ErrorCause struct {
	Name string          `json:"name"`
	Info json.RawMessage `json:"info,omitempty"`
}

// Error RPC 错误
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Name    string          `json:"name,omitempty"`
	Cause   *ErrorCause     `json:"cause,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Name != "" {
		return fmt.Sprintf("RPC error: %s (code: %d, cause: %s)", e.Message, e.Code, e.Cause.Name)
	}
	return fmt.Sprintf("RPC error: %s (code: %d)", e.Message, e.Code)
}

// CauseName 返回错误原因名称，不存在时返回空字符串
func (e *Error) CauseName() string {
	if e.Cause == nil {
		return ""
	}
	return e.Cause.Name
}

// AsError 提取 RPC 错误
func AsError(err error) (*Error, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// Call 执行 RPC 调用并把 result 解码到 result（可为 nil）
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	req := &Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "failed to marshal RPC request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return errors.Wrap(err, "failed to create HTTP request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "failed to execute HTTP request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read RPC response")
	}

	var rpcResp Response
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("RPC HTTP error: status %d", resp.StatusCode)
		}
		return errors.Wrap(err, "failed to decode RPC response")
	}

	if rpcResp.Error != nil {
		log.Debug().
			Str("method", method).
			Int("code", rpcResp.Error.Code).
			Str("cause", rpcResp.Error.CauseName()).
			Msg("RPC call returned error")
		return rpcResp.Error
	}

	if result == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.Errorf("RPC %s returned empty result", method)
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return errors.Wrapf(err, "failed to unmarshal %s result", method)
	}
	return nil
}
