package cosmos

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultRESTTimeout = 30 * time.Second
	broadcastModeSync  = "BROADCAST_MODE_SYNC"
)

// ErrAccountNotFound 账户在链上不存在（未收到过资金）
var ErrAccountNotFound = errors.New("account not found")

// Account 账户编号与序号
type Account struct {
	AccountNumber uint64
	Sequence      uint64
}

// Client Cosmos 链访问能力
type Client interface {
	// GetAccount 账户不存在时返回 ErrAccountNotFound
	GetAccount(ctx context.Context, address string) (*Account, error)
	GetBalance(ctx context.Context, address, denom string) (*big.Int, error)
	// Simulate 模拟执行，返回 gas_used
	Simulate(ctx context.Context, txBytes []byte) (uint64, error)
	// Broadcast 同步广播，返回交易哈希
	Broadcast(ctx context.Context, txBytes []byte) (string, error)
}

// RESTClient cosmos-sdk gRPC-gateway REST 客户端
type RESTClient struct {
	baseURL string
	client  *http.Client
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient 创建 REST 客户端，baseURL 为 LCD 地址
func NewRESTClient(baseURL string) *RESTClient {
	return NewRESTClientWithHTTP(baseURL, &http.Client{Timeout: defaultRESTTimeout})
}

// NewRESTClientWithHTTP 使用自定义 http.Client 创建客户端
func NewRESTClientWithHTTP(baseURL string, httpClient *http.Client) *RESTClient {
	return &RESTClient{baseURL: strings.TrimRight(baseURL, "/"), client: httpClient}
}

// RESTError 非 2xx 响应
type RESTError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *RESTError) Error() string {
	return fmt.Sprintf("cosmos REST error: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
}

func (c *RESTClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "failed to create HTTP request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to execute HTTP request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		restErr := &RESTError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, restErr) != nil || restErr.Message == "" {
			restErr.Message = strings.TrimSpace(string(data))
		}
		log.Debug().Str("path", path).Int("status", resp.StatusCode).Int("code", restErr.Code).Msg("Cosmos REST returned error")
		return restErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to decode %s response", path)
	}
	return nil
}

type baseAccount struct {
	AccountNumber string `json:"account_number"`
	Sequence      string `json:"sequence"`
}

// GetAccount GET /cosmos/auth/v1beta1/accounts/{address}
func (c *RESTClient) GetAccount(ctx context.Context, address string) (*Account, error) {
	var resp struct {
		Account struct {
			baseAccount
			BaseAccount        *baseAccount `json:"base_account"`
			BaseVestingAccount *struct {
				BaseAccount *baseAccount `json:"base_account"`
			} `json:"base_vesting_account"`
		} `json:"account"`
	}
	err := c.do(ctx, http.MethodGet, "/cosmos/auth/v1beta1/accounts/"+url.PathEscape(address), nil, &resp)
	if err != nil {
		var restErr *RESTError
		// gRPC NotFound = 5
		if errors.As(err, &restErr) && (restErr.StatusCode == http.StatusNotFound || restErr.Code == 5) {
			return nil, errors.Wrapf(ErrAccountNotFound, "address %s", address)
		}
		return nil, errors.Wrap(err, "failed to get account")
	}

	acct := resp.Account.baseAccount
	switch {
	case resp.Account.BaseAccount != nil:
		acct = *resp.Account.BaseAccount
	case resp.Account.BaseVestingAccount != nil && resp.Account.BaseVestingAccount.BaseAccount != nil:
		acct = *resp.Account.BaseVestingAccount.BaseAccount
	}

	number, err := parseUint(acct.AccountNumber)
	if err != nil {
		return nil, errors.Wrap(err, "invalid account_number")
	}
	sequence, err := parseUint(acct.Sequence)
	if err != nil {
		return nil, errors.Wrap(err, "invalid sequence")
	}
	return &Account{AccountNumber: number, Sequence: sequence}, nil
}

func parseUint(v string) (uint64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

// GetBalance GET /cosmos/bank/v1beta1/balances/{address}/by_denom
func (c *RESTClient) GetBalance(ctx context.Context, address, denom string) (*big.Int, error) {
	var resp struct {
		Balance Coin `json:"balance"`
	}
	path := "/cosmos/bank/v1beta1/balances/" + url.PathEscape(address) + "/by_denom?denom=" + url.QueryEscape(denom)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to get balance")
	}

	if resp.Balance.Amount == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(resp.Balance.Amount, 10)
	if !ok {
		return nil, errors.Errorf("invalid balance amount %q", resp.Balance.Amount)
	}
	return amount, nil
}

type txBytesRequest struct {
	TxBytes string `json:"tx_bytes"`
	Mode    string `json:"mode,omitempty"`
}

// Simulate POST /cosmos/tx/v1beta1/simulate
func (c *RESTClient) Simulate(ctx context.Context, txBytes []byte) (uint64, error) {
	var resp struct {
		GasInfo struct {
			GasUsed string `json:"gas_used"`
		} `json:"gas_info"`
	}
	req := txBytesRequest{TxBytes: base64.StdEncoding.EncodeToString(txBytes)}
	if err := c.do(ctx, http.MethodPost, "/cosmos/tx/v1beta1/simulate", req, &resp); err != nil {
		return 0, errors.Wrap(err, "failed to simulate transaction")
	}

	gas, err := parseUint(resp.GasInfo.GasUsed)
	if err != nil {
		return 0, errors.Wrap(err, "invalid gas_used")
	}
	return gas, nil
}

// Broadcast POST /cosmos/tx/v1beta1/txs，非零 code 视为失败
func (c *RESTClient) Broadcast(ctx context.Context, txBytes []byte) (string, error) {
	var resp struct {
		TxResponse struct {
			TxHash    string `json:"txhash"`
			Code      uint32 `json:"code"`
			Codespace string `json:"codespace"`
			RawLog    string `json:"raw_log"`
		} `json:"tx_response"`
	}
	req := txBytesRequest{TxBytes: base64.StdEncoding.EncodeToString(txBytes), Mode: broadcastModeSync}
	if err := c.do(ctx, http.MethodPost, "/cosmos/tx/v1beta1/txs", req, &resp); err != nil {
		return "", errors.Wrap(err, "failed to broadcast transaction")
	}

	if resp.TxResponse.Code != 0 {
		return "", errors.Errorf("transaction %s rejected: codespace %s code %d: %s",
			resp.TxResponse.TxHash, resp.TxResponse.Codespace, resp.TxResponse.Code, resp.TxResponse.RawLog)
	}
	return resp.TxResponse.TxHash, nil
}
