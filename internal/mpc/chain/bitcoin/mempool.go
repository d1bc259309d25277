package bitcoin

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultMempoolTimeout = 30 * time.Second

// MempoolClient mempool.space REST API 客户端
type MempoolClient struct {
	baseURL string
	client  *http.Client
}

var _ UTXOProvider = (*MempoolClient)(nil)

// NewMempoolClient 创建客户端，baseURL 形如 https://mempool.space/testnet4/api
func NewMempoolClient(baseURL string) *MempoolClient {
	return NewMempoolClientWithHTTP(baseURL, &http.Client{Timeout: defaultMempoolTimeout})
}

// NewMempoolClientWithHTTP 使用自定义 http.Client 创建客户端
func NewMempoolClientWithHTTP(baseURL string, httpClient *http.Client) *MempoolClient {
	return &MempoolClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

// HTTPError mempool.space 返回的非 2xx 响应
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("mempool API error: status %d: %s", e.StatusCode, e.Body)
}

func (c *MempoolClient) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create HTTP request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute HTTP request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("Mempool API returned error")
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func (c *MempoolClient) getJSON(ctx context.Context, path string, out interface{}) error {
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to decode %s response", path)
	}
	return nil
}

type mempoolUTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed bool `json:"confirmed"`
	} `json:"status"`
}

// SelectUTXOs GET /address/{address}/utxo
func (c *MempoolClient) SelectUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var raw []mempoolUTXO
	if err := c.getJSON(ctx, "/address/"+address+"/utxo", &raw); err != nil {
		return nil, errors.Wrap(err, "failed to get UTXOs")
	}

	utxos := make([]UTXO, 0, len(raw))
	for _, u := range raw {
		utxos = append(utxos, UTXO{
			TxID:      u.TxID,
			Vout:      u.Vout,
			Value:     u.Value,
			Confirmed: u.Status.Confirmed,
		})
	}
	return utxos, nil
}

type mempoolTx struct {
	Vout []struct {
		ScriptPubKey string `json:"scriptpubkey"`
		Value        int64  `json:"value"`
	} `json:"vout"`
}

// GetTransaction GET /tx/{txid}
func (c *MempoolClient) GetTransaction(ctx context.Context, txid string, vout uint32) (*PrevOutput, error) {
	var tx mempoolTx
	if err := c.getJSON(ctx, "/tx/"+txid, &tx); err != nil {
		return nil, errors.Wrapf(err, "failed to get transaction %s", txid)
	}
	if int(vout) >= len(tx.Vout) {
		return nil, errors.Errorf("transaction %s has no output %d", txid, vout)
	}

	script, err := hex.DecodeString(tx.Vout[vout].ScriptPubKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid scriptpubkey hex")
	}
	return &PrevOutput{Value: tx.Vout[vout].Value, Script: script}, nil
}

type mempoolStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
}

// GetBalance GET /address/{address}，链上与内存池统计之和
func (c *MempoolClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var info struct {
		ChainStats   mempoolStats `json:"chain_stats"`
		MempoolStats mempoolStats `json:"mempool_stats"`
	}
	if err := c.getJSON(ctx, "/address/"+address, &info); err != nil {
		return nil, errors.Wrap(err, "failed to get address info")
	}

	balance := info.ChainStats.FundedTxoSum - info.ChainStats.SpentTxoSum +
		info.MempoolStats.FundedTxoSum - info.MempoolStats.SpentTxoSum
	return big.NewInt(balance), nil
}

// GetFeeRate GET /v1/fees/recommended，取 halfHourFee
func (c *MempoolClient) GetFeeRate(ctx context.Context) (int64, error) {
	var fees struct {
		FastestFee  int64 `json:"fastestFee"`
		HalfHourFee int64 `json:"halfHourFee"`
		HourFee     int64 `json:"hourFee"`
		MinimumFee  int64 `json:"minimumFee"`
	}
	if err := c.getJSON(ctx, "/v1/fees/recommended", &fees); err != nil {
		return 0, errors.Wrap(err, "failed to get recommended fees")
	}

	rate := fees.HalfHourFee
	if rate <= 0 {
		rate = fees.MinimumFee
	}
	if rate <= 0 {
		rate = 1
	}
	return rate, nil
}

// BroadcastRaw POST /tx
func (c *MempoolClient) BroadcastRaw(ctx context.Context, rawHex string) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/tx", strings.NewReader(rawHex))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
