package near

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/SafeMPC/chainsig/internal/util/jsonrpc"
	"github.com/pkg/errors"
)

// RPC NEAR JSON-RPC 调用能力（*jsonrpc.Client 满足该接口）
type RPC interface {
	Call(ctx context.Context, method string, params interface{}, result interface{}) error
}

type viewFunctionResult struct {
	Result      []int    `json:"result"`
	Logs        []string `json:"logs"`
	BlockHeight uint64   `json:"block_height"`
	Error       string   `json:"error,omitempty"`
}

// viewFunction 调用合约只读方法，返回原始返回值
func viewFunction(ctx context.Context, rpc RPC, contractID, method string, args interface{}) ([]byte, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal view args")
	}

	params := map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contractID,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(argsJSON),
	}

	var res viewFunctionResult
	if err := rpc.Call(ctx, "query", params, &res); err != nil {
		return nil, errors.Wrapf(err, "failed to call view method %s", method)
	}
	if res.Error != "" {
		return nil, errors.Errorf("view method %s failed: %s", method, res.Error)
	}

	out := make([]byte, len(res.Result))
	for i, b := range res.Result {
		if b < 0 || b > 255 {
			return nil, errors.Errorf("view method %s returned invalid byte %d", method, b)
		}
		out[i] = byte(b)
	}
	return out, nil
}

// parseU128 解析 NEAR 合约返回的 u128（JSON 字符串或数字）
func parseU128(raw []byte) (*big.Int, error) {
	value := strings.TrimSpace(string(raw))
	value = strings.Trim(value, `"`)
	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() < 0 {
		return nil, errors.Errorf("invalid u128 value %q", string(raw))
	}
	return n, nil
}

// ExecutionStatus 交易执行状态
type ExecutionStatus struct {
	// Pending 交易尚未完成
	Pending bool
	// SuccessValue 成功时合约返回值（已 base64 解码）
	SuccessValue []byte
	// Failure 失败原因（原始 JSON）
	Failure json.RawMessage
}

type txStatusResult struct {
	Status json.RawMessage `json:"status"`
}

// parseExecutionStatus 解析 FinalExecutionStatus：字符串状态、SuccessValue 或 Failure
func parseExecutionStatus(raw json.RawMessage) (ExecutionStatus, error) {
	if len(raw) == 0 {
		return ExecutionStatus{Pending: true}, nil
	}

	var state string
	if err := json.Unmarshal(raw, &state); err == nil {
		return ExecutionStatus{Pending: true}, nil
	}

	var status struct {
		SuccessValue *string        `json:"SuccessValue"`
		Failure      json.RawMessage `json:"Failure"`
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return ExecutionStatus{}, errors.Wrap(err, "failed to decode execution status")
	}

	switch {
	case len(status.Failure) > 0:
		return ExecutionStatus{Failure: status.Failure}, nil
	case status.SuccessValue != nil:
		value, err := base64.StdEncoding.DecodeString(*status.SuccessValue)
		if err != nil {
			return ExecutionStatus{}, errors.Wrap(err, "failed to decode SuccessValue")
		}
		return ExecutionStatus{SuccessValue: value}, nil
	default:
		return ExecutionStatus{Pending: true}, nil
	}
}

// txStatus 查询交易状态，UNKNOWN_TRANSACTION / TIMEOUT_ERROR 视为未完成
func txStatus(ctx context.Context, rpc RPC, txHash, senderID string) (ExecutionStatus, error) {
	params := map[string]interface{}{
		"tx_hash":           txHash,
		"sender_account_id": senderID,
		"wait_until":        "EXECUTED_OPTIMISTIC",
	}

	var res txStatusResult
	if err := rpc.Call(ctx, "tx", params, &res); err != nil {
		if rpcErr, ok := jsonrpc.AsError(err); ok && isPendingCause(rpcErr) {
			return ExecutionStatus{Pending: true}, nil
		}
		return ExecutionStatus{}, errors.Wrap(err, "failed to query transaction status")
	}
	return parseExecutionStatus(res.Status)
}

func isPendingCause(err *jsonrpc.Error) bool {
	switch err.CauseName() {
	case "UNKNOWN_TRANSACTION", "TIMEOUT_ERROR":
		return true
	}
	return err.Name == "TIMEOUT_ERROR"
}

// FailureMessage 从 Failure JSON 中提取可读错误信息
func FailureMessage(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	if msg, ok := findExecutionError(v); ok {
		return msg
	}
	return string(raw)
}

func findExecutionError(v interface{}) (string, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		if msg, ok := t["ExecutionError"].(string); ok {
			return msg, true
		}
		for _, child := range t {
			if msg, ok := findExecutionError(child); ok {
				return msg, true
			}
		}
	case []interface{}:
		for _, child := range t {
			if msg, ok := findExecutionError(child); ok {
				return msg, true
			}
		}
	}
	return "", false
}
