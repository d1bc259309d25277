package solana

import (
	"context"
	"encoding/base64"

	"github.com/pkg/errors"
)

// RPC Solana JSON-RPC 调用能力（*jsonrpc.Client 满足该接口）
type RPC interface {
	Call(ctx context.Context, method string, params interface{}, result interface{}) error
}

type signatureStatus struct {
	Slot               uint64      `json:"slot"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

type signatureStatusesResult struct {
	Value []*signatureStatus `json:"value"`
}

type signatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	Err       interface{} `json:"err"`
}

type compiledInstruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"`
}

type innerInstructions struct {
	Index        int                   `json:"index"`
	Instructions []compiledInstruction `json:"instructions"`
}

type transactionResult struct {
	Slot uint64 `json:"slot"`
	Meta *struct {
		Err               interface{}         `json:"err"`
		LogMessages       []string            `json:"logMessages"`
		InnerInstructions []innerInstructions `json:"innerInstructions"`
		LoadedAddresses   *struct {
			Writable []string `json:"writable"`
			Readonly []string `json:"readonly"`
		} `json:"loadedAddresses"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// accountKeys 静态账户 + v0 交易加载的查找表账户，顺序与 programIdIndex 一致
func (t *transactionResult) accountKeys() []string {
	keys := append([]string{}, t.Transaction.Message.AccountKeys...)
	if t.Meta != nil && t.Meta.LoadedAddresses != nil {
		keys = append(keys, t.Meta.LoadedAddresses.Writable...)
		keys = append(keys, t.Meta.LoadedAddresses.Readonly...)
	}
	return keys
}

type accountInfoResult struct {
	Value *struct {
		Data     []string `json:"data"`
		Owner    string   `json:"owner"`
		Lamports uint64   `json:"lamports"`
	} `json:"value"`
}

func getSignatureStatus(ctx context.Context, rpc RPC, sig string) (*signatureStatus, error) {
	var res signatureStatusesResult
	params := []interface{}{
		[]string{sig},
		map[string]interface{}{"searchTransactionHistory": true},
	}
	if err := rpc.Call(ctx, "getSignatureStatuses", params, &res); err != nil {
		return nil, errors.Wrap(err, "failed to get signature status")
	}
	if len(res.Value) == 0 {
		return nil, nil
	}
	return res.Value[0], nil
}

// signaturesPageLimit getSignaturesForAddress 单页上限
const signaturesPageLimit = 1000

// getSignaturesForAddress 返回 until 之后的全部交易签名（新到旧），按 before 翻页
func getSignaturesForAddress(ctx context.Context, rpc RPC, address, until, commitment string) ([]signatureInfo, error) {
	var all []signatureInfo
	before := ""
	for {
		opts := map[string]interface{}{
			"commitment": commitment,
			"limit":      signaturesPageLimit,
		}
		if until != "" {
			opts["until"] = until
		}
		if before != "" {
			opts["before"] = before
		}

		var page []signatureInfo
		if err := rpc.Call(ctx, "getSignaturesForAddress", []interface{}{address, opts}, &page); err != nil {
			return nil, errors.Wrap(err, "failed to get signatures for address")
		}
		all = append(all, page...)
		if len(page) < signaturesPageLimit {
			return all, nil
		}
		before = page[len(page)-1].Signature
	}
}

func getTransaction(ctx context.Context, rpc RPC, sig, commitment string) (*transactionResult, error) {
	var res *transactionResult
	opts := map[string]interface{}{
		"encoding":                       "json",
		"commitment":                     commitment,
		"maxSupportedTransactionVersion": 0,
	}
	if err := rpc.Call(ctx, "getTransaction", []interface{}{sig, opts}, &res); err != nil {
		return nil, errors.Wrapf(err, "failed to get transaction %s", sig)
	}
	return res, nil
}

func getAccountData(ctx context.Context, rpc RPC, address, commitment string) ([]byte, error) {
	var res accountInfoResult
	opts := map[string]interface{}{
		"encoding":   "base64",
		"commitment": commitment,
	}
	if err := rpc.Call(ctx, "getAccountInfo", []interface{}{address, opts}, &res); err != nil {
		return nil, errors.Wrapf(err, "failed to get account %s", address)
	}
	if res.Value == nil {
		return nil, errors.Errorf("account %s not found", address)
	}
	if len(res.Value.Data) == 0 {
		return nil, errors.Errorf("account %s has no data", address)
	}
	data, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode account %s data", address)
	}
	return data, nil
}
