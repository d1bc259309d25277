package bitcoin

import (
	"context"
	"math/big"
)

// UTXO 未花费输出
type UTXO struct {
	TxID  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value int64  `json:"value"`
	// Script 输出脚本（hex），为空时按 P2WPKH 地址重建
	Script    string `json:"script,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

// Output 交易输出
type Output struct {
	Address string `json:"address,omitempty"`
	// Script 直接指定的输出脚本（hex），与 Address 二选一
	Script string `json:"script,omitempty"`
	Value  int64  `json:"value"`
}

// PrevOutput 前序交易的输出
type PrevOutput struct {
	Value  int64
	Script []byte
}

// UTXOProvider Bitcoin 链数据来源
type UTXOProvider interface {
	// SelectUTXOs 返回地址当前可用的 UTXO
	SelectUTXOs(ctx context.Context, address string) ([]UTXO, error)
	// GetTransaction 返回前序交易的指定输出
	GetTransaction(ctx context.Context, txid string, vout uint32) (*PrevOutput, error)
	// GetBalance 返回地址余额（聪）
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	// GetFeeRate 返回建议费率（sat/vB）
	GetFeeRate(ctx context.Context) (int64, error)
	// BroadcastRaw 广播原始交易，返回 txid
	BroadcastRaw(ctx context.Context, rawHex string) (string, error)
}
