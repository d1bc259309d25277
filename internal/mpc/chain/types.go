package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/pkg/errors"
)

// Balance 链上余额（最小单位）及其精度
type Balance struct {
	Balance  *big.Int
	Decimals int
}

// DerivedAccount 派生账户
type DerivedAccount struct {
	Address string
	// PublicKey 十六进制公钥，各链使用其原生格式（EVM 未压缩，Bitcoin / Cosmos 压缩）
	PublicKey string
}

// Prepared 待签名交易及其有序签名哈希
type Prepared[T any] struct {
	Transaction  T
	HashesToSign [][]byte
}

// Adapter 链适配器能力集合
//
// R 为链特定的交易请求，T 为链特定的未签名交易
type Adapter[R any, T any] interface {
	// GetBalance 查询余额
	GetBalance(ctx context.Context, address string) (*Balance, error)
	// DeriveAddressAndPublicKey 通过签名合约派生地址和公钥
	DeriveAddressAndPublicKey(ctx context.Context, predecessor, path string) (*DerivedAccount, error)
	// PrepareTransactionForSigning 构建未签名交易并计算待签名哈希
	PrepareTransactionForSigning(ctx context.Context, req R) (*Prepared[T], error)
	// FinalizeTransactionSigning 按哈希顺序附加签名，返回可广播的序列化交易
	FinalizeTransactionSigning(tx T, sigs []signature.RSV) (string, error)
	// BroadcastTx 广播交易，返回交易哈希
	BroadcastTx(ctx context.Context, serialized string) (string, error)
	// SerializeTransaction 序列化未签名交易
	SerializeTransaction(tx T) (string, error)
	// DeserializeTransaction 反序列化未签名交易
	DeserializeTransaction(serialized string) (T, error)
}

// BroadcastError 广播失败
type BroadcastError struct {
	Chain   string
	Message string
	Cause   error
}

// NewBroadcastError 包装广播错误
func NewBroadcastError(chain string, cause error) *BroadcastError {
	msg := "broadcast failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &BroadcastError{Chain: chain, Message: msg, Cause: cause}
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("%s broadcast failed: %s", e.Chain, e.Message)
}

func (e *BroadcastError) Unwrap() error {
	return e.Cause
}

// IsBroadcastError 判断是否为广播错误
func IsBroadcastError(err error) bool {
	var target *BroadcastError
	return errors.As(err, &target)
}

// CheckSignatureCount 校验签名数量与待签名哈希数量一致
func CheckSignatureCount(expected int, sigs []signature.RSV) error {
	if len(sigs) != expected {
		return errors.Errorf("expected %d signatures, got %d", expected, len(sigs))
	}
	return nil
}
