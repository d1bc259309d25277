package signer

import (
	"context"
	"math/big"
	"time"

	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/pkg/errors"
)

// HostChain 托管签名合约的链
type HostChain string

const (
	HostEVM    HostChain = "evm"
	HostNEAR   HostChain = "near"
	HostSolana HostChain = "solana"
)

// ParseHostChain 解析配置中的托管链名称
func ParseHostChain(value string) (HostChain, error) {
	switch HostChain(value) {
	case HostEVM, HostNEAR, HostSolana:
		return HostChain(value), nil
	default:
		return "", errors.Errorf("unsupported signer host chain: %q", value)
	}
}

const (
	DefaultRetryCount = 12
	DefaultRetryDelay = 5 * time.Second
)

// SignArgs 签名请求参数
type SignArgs struct {
	Payload    []byte
	Path       string
	KeyVersion uint32
}

// Validate 校验签名参数
func (a SignArgs) Validate() error {
	if len(a.Payload) != 32 {
		return errors.Errorf("payload must be 32 bytes, got %d", len(a.Payload))
	}
	return nil
}

// Payload32 返回定长 payload
func (a SignArgs) Payload32() [32]byte {
	var out [32]byte
	copy(out[:], a.Payload)
	return out
}

// SignRequestOptions 合约签名请求的附加字段
type SignRequestOptions struct {
	Algo   string
	Dest   string
	Params string
}

// RetryConfig 轮询配置
type RetryConfig struct {
	RetryCount int
	Delay      time.Duration
}

// DefaultRetryConfig 默认轮询配置：12 次，间隔 5 秒
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		RetryCount: DefaultRetryCount,
		Delay:      DefaultRetryDelay,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.RetryCount <= 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	return c
}

// SignOptions 单次签名调用选项
type SignOptions struct {
	Request SignRequestOptions
	// Retry 为空时使用合约实例的默认配置
	Retry *RetryConfig
}

// ResolveRetry 返回本次调用生效的轮询配置
func (o SignOptions) ResolveRetry(fallback RetryConfig) RetryConfig {
	if o.Retry != nil {
		return o.Retry.withDefaults()
	}
	return fallback.withDefaults()
}

// Contract 签名合约能力集合（EVM / NEAR / Solana 托管）
type Contract interface {
	// GetPublicKey 返回根公钥（未压缩 SEC1）
	GetPublicKey(ctx context.Context) ([]byte, error)
	// GetDerivedPublicKey 返回 predecessor + path 派生出的子公钥（未压缩 SEC1）
	GetDerivedPublicKey(ctx context.Context, path string, predecessor string) ([]byte, error)
	// GetCurrentSignatureDeposit 返回当前签名押金（链原生最小单位）
	GetCurrentSignatureDeposit(ctx context.Context) (*big.Int, error)
	// Sign 提交签名请求并等待经过校验的签名
	Sign(ctx context.Context, args SignArgs, opts SignOptions) (*signature.RSV, error)
}
