package signer

import (
	"context"
	"time"

	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/SafeMPC/chainsig/internal/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Checkpoint 提交交易在托管链上的位置，只从这里开始查找响应事件
type Checkpoint struct {
	// Block EVM 区块号 / Solana slot
	Block uint64
	// Ref 提交交易的哈希或签名
	Ref string
}

// PendingRequest 轮询所用的不可变请求快照
type PendingRequest struct {
	Host            HostChain
	RequestID       string
	Payload         []byte
	ExpectedAddress common.Address
	Checkpoint      Checkpoint
}

// Observation 单次扫描托管链的结果
type Observation struct {
	// Signatures 候选签名，尚未经过恢复校验
	Signatures []signature.RSV
	// ContractError 合约上报的错误信息，仅当 HasError 为 true 时有效
	ContractError string
	HasError      bool
}

// EventSource 在托管链上查找请求的响应
type EventSource interface {
	Observe(ctx context.Context, req PendingRequest) (Observation, error)
}

// EventSourceFunc 函数形式的 EventSource
type EventSourceFunc func(ctx context.Context, req PendingRequest) (Observation, error)

func (f EventSourceFunc) Observe(ctx context.Context, req PendingRequest) (Observation, error) {
	return f(ctx, req)
}

// VerifySignature 恢复 payload 的签名者并与预期派生地址比较
func VerifySignature(payload []byte, expected common.Address, sig signature.RSV) error {
	recovered, err := signature.RecoverAddress(payload, sig)
	if err != nil {
		return err
	}
	if recovered != expected {
		return errors.Errorf("signature recovers to %s, expected %s", recovered.Hex(), expected.Hex())
	}
	return nil
}

// AwaitSignature 轮询 src，直到出现通过校验的签名、合约上报错误或次数耗尽
//
// 每轮先检查候选签名再检查错误，同一轮内有效签名优先于错误
func AwaitSignature(ctx context.Context, src EventSource, req PendingRequest, retry RetryConfig) (*signature.RSV, error) {
	retry = retry.withDefaults()

	logger := util.LogFromContext(ctx).With().
		Str("host", string(req.Host)).
		Str("request_id", req.RequestID).
		Uint64("checkpoint", req.Checkpoint.Block).
		Logger()

	for attempt := 0; attempt < retry.RetryCount; attempt++ {
		if attempt > 0 && retry.Delay > 0 {
			timer := time.NewTimer(retry.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, NewSigningError(req.RequestID, ctx.Err())
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, NewSigningError(req.RequestID, err)
		}

		pollAttempts.WithLabelValues(string(req.Host)).Inc()
		logger.Debug().Int("attempt", attempt+1).Int("max_attempts", retry.RetryCount).Msg("Polling for signature")

		obs, err := src.Observe(ctx, req)
		if err != nil {
			return nil, NewSigningError(req.RequestID, err)
		}

		for i := range obs.Signatures {
			candidate := obs.Signatures[i]
			if err := VerifySignature(req.Payload, req.ExpectedAddress, candidate); err != nil {
				rejectedCandidates.WithLabelValues(string(req.Host)).Inc()
				logger.Warn().Err(err).Msg("Ignoring signature that failed verification")
				continue
			}

			logger.Info().Int("attempt", attempt+1).Msg("Signature received")
			return &candidate, nil
		}

		if obs.HasError {
			logger.Info().Str("contract_error", obs.ContractError).Msg("Signer contract reported error")
			return nil, NewContractError(req.RequestID, obs.ContractError)
		}
	}

	logger.Info().Int("attempts", retry.RetryCount).Msg("Signature not found")
	return nil, NewNotFoundError(req.RequestID, retry.RetryCount)
}
