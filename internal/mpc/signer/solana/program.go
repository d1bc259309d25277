package solana

import (
	"context"
	"math/big"
	"time"

	"github.com/SafeMPC/chainsig/internal/mpc/requestid"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	"github.com/SafeMPC/chainsig/internal/util"
	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultChainID Solana 在请求 ID 中的链标识（0x800001f5）
	DefaultChainID int64 = 0x800001f5

	defaultCommitment          = "confirmed"
	defaultConfirmPollInterval = time.Second
	defaultConfirmTimeout      = 90 * time.Second
)

// Submitter 负责签名并发送包含 sign 指令的外层交易（钱包 / 手续费账户不在本模块范围内）
type Submitter interface {
	// Requester 请求方公钥（Base58），同时作为派生 predecessor
	Requester() string
	// SubmitSign 发送交易并返回交易签名
	SubmitSign(ctx context.Context, ix SignInstruction) (string, error)
}

// Config Solana 签名程序配置
type Config struct {
	ProgramID           string
	RootPublicKey       string
	Registry            *signer.Registry
	ChainID             *big.Int
	Commitment          string
	Retry               signer.RetryConfig
	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Registry == nil {
		c.Registry = signer.DefaultRegistry()
	}
	if c.ChainID == nil {
		c.ChainID = big.NewInt(DefaultChainID)
	}
	if c.Commitment == "" {
		c.Commitment = defaultCommitment
	}
	if c.Retry.RetryCount <= 0 {
		c.Retry = signer.DefaultRetryConfig()
	}
	if c.ConfirmPollInterval <= 0 {
		c.ConfirmPollInterval = defaultConfirmPollInterval
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = defaultConfirmTimeout
	}
	return c
}

// ProgramState program-state PDA 账户数据
type ProgramState struct {
	Admin            [32]byte
	SignatureDeposit uint64
	ChainID          string
}

// Program Solana 托管的签名程序
type Program struct {
	rpc          RPC
	submitter    Submitter
	cfg          Config
	programID    PublicKey
	programState PublicKey
	rootKey      *signer.RootKey
}

var _ signer.Contract = (*Program)(nil)

// NewProgram 创建 Solana 签名程序客户端，submitter 为空时仅支持只读操作
func NewProgram(rpc RPC, submitter Submitter, cfg Config) (*Program, error) {
	if rpc == nil {
		return nil, errors.New("solana RPC client is required")
	}
	programID, err := ParsePublicKey(cfg.ProgramID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid program id")
	}
	cfg = cfg.withDefaults()

	programState, err := ProgramStateAddress(programID)
	if err != nil {
		return nil, err
	}

	rootKey, err := signer.ResolveRootKey(cfg.Registry, signer.HostSolana, cfg.ProgramID, cfg.RootPublicKey)
	if err != nil {
		return nil, err
	}

	return &Program{
		rpc:          rpc,
		submitter:    submitter,
		cfg:          cfg,
		programID:    programID,
		programState: programState,
		rootKey:      rootKey,
	}, nil
}

// GetPublicKey 返回根公钥
func (p *Program) GetPublicKey(_ context.Context) ([]byte, error) {
	return p.rootKey.PublicKey(), nil
}

// GetDerivedPublicKey 返回派生子公钥
func (p *Program) GetDerivedPublicKey(_ context.Context, path string, predecessor string) ([]byte, error) {
	return p.rootKey.Derive(predecessor, path)
}

// GetProgramState 读取 program-state 账户
func (p *Program) GetProgramState(ctx context.Context) (*ProgramState, error) {
	data, err := getAccountData(ctx, p.rpc, p.programState.String(), p.cfg.Commitment)
	if err != nil {
		return nil, err
	}
	if len(data) < 8 {
		return nil, errors.Errorf("program state account too short: %d bytes", len(data))
	}

	var state ProgramState
	if err := borsh.Deserialize(&state, data[8:]); err != nil {
		return nil, errors.Wrap(err, "failed to decode program state")
	}
	return &state, nil
}

// GetCurrentSignatureDeposit 查询当前签名押金（lamports）
func (p *Program) GetCurrentSignatureDeposit(ctx context.Context) (*big.Int, error) {
	state, err := p.GetProgramState(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(state.SignatureDeposit), nil
}

// Sign 发送 sign 指令，确认后扫描程序交易中的 CPI 事件与 Program data 日志
func (p *Program) Sign(ctx context.Context, args signer.SignArgs, opts signer.SignOptions) (rsv *signature.RSV, err error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if p.submitter == nil {
		return nil, errors.New("submitter is required to submit sign requests")
	}

	requester := p.submitter.Requester()
	requesterKey, err := ParsePublicKey(requester)
	if err != nil {
		return nil, errors.Wrap(err, "invalid requester")
	}

	started := time.Now()
	defer func() { signer.ObserveSign(signer.HostSolana, started, err) }()

	reqID, err := requestid.ForCaller(requester, requestid.Args{
		Payload:    args.Payload,
		Path:       args.Path,
		KeyVersion: args.KeyVersion,
		ChainID:    p.cfg.ChainID,
		Algo:       opts.Request.Algo,
		Dest:       opts.Request.Dest,
		Params:     opts.Request.Params,
	})
	if err != nil {
		return nil, err
	}

	expected, err := p.rootKey.ExpectedAddress(requester, args.Path)
	if err != nil {
		return nil, err
	}

	ix, err := EncodeSignInstruction(p.programID, requesterKey, args, opts.Request)
	if err != nil {
		return nil, err
	}

	txSig, err := p.submitter.SubmitSign(ctx, ix)
	if err != nil {
		return nil, signer.NewSubmissionError(reqID.Hex(), err)
	}

	slot, err := p.waitConfirmed(ctx, txSig)
	if err != nil {
		return nil, signer.NewSubmissionError(reqID.Hex(), err)
	}

	util.LogFromContext(ctx).Info().
		Str("request_id", reqID.Hex()).
		Str("tx_signature", txSig).
		Uint64("slot", slot).
		Msg("Sign request confirmed on Solana host")

	req := signer.PendingRequest{
		Host:            signer.HostSolana,
		RequestID:       reqID.Hex(),
		Payload:         append([]byte(nil), args.Payload...),
		ExpectedAddress: expected,
		Checkpoint:      signer.Checkpoint{Block: slot, Ref: txSig},
	}

	src := &eventSource{
		rpc:        p.rpc,
		programID:  p.programID.String(),
		requestID:  reqID,
		commitment: p.cfg.Commitment,
	}
	return signer.AwaitSignature(ctx, src, req, opts.ResolveRetry(p.cfg.Retry))
}

func (p *Program) waitConfirmed(ctx context.Context, txSig string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		status, err := getSignatureStatus(ctx, p.rpc, txSig)
		if err != nil {
			return 0, err
		}
		if status != nil {
			if status.Err != nil {
				return 0, errors.Errorf("sign transaction %s failed: %v", txSig, status.Err)
			}
			if status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized" {
				return status.Slot, nil
			}
		}

		select {
		case <-ctx.Done():
			return 0, errors.Wrapf(ctx.Err(), "waiting for confirmation of %s", txSig)
		case <-ticker.C:
		}
	}
}

// eventSource 扫描提交之后涉及签名程序的交易
type eventSource struct {
	rpc        RPC
	programID  string
	requestID  requestid.ID
	commitment string
}

func (s *eventSource) Observe(ctx context.Context, req signer.PendingRequest) (signer.Observation, error) {
	sigs, err := getSignaturesForAddress(ctx, s.rpc, s.programID, req.Checkpoint.Ref, s.commitment)
	if err != nil {
		return signer.Observation{}, err
	}

	var obs signer.Observation
	// 返回顺序为新到旧，按时间顺序处理
	for i := len(sigs) - 1; i >= 0; i-- {
		if sigs[i].Err != nil {
			continue
		}

		tx, err := getTransaction(ctx, s.rpc, sigs[i].Signature, s.commitment)
		if err != nil {
			return signer.Observation{}, err
		}
		if tx == nil || tx.Meta == nil {
			continue
		}

		for _, ev := range s.collectEvents(tx) {
			if ev.requestID() != s.requestID {
				continue
			}
			switch {
			case ev.responded != nil:
				rsv, err := ev.responded.Signature.toRSV()
				if err != nil {
					log.Warn().Err(err).Str("tx_signature", sigs[i].Signature).Msg("Skipping malformed signature event")
					continue
				}
				obs.Signatures = append(obs.Signatures, *rsv)
			case ev.failed != nil && !obs.HasError:
				obs.HasError = true
				obs.ContractError = ev.failed.Error
			}
		}
	}

	return obs, nil
}

func (s *eventSource) collectEvents(tx *transactionResult) []programEvent {
	var events []programEvent
	keys := tx.accountKeys()

	for _, inner := range tx.Meta.InnerInstructions {
		for _, ix := range inner.Instructions {
			if ix.ProgramIDIndex < 0 || ix.ProgramIDIndex >= len(keys) || keys[ix.ProgramIDIndex] != s.programID {
				continue
			}
			data, err := base58.Decode(ix.Data)
			if err != nil {
				continue
			}
			ev, ok, err := decodeCPIEventData(data)
			if err != nil {
				log.Warn().Err(err).Msg("Skipping undecodable CPI event")
				continue
			}
			if ok {
				events = append(events, ev)
			}
		}
	}

	for _, line := range tx.Meta.LogMessages {
		ev, ok, err := decodeLogEvent(line)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable program data log")
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}

	return events
}
