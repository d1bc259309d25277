package near

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/SafeMPC/chainsig/internal/mpc/derivation"
	"github.com/SafeMPC/chainsig/internal/mpc/requestid"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	"github.com/SafeMPC/chainsig/internal/util"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ResultMode 签名结果获取方式
type ResultMode string

const (
	// ResultModeSync 等待 sign 调用执行完成，直接读取返回值
	ResultModeSync ResultMode = "sync"
	// ResultModePoll 提交后轮询交易状态
	ResultModePoll ResultMode = "poll"
)

// ParseResultMode 解析结果获取方式
func ParseResultMode(value string) (ResultMode, error) {
	switch ResultMode(strings.ToLower(value)) {
	case ResultModeSync, "":
		return ResultModeSync, nil
	case ResultModePoll:
		return ResultModePoll, nil
	default:
		return "", errors.Errorf("unsupported NEAR result mode: %q", value)
	}
}

const (
	// DefaultSignGas 300 Tgas
	DefaultSignGas uint64 = 300_000_000_000_000
	// DefaultChainID NEAR 在请求 ID 中的链标识（0x18d）
	DefaultChainID int64 = 0x18d
)

// FunctionCall 合约方法调用
type FunctionCall struct {
	ContractID string
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    *big.Int
}

// TransactionResult 外层交易结果
type TransactionResult struct {
	Hash string
	// Status 仅在等待执行完成时有效
	Status ExecutionStatus
}

// AccountProvider 提供外层交易签名能力（账户 / 密钥管理不在本模块范围内）
type AccountProvider interface {
	AccountID() string
	// FunctionCall 发送交易。waitForExecution 为 true 时返回最终执行状态，否则在交易被接受后返回
	FunctionCall(ctx context.Context, call FunctionCall, waitForExecution bool) (*TransactionResult, error)
}

// Config NEAR 签名合约配置
type Config struct {
	ContractID    string
	RootPublicKey string
	Registry      *signer.Registry
	ChainID       *big.Int
	ResultMode    ResultMode
	Gas           uint64
	Retry         signer.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.Registry == nil {
		c.Registry = signer.DefaultRegistry()
	}
	if c.ChainID == nil {
		c.ChainID = big.NewInt(DefaultChainID)
	}
	if c.ResultMode == "" {
		c.ResultMode = ResultModeSync
	}
	if c.Gas == 0 {
		c.Gas = DefaultSignGas
	}
	if c.Retry.RetryCount <= 0 {
		c.Retry = signer.DefaultRetryConfig()
	}
	return c
}

// Contract NEAR 托管的签名合约
type Contract struct {
	rpc     RPC
	account AccountProvider
	cfg     Config
	rootKey *signer.RootKey
}

var _ signer.Contract = (*Contract)(nil)

// NewContract 创建 NEAR 签名合约客户端，account 为空时仅支持只读操作
func NewContract(rpc RPC, account AccountProvider, cfg Config) (*Contract, error) {
	if rpc == nil {
		return nil, errors.New("NEAR RPC client is required")
	}
	if cfg.ContractID == "" {
		return nil, errors.New("contract id is required")
	}
	if _, err := ParseResultMode(string(cfg.ResultMode)); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	rootKey, err := signer.ResolveRootKey(cfg.Registry, signer.HostNEAR, cfg.ContractID, cfg.RootPublicKey)
	if err != nil {
		return nil, err
	}

	return &Contract{
		rpc:     rpc,
		account: account,
		cfg:     cfg,
		rootKey: rootKey,
	}, nil
}

// GetPublicKey 返回根公钥
func (c *Contract) GetPublicKey(_ context.Context) ([]byte, error) {
	return c.rootKey.PublicKey(), nil
}

// ContractPublicKey 通过 public_key 视图方法读取合约当前根公钥
func (c *Contract) ContractPublicKey(ctx context.Context) ([]byte, error) {
	raw, err := viewFunction(ctx, c.rpc, c.cfg.ContractID, "public_key", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	var naj string
	if err := json.Unmarshal(raw, &naj); err != nil {
		return nil, errors.Wrap(err, "failed to decode public_key result")
	}
	return derivation.NajToUncompressedPubKeySEC1(naj)
}

// GetDerivedPublicKey 返回派生子公钥
func (c *Contract) GetDerivedPublicKey(_ context.Context, path string, predecessor string) ([]byte, error) {
	return c.rootKey.Derive(predecessor, path)
}

// GetCurrentSignatureDeposit 查询当前签名押金（yoctoNEAR）
func (c *Contract) GetCurrentSignatureDeposit(ctx context.Context) (*big.Int, error) {
	raw, err := viewFunction(ctx, c.rpc, c.cfg.ContractID, "experimental_signature_deposit", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	return parseU128(raw)
}

type signRequestArgs struct {
	Request signRequest `json:"request"`
}

type signRequest struct {
	Payload    []int  `json:"payload"`
	Path       string `json:"path"`
	KeyVersion uint32 `json:"key_version"`
}

func encodeSignArgs(args signer.SignArgs) ([]byte, error) {
	payload := make([]int, len(args.Payload))
	for i, b := range args.Payload {
		payload[i] = int(b)
	}
	return json.Marshal(signRequestArgs{Request: signRequest{
		Payload:    payload,
		Path:       args.Path,
		KeyVersion: args.KeyVersion,
	}})
}

// Sign 调用 sign 方法；sync 模式直接读取返回值，poll 模式轮询交易状态
func (c *Contract) Sign(ctx context.Context, args signer.SignArgs, opts signer.SignOptions) (rsv *signature.RSV, err error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if c.account == nil {
		return nil, errors.New("account provider is required to submit sign requests")
	}

	started := time.Now()
	defer func() { signer.ObserveSign(signer.HostNEAR, started, err) }()

	accountID := c.account.AccountID()
	reqID, err := requestid.ForCaller(accountID, requestid.Args{
		Payload:    args.Payload,
		Path:       args.Path,
		KeyVersion: args.KeyVersion,
		ChainID:    c.cfg.ChainID,
		Algo:       opts.Request.Algo,
		Dest:       opts.Request.Dest,
		Params:     opts.Request.Params,
	})
	if err != nil {
		return nil, err
	}

	expected, err := c.rootKey.ExpectedAddress(accountID, args.Path)
	if err != nil {
		return nil, err
	}

	deposit, err := c.GetCurrentSignatureDeposit(ctx)
	if err != nil {
		return nil, signer.NewSubmissionError(reqID.Hex(), err)
	}

	callArgs, err := encodeSignArgs(args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode sign args")
	}

	call := FunctionCall{
		ContractID: c.cfg.ContractID,
		MethodName: "sign",
		Args:       callArgs,
		Gas:        c.cfg.Gas,
		Deposit:    deposit,
	}

	wait := c.cfg.ResultMode == ResultModeSync
	result, err := c.account.FunctionCall(ctx, call, wait)
	if err != nil {
		return nil, signer.NewSubmissionError(reqID.Hex(), err)
	}
	if result == nil || result.Hash == "" {
		return nil, signer.NewSubmissionError(reqID.Hex(), errors.New("provider returned no transaction hash"))
	}

	util.LogFromContext(ctx).Info().
		Str("request_id", reqID.Hex()).
		Str("tx_hash", result.Hash).
		Str("mode", string(c.cfg.ResultMode)).
		Msg("Sign request submitted to NEAR host")

	req := signer.PendingRequest{
		Host:            signer.HostNEAR,
		RequestID:       reqID.Hex(),
		Payload:         append([]byte(nil), args.Payload...),
		ExpectedAddress: expected,
		Checkpoint:      signer.Checkpoint{Ref: result.Hash},
	}

	if wait {
		return c.resolveSync(req, result.Status)
	}

	src := &txStatusSource{rpc: c.rpc, senderID: accountID}
	return signer.AwaitSignature(ctx, src, req, opts.ResolveRetry(c.cfg.Retry))
}

func (c *Contract) resolveSync(req signer.PendingRequest, status ExecutionStatus) (*signature.RSV, error) {
	switch {
	case len(status.Failure) > 0:
		return nil, signer.NewContractError(req.RequestID, FailureMessage(status.Failure))
	case status.Pending || len(status.SuccessValue) == 0:
		return nil, signer.NewSigningError(req.RequestID, errors.New("sign call finished without a return value"))
	}

	rsv, err := signature.FromNearResponse(status.SuccessValue)
	if err != nil {
		return nil, signer.NewSigningError(req.RequestID, err)
	}
	if err := signer.VerifySignature(req.Payload, req.ExpectedAddress, *rsv); err != nil {
		return nil, signer.NewVerificationError(req.RequestID, err.Error())
	}
	return rsv, nil
}

// txStatusSource 通过 tx 接口轮询 sign 交易的执行结果
type txStatusSource struct {
	rpc      RPC
	senderID string
}

func (s *txStatusSource) Observe(ctx context.Context, req signer.PendingRequest) (signer.Observation, error) {
	status, err := txStatus(ctx, s.rpc, req.Checkpoint.Ref, s.senderID)
	if err != nil {
		return signer.Observation{}, err
	}

	switch {
	case status.Pending:
		return signer.Observation{}, nil
	case len(status.Failure) > 0:
		return signer.Observation{HasError: true, ContractError: FailureMessage(status.Failure)}, nil
	case len(status.SuccessValue) == 0:
		return signer.Observation{}, nil
	}

	rsv, err := signature.FromNearResponse(status.SuccessValue)
	if err != nil {
		log.Warn().Err(err).Str("request_id", req.RequestID).Msg("Ignoring undecodable sign return value")
		return signer.Observation{}, nil
	}
	return signer.Observation{Signatures: []signature.RSV{*rsv}}, nil
}
