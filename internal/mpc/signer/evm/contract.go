package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/SafeMPC/chainsig/internal/mpc/requestid"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	"github.com/SafeMPC/chainsig/internal/util"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultReceiptPollInterval = 2 * time.Second
	defaultReceiptTimeout      = 3 * time.Minute
)

// Client EVM 链访问能力（*ethclient.Client 的子集）
type Client interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config EVM 签名合约配置
type Config struct {
	ContractAddress common.Address
	ChainID         *big.Int
	// RootPublicKey 显式根公钥（NAJ 或 SEC1 hex），为空时查部署表
	RootPublicKey string
	Registry      *signer.Registry
	// Sender 支付 sign 交易的账户，Sign 必需
	Sender              *ecdsa.PrivateKey
	Retry               signer.RetryConfig
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration
	// GasLimit 为 0 时估算
	GasLimit uint64
}

func (c Config) withDefaults() Config {
	if c.Registry == nil {
		c.Registry = signer.DefaultRegistry()
	}
	if c.Retry.RetryCount <= 0 {
		c.Retry = signer.DefaultRetryConfig()
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = defaultReceiptPollInterval
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = defaultReceiptTimeout
	}
	return c
}

// Contract EVM 托管的签名合约
type Contract struct {
	client  Client
	cfg     Config
	rootKey *signer.RootKey
}

var _ signer.Contract = (*Contract)(nil)

// NewContract 创建 EVM 签名合约客户端
func NewContract(client Client, cfg Config) (*Contract, error) {
	if client == nil {
		return nil, errors.New("EVM client is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id is required")
	}
	if cfg.ContractAddress == (common.Address{}) {
		return nil, errors.New("contract address is required")
	}
	cfg = cfg.withDefaults()

	rootKey, err := signer.ResolveRootKey(cfg.Registry, signer.HostEVM, cfg.ContractAddress.Hex(), cfg.RootPublicKey)
	if err != nil {
		return nil, err
	}

	return &Contract{
		client:  client,
		cfg:     cfg,
		rootKey: rootKey,
	}, nil
}

// Predecessor EVM 托管时派生使用的调用方标识（小写地址）
func Predecessor(caller common.Address) string {
	return strings.ToLower(caller.Hex())
}

// GetPublicKey 返回根公钥
func (c *Contract) GetPublicKey(_ context.Context) ([]byte, error) {
	return c.rootKey.PublicKey(), nil
}

// GetDerivedPublicKey 返回派生子公钥
func (c *Contract) GetDerivedPublicKey(_ context.Context, path string, predecessor string) ([]byte, error) {
	return c.rootKey.Derive(strings.ToLower(predecessor), path)
}

// GetCurrentSignatureDeposit 查询当前签名押金（wei）
func (c *Contract) GetCurrentSignatureDeposit(ctx context.Context) (*big.Int, error) {
	data, err := SignerABI.Pack(methodGetSignatureDeposit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack getSignatureDeposit")
	}

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.cfg.ContractAddress, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to call getSignatureDeposit")
	}

	values, err := SignerABI.Unpack(methodGetSignatureDeposit, out)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack getSignatureDeposit result")
	}
	deposit, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected getSignatureDeposit result type %T", values[0])
	}
	return deposit, nil
}

// Sign 提交 sign 交易并轮询 SignatureResponded / SignatureError 事件
func (c *Contract) Sign(ctx context.Context, args signer.SignArgs, opts signer.SignOptions) (rsv *signature.RSV, err error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if c.cfg.Sender == nil {
		return nil, errors.New("sender key is required to submit sign requests")
	}

	started := time.Now()
	defer func() { signer.ObserveSign(signer.HostEVM, started, err) }()

	caller := crypto.PubkeyToAddress(c.cfg.Sender.PublicKey)
	reqID, err := requestid.ForEVM(caller, requestid.Args{
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

	expected, err := c.rootKey.ExpectedAddress(Predecessor(caller), args.Path)
	if err != nil {
		return nil, err
	}

	receipt, err := c.submit(ctx, caller, args, opts.Request)
	if err != nil {
		return nil, signer.NewSubmissionError(reqID.Hex(), err)
	}

	util.LogFromContext(ctx).Info().
		Str("request_id", reqID.Hex()).
		Str("tx_hash", receipt.TxHash.Hex()).
		Uint64("block", receipt.BlockNumber.Uint64()).
		Msg("Sign request confirmed on EVM host")

	req := signer.PendingRequest{
		Host:            signer.HostEVM,
		RequestID:       reqID.Hex(),
		Payload:         append([]byte(nil), args.Payload...),
		ExpectedAddress: expected,
		Checkpoint: signer.Checkpoint{
			Block: receipt.BlockNumber.Uint64(),
			Ref:   receipt.TxHash.Hex(),
		},
	}

	src := &logSource{client: c.client, contract: c.cfg.ContractAddress, requestID: reqID}
	return signer.AwaitSignature(ctx, src, req, opts.ResolveRetry(c.cfg.Retry))
}

func (c *Contract) submit(ctx context.Context, caller common.Address, args signer.SignArgs, reqOpts signer.SignRequestOptions) (*types.Receipt, error) {
	deposit, err := c.GetCurrentSignatureDeposit(ctx)
	if err != nil {
		return nil, err
	}

	data, err := SignerABI.Pack(methodSign, SignRequest{
		Payload:    args.Payload32(),
		Path:       args.Path,
		KeyVersion: args.KeyVersion,
		Algo:       reqOpts.Algo,
		Dest:       reqOpts.Dest,
		Params:     reqOpts.Params,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack sign call")
	}

	nonce, err := c.client.PendingNonceAt(ctx, caller)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get nonce")
	}

	tipCap, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to suggest gas tip cap")
	}

	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest header")
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(baseFee, big.NewInt(2)))

	gasLimit := c.cfg.GasLimit
	if gasLimit == 0 {
		gasLimit, err = c.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  caller,
			To:    &c.cfg.ContractAddress,
			Value: deposit,
			Data:  data,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to estimate gas")
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &c.cfg.ContractAddress,
		Value:     deposit,
		Data:      data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.cfg.ChainID), c.cfg.Sender)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, errors.Wrap(err, "failed to send transaction")
	}

	log.Debug().
		Str("tx_hash", signedTx.Hash().Hex()).
		Uint64("nonce", nonce).
		Str("deposit", deposit.String()).
		Msg("Sign transaction sent")

	return c.waitReceipt(ctx, signedTx.Hash())
}

func (c *Contract) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, errors.Errorf("sign transaction %s reverted", hash.Hex())
			}
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			return nil, errors.Wrap(err, "failed to get transaction receipt")
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "waiting for receipt of %s", hash.Hex())
		case <-ticker.C:
		}
	}
}
