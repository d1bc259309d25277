package evm

import (
	"context"
	"encoding/hex"
	"math/big"

	"github.com/SafeMPC/chainsig/internal/mpc/chain"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	chainName = "evm"
	decimals  = 18
)

// Client EVM 链访问能力（*ethclient.Client 的子集）
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TransactionRequest EVM 交易请求，空字段在准备阶段从链上补齐
type TransactionRequest struct {
	From       common.Address
	To         *common.Address
	Value      *big.Int
	Data       []byte
	Nonce      *uint64
	Gas        *uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	AccessList types.AccessList
}

// UnsignedTransaction 未签名的 EIP-1559 交易
type UnsignedTransaction = *types.Transaction

// Adapter EVM 链适配器
type Adapter struct {
	client   Client
	contract chain.KeyDeriver
	chainID  *big.Int
}

var _ chain.Adapter[TransactionRequest, UnsignedTransaction] = (*Adapter)(nil)

// NewAdapter 创建 EVM 适配器，chainID 为空时从节点获取
func NewAdapter(client Client, contract chain.KeyDeriver, chainID *big.Int) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("EVM client is required")
	}
	if contract == nil {
		return nil, errors.New("signer contract is required")
	}
	return &Adapter{client: client, contract: contract, chainID: chainID}, nil
}

func (a *Adapter) resolveChainID(ctx context.Context) (*big.Int, error) {
	if a.chainID != nil {
		return a.chainID, nil
	}
	id, err := a.client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain id")
	}
	return id, nil
}

// GetBalance 查询余额（wei）
func (a *Adapter) GetBalance(ctx context.Context, address string) (*chain.Balance, error) {
	if !common.IsHexAddress(address) {
		return nil, errors.Errorf("invalid EVM address %q", address)
	}
	balance, err := a.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get balance")
	}
	return &chain.Balance{Balance: balance, Decimals: decimals}, nil
}

// DeriveAddressAndPublicKey 派生 EVM 地址，公钥为未压缩 SEC1
func (a *Adapter) DeriveAddressAndPublicKey(ctx context.Context, predecessor, path string) (*chain.DerivedAccount, error) {
	pub, err := chain.DerivedPublicKey(ctx, a.contract, predecessor, path)
	if err != nil {
		return nil, err
	}
	addr, err := signature.AddressFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &chain.DerivedAccount{Address: addr.Hex(), PublicKey: hex.EncodeToString(pub)}, nil
}

// PrepareTransactionForSigning 补齐 nonce / 手续费 / gas 并计算 London 签名哈希
func (a *Adapter) PrepareTransactionForSigning(ctx context.Context, req TransactionRequest) (*chain.Prepared[UnsignedTransaction], error) {
	chainID, err := a.resolveChainID(ctx)
	if err != nil {
		return nil, err
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := a.nonce(ctx, req)
	if err != nil {
		return nil, err
	}

	tipCap, feeCap, err := a.fees(ctx, req)
	if err != nil {
		return nil, err
	}

	var gas uint64
	if req.Gas != nil {
		gas = *req.Gas
	} else {
		gas, err = a.client.EstimateGas(ctx, ethereum.CallMsg{
			From:       req.From,
			To:         req.To,
			Value:      value,
			Data:       req.Data,
			GasTipCap:  tipCap,
			GasFeeCap:  feeCap,
			AccessList: req.AccessList,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to estimate gas")
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:    chainID,
		Nonce:      nonce,
		GasTipCap:  tipCap,
		GasFeeCap:  feeCap,
		Gas:        gas,
		To:         req.To,
		Value:      value,
		Data:       req.Data,
		AccessList: req.AccessList,
	})

	hash := types.NewLondonSigner(chainID).Hash(tx)

	log.Debug().
		Str("from", req.From.Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Str("hash", hash.Hex()).
		Msg("Prepared EVM transaction")

	return &chain.Prepared[UnsignedTransaction]{
		Transaction:  tx,
		HashesToSign: [][]byte{hash.Bytes()},
	}, nil
}

func (a *Adapter) nonce(ctx context.Context, req TransactionRequest) (uint64, error) {
	if req.Nonce != nil {
		return *req.Nonce, nil
	}
	nonce, err := a.client.PendingNonceAt(ctx, req.From)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get nonce")
	}
	return nonce, nil
}

// fees 缺省 maxFeePerGas = tip + 2 * baseFee
func (a *Adapter) fees(ctx context.Context, req TransactionRequest) (*big.Int, *big.Int, error) {
	tipCap := req.GasTipCap
	if tipCap == nil {
		var err error
		tipCap, err = a.client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to suggest gas tip cap")
		}
	}

	feeCap := req.GasFeeCap
	if feeCap == nil {
		head, err := a.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to get latest header")
		}
		baseFee := head.BaseFee
		if baseFee == nil {
			baseFee = new(big.Int)
		}
		feeCap = new(big.Int).Add(tipCap, new(big.Int).Mul(baseFee, big.NewInt(2)))
	}

	if feeCap.Cmp(tipCap) < 0 {
		return nil, nil, errors.Errorf("max fee per gas %s below max priority fee %s", feeCap, tipCap)
	}
	return tipCap, feeCap, nil
}

// singleSignature 取唯一的签名并规范化为 low-S（EIP-2）
func singleSignature(sigs []signature.RSV) (signature.RSV, error) {
	if err := chain.CheckSignatureCount(1, sigs); err != nil {
		return signature.RSV{}, err
	}
	return sigs[0].LowS()
}

// FinalizeTransactionSigning 附加签名（v 为原始 recovery id），返回 0x 前缀的 RLP 编码
func (a *Adapter) FinalizeTransactionSigning(tx UnsignedTransaction, sigs []signature.RSV) (string, error) {
	if tx == nil {
		return "", errors.New("transaction is nil")
	}
	sig, err := singleSignature(sigs)
	if err != nil {
		return "", err
	}
	raw, err := sig.Bytes()
	if err != nil {
		return "", err
	}

	signed, err := tx.WithSignature(types.NewLondonSigner(tx.ChainId()), raw)
	if err != nil {
		return "", errors.Wrap(err, "failed to attach signature")
	}

	bin, err := signed.MarshalBinary()
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal signed transaction")
	}
	return hexutil.Encode(bin), nil
}

// BroadcastTx 广播已签名交易
func (a *Adapter) BroadcastTx(ctx context.Context, serialized string) (string, error) {
	bin, err := hexutil.Decode(serialized)
	if err != nil {
		return "", chain.NewBroadcastError(chainName, errors.Wrap(err, "invalid raw transaction hex"))
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(bin); err != nil {
		return "", chain.NewBroadcastError(chainName, errors.Wrap(err, "invalid raw transaction"))
	}

	if err := a.client.SendTransaction(ctx, &tx); err != nil {
		return "", chain.NewBroadcastError(chainName, err)
	}

	log.Info().Str("tx_hash", tx.Hash().Hex()).Msg("Broadcast EVM transaction")
	return tx.Hash().Hex(), nil
}

// SerializeTransaction 以 JSON typed transaction 形式序列化
func (a *Adapter) SerializeTransaction(tx UnsignedTransaction) (string, error) {
	if tx == nil {
		return "", errors.New("transaction is nil")
	}
	data, err := tx.MarshalJSON()
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal transaction")
	}
	return string(data), nil
}

// DeserializeTransaction 解析 JSON typed transaction
func (a *Adapter) DeserializeTransaction(serialized string) (UnsignedTransaction, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalJSON([]byte(serialized)); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal transaction")
	}
	return tx, nil
}
