package cosmos

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/SafeMPC/chainsig/internal/mpc/chain"
	"github.com/SafeMPC/chainsig/internal/mpc/derivation"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck
)

const chainName = "cosmos"

// 模拟得到的 gas 上浮 30%
const (
	gasMultiplierNum = 13
	gasMultiplierDen = 10
)

// ChainInfo 链参数
type ChainInfo struct {
	ChainID string
	// Prefix bech32 地址前缀，如 cosmos / osmo
	Prefix   string
	Denom    string
	Decimals int
	// GasPrice 每单位 gas 的价格（十进制字符串，以 Denom 计）
	GasPrice string
}

func (c ChainInfo) validate() error {
	if c.ChainID == "" {
		return errors.New("chain id is required")
	}
	if c.Prefix == "" {
		return errors.New("bech32 prefix is required")
	}
	if c.Denom == "" {
		return errors.New("denom is required")
	}
	if _, ok := new(big.Rat).SetString(c.gasPrice()); !ok {
		return errors.Errorf("invalid gas price %q", c.GasPrice)
	}
	return nil
}

func (c ChainInfo) gasPrice() string {
	if c.GasPrice == "" {
		return "0.025"
	}
	return c.GasPrice
}

// TransactionRequest Cosmos 交易请求
type TransactionRequest struct {
	Address   string
	PublicKey string
	Messages  []Any
	Memo      string
	// GasLimit 为 0 时通过模拟估算
	GasLimit uint64
	// Fee 为空时按 GasLimit * GasPrice 计算
	Fee           []Coin
	TimeoutHeight uint64
}

// UnsignedTransaction 未签名的 TxRaw 及签名公钥（压缩）
type UnsignedTransaction struct {
	TxRaw     TxRaw
	PublicKey []byte
}

type serializedTransaction struct {
	TxRaw     string `json:"txRaw"`
	PublicKey string `json:"publicKey"`
}

// Adapter Cosmos SIGN_MODE_DIRECT 适配器
type Adapter struct {
	client   Client
	contract chain.KeyDeriver
	info     ChainInfo
}

var _ chain.Adapter[TransactionRequest, *UnsignedTransaction] = (*Adapter)(nil)

// NewAdapter 创建 Cosmos 适配器
func NewAdapter(client Client, contract chain.KeyDeriver, info ChainInfo) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("cosmos client is required")
	}
	if contract == nil {
		return nil, errors.New("signer contract is required")
	}
	if err := info.validate(); err != nil {
		return nil, err
	}
	return &Adapter{client: client, contract: contract, info: info}, nil
}

// Address 压缩公钥的 bech32 账户地址
func Address(compressed []byte, prefix string) (string, error) {
	if len(compressed) != 33 {
		return "", errors.Errorf("expected compressed public key, got %d bytes", len(compressed))
	}
	if _, err := btcec.ParsePubKey(compressed); err != nil {
		return "", errors.Wrap(err, "invalid public key")
	}

	sha := sha256.Sum256(compressed)
	ripemd := ripemd160.New()
	if _, err := ripemd.Write(sha[:]); err != nil {
		return "", errors.Wrap(err, "failed to hash public key")
	}

	conv, err := bech32.ConvertBits(ripemd.Sum(nil), 8, 5, true)
	if err != nil {
		return "", errors.Wrap(err, "failed to convert address bits")
	}
	addr, err := bech32.Encode(prefix, conv)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode bech32 address")
	}
	return addr, nil
}

func (a *Adapter) validateAddress(address string) error {
	hrp, _, err := bech32.Decode(address)
	if err != nil {
		return errors.Wrapf(err, "invalid bech32 address %q", address)
	}
	if hrp != a.info.Prefix {
		return errors.Errorf("address %q has prefix %q, expected %q", address, hrp, a.info.Prefix)
	}
	return nil
}

// GetBalance 查询 Denom 余额
func (a *Adapter) GetBalance(ctx context.Context, address string) (*chain.Balance, error) {
	if err := a.validateAddress(address); err != nil {
		return nil, err
	}
	balance, err := a.client.GetBalance(ctx, address, a.info.Denom)
	if err != nil {
		return nil, err
	}
	return &chain.Balance{Balance: balance, Decimals: a.info.Decimals}, nil
}

// DeriveAddressAndPublicKey 派生 bech32 地址，公钥为压缩 SEC1
func (a *Adapter) DeriveAddressAndPublicKey(ctx context.Context, predecessor, path string) (*chain.DerivedAccount, error) {
	pub, err := chain.DerivedPublicKey(ctx, a.contract, predecessor, path)
	if err != nil {
		return nil, err
	}
	compressed, err := derivation.CompressPubKey(pub)
	if err != nil {
		return nil, err
	}
	addr, err := Address(compressed, a.info.Prefix)
	if err != nil {
		return nil, err
	}
	return &chain.DerivedAccount{Address: addr, PublicKey: hex.EncodeToString(compressed)}, nil
}

// PrepareTransactionForSigning 构建 TxBody / AuthInfo，待签名哈希为 sha256(SignDoc)
func (a *Adapter) PrepareTransactionForSigning(ctx context.Context, req TransactionRequest) (*chain.Prepared[*UnsignedTransaction], error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}
	pub, err := hex.DecodeString(req.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid public key hex")
	}
	address, err := Address(pub, a.info.Prefix)
	if err != nil {
		return nil, err
	}
	if req.Address != "" && req.Address != address {
		return nil, errors.Errorf("address %s does not match public key address %s", req.Address, address)
	}

	account, err := a.client.GetAccount(ctx, address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get account %s", address)
	}

	body := encodeTxBody(req.Messages, req.Memo, req.TimeoutHeight)

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit, err = a.simulate(ctx, body, pub, account.Sequence)
		if err != nil {
			return nil, err
		}
	}

	fee := req.Fee
	if len(fee) == 0 {
		fee = []Coin{a.feeFor(gasLimit)}
	}

	authInfo := encodeAuthInfo(pub, account.Sequence, fee, gasLimit)
	signDoc := encodeSignDoc(body, authInfo, a.info.ChainID, account.AccountNumber)
	hash := sha256.Sum256(signDoc)

	log.Debug().
		Str("address", address).
		Uint64("account_number", account.AccountNumber).
		Uint64("sequence", account.Sequence).
		Uint64("gas", gasLimit).
		Msg("Prepared cosmos transaction")

	return &chain.Prepared[*UnsignedTransaction]{
		Transaction: &UnsignedTransaction{
			TxRaw:     TxRaw{BodyBytes: body, AuthInfoBytes: authInfo},
			PublicKey: pub,
		},
		HashesToSign: [][]byte{hash[:]},
	}, nil
}

// simulate 以空签名模拟执行并上浮 gas
func (a *Adapter) simulate(ctx context.Context, body, pub []byte, sequence uint64) (uint64, error) {
	tx := TxRaw{
		BodyBytes:     body,
		AuthInfoBytes: encodeAuthInfo(pub, sequence, nil, 0),
		Signatures:    [][]byte{{}},
	}
	used, err := a.client.Simulate(ctx, tx.Marshal())
	if err != nil {
		return 0, errors.Wrap(err, "failed to estimate gas")
	}
	return (used*gasMultiplierNum + gasMultiplierDen - 1) / gasMultiplierDen, nil
}

// feeFor ceil(gasLimit * gasPrice)
func (a *Adapter) feeFor(gasLimit uint64) Coin {
	price, _ := new(big.Rat).SetString(a.info.gasPrice())
	total := new(big.Rat).Mul(price, new(big.Rat).SetInt(new(big.Int).SetUint64(gasLimit)))

	amount := new(big.Int).Quo(total.Num(), total.Denom())
	if new(big.Int).Mul(amount, total.Denom()).Cmp(total.Num()) != 0 {
		amount.Add(amount, big.NewInt(1))
	}
	return Coin{Denom: a.info.Denom, Amount: amount.String()}
}

// FinalizeTransactionSigning 附加 low-S r||s，返回 TxRaw hex
func (a *Adapter) FinalizeTransactionSigning(tx *UnsignedTransaction, sigs []signature.RSV) (string, error) {
	if tx == nil {
		return "", errors.New("transaction is nil")
	}
	if err := chain.CheckSignatureCount(1, sigs); err != nil {
		return "", err
	}

	low, err := sigs[0].LowS()
	if err != nil {
		return "", err
	}
	rs, err := low.RS()
	if err != nil {
		return "", err
	}

	signed := TxRaw{
		BodyBytes:     tx.TxRaw.BodyBytes,
		AuthInfoBytes: tx.TxRaw.AuthInfoBytes,
		Signatures:    [][]byte{rs},
	}
	return hex.EncodeToString(signed.Marshal()), nil
}

// BroadcastTx 广播 TxRaw hex
func (a *Adapter) BroadcastTx(ctx context.Context, serialized string) (string, error) {
	raw, err := hex.DecodeString(serialized)
	if err != nil {
		return "", chain.NewBroadcastError(chainName, errors.Wrap(err, "invalid raw transaction hex"))
	}
	if _, err := UnmarshalTxRaw(raw); err != nil {
		return "", chain.NewBroadcastError(chainName, err)
	}

	hash, err := a.client.Broadcast(ctx, raw)
	if err != nil {
		return "", chain.NewBroadcastError(chainName, err)
	}

	log.Info().Str("tx_hash", hash).Str("chain_id", a.info.ChainID).Msg("Broadcast cosmos transaction")
	return hash, nil
}

// SerializeTransaction 序列化为 {txRaw(base64), publicKey(hex)} JSON
func (a *Adapter) SerializeTransaction(tx *UnsignedTransaction) (string, error) {
	if tx == nil {
		return "", errors.New("transaction is nil")
	}
	data, err := json.Marshal(serializedTransaction{
		TxRaw:     base64.StdEncoding.EncodeToString(tx.TxRaw.Marshal()),
		PublicKey: hex.EncodeToString(tx.PublicKey),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal transaction")
	}
	return string(data), nil
}

// DeserializeTransaction 解析 {txRaw, publicKey} JSON
func (a *Adapter) DeserializeTransaction(serialized string) (*UnsignedTransaction, error) {
	var st serializedTransaction
	if err := json.Unmarshal([]byte(serialized), &st); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal transaction")
	}
	raw, err := base64.StdEncoding.DecodeString(st.TxRaw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid TxRaw base64")
	}
	txRaw, err := UnmarshalTxRaw(raw)
	if err != nil {
		return nil, err
	}
	pub, err := hex.DecodeString(st.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid public key hex")
	}
	if _, err := btcec.ParsePubKey(pub); err != nil {
		return nil, errors.Wrap(err, "invalid public key")
	}
	return &UnsignedTransaction{TxRaw: *txRaw, PublicKey: pub}, nil
}
