package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/SafeMPC/chainsig/internal/mpc/chain"
	"github.com/SafeMPC/chainsig/internal/mpc/derivation"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	chainName = "bitcoin"
	decimals  = 8

	txVersion = 2
	// 启用 RBF
	defaultSequence = wire.MaxTxInSequenceNum - 2
)

// TransactionRequest Bitcoin 交易请求
//
// Inputs 与 Outputs 同时给出时直接使用；否则通过 UTXOProvider 选币，
// 输出为 To/Value，找零回到 From。
type TransactionRequest struct {
	From      string
	To        string
	Value     int64
	PublicKey string
	Inputs    []UTXO
	Outputs   []Output
	// FeeRate sat/vB，为 0 时查询建议费率
	FeeRate int64
}

// UnsignedTransaction 未签名的 PSBT 及签名公钥（压缩）
type UnsignedTransaction struct {
	PSBT      *psbt.Packet
	PublicKey []byte
}

type serializedTransaction struct {
	PSBT      string `json:"psbt"`
	PublicKey string `json:"publicKey"`
}

// Adapter Bitcoin P2WPKH 适配器
type Adapter struct {
	provider UTXOProvider
	contract chain.KeyDeriver
	params   *chaincfg.Params
}

var _ chain.Adapter[TransactionRequest, *UnsignedTransaction] = (*Adapter)(nil)

// NewAdapter 创建 Bitcoin 适配器，params 为空时使用主网
func NewAdapter(provider UTXOProvider, contract chain.KeyDeriver, params *chaincfg.Params) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("UTXO provider is required")
	}
	if contract == nil {
		return nil, errors.New("signer contract is required")
	}
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &Adapter{provider: provider, contract: contract, params: params}, nil
}

// NetworkParams 根据网络名返回链参数
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, errors.Errorf("unsupported bitcoin network %q", network)
	}
}

// P2WPKHAddress 压缩公钥对应的 P2WPKH 地址
func P2WPKHAddress(compressed []byte, params *chaincfg.Params) (*btcutil.AddressWitnessPubKeyHash, error) {
	if len(compressed) != 33 {
		return nil, errors.Errorf("expected compressed public key, got %d bytes", len(compressed))
	}
	if _, err := btcec.ParsePubKey(compressed); err != nil {
		return nil, errors.Wrap(err, "invalid public key")
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(compressed), params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build P2WPKH address")
	}
	return addr, nil
}

// GetBalance 查询余额（聪）
func (a *Adapter) GetBalance(ctx context.Context, address string) (*chain.Balance, error) {
	if _, err := btcutil.DecodeAddress(address, a.params); err != nil {
		return nil, errors.Wrapf(err, "invalid bitcoin address %q", address)
	}
	balance, err := a.provider.GetBalance(ctx, address)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get balance")
	}
	return &chain.Balance{Balance: balance, Decimals: decimals}, nil
}

// DeriveAddressAndPublicKey 派生 P2WPKH 地址，公钥为压缩 SEC1
func (a *Adapter) DeriveAddressAndPublicKey(ctx context.Context, predecessor, path string) (*chain.DerivedAccount, error) {
	pub, err := chain.DerivedPublicKey(ctx, a.contract, predecessor, path)
	if err != nil {
		return nil, err
	}
	compressed, err := derivation.CompressPubKey(pub)
	if err != nil {
		return nil, err
	}
	addr, err := P2WPKHAddress(compressed, a.params)
	if err != nil {
		return nil, err
	}
	return &chain.DerivedAccount{Address: addr.EncodeAddress(), PublicKey: hex.EncodeToString(compressed)}, nil
}

// PrepareTransactionForSigning 构建 PSBT 并为每个输入直接计算 BIP-143 签名哈希
func (a *Adapter) PrepareTransactionForSigning(ctx context.Context, req TransactionRequest) (*chain.Prepared[*UnsignedTransaction], error) {
	pub, err := hex.DecodeString(req.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid public key hex")
	}
	from, err := P2WPKHAddress(pub, a.params)
	if err != nil {
		return nil, err
	}
	if req.From != "" && req.From != from.EncodeAddress() {
		return nil, errors.Errorf("address %s does not match public key address %s", req.From, from.EncodeAddress())
	}
	ownScript, err := txscript.PayToAddrScript(from)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build input script")
	}

	inputs, outputs := req.Inputs, req.Outputs
	if len(inputs) == 0 || len(outputs) == 0 {
		selection, err := a.selectCoins(ctx, req, from.EncodeAddress())
		if err != nil {
			return nil, err
		}
		inputs, outputs = selection.Inputs, selection.Outputs
	}

	outPoints := make([]*wire.OutPoint, 0, len(inputs))
	sequences := make([]uint32, 0, len(inputs))
	prevOuts := make([]*wire.TxOut, 0, len(inputs))
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid input txid %q", in.TxID)
		}
		prev, err := a.prevOutput(ctx, in)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(prev.PkScript, ownScript) {
			return nil, errors.Errorf("input %s:%d is not spendable by %s", in.TxID, in.Vout, from.EncodeAddress())
		}
		outPoints = append(outPoints, wire.NewOutPoint(hash, in.Vout))
		sequences = append(sequences, defaultSequence)
		prevOuts = append(prevOuts, prev)
	}

	txOuts := make([]*wire.TxOut, 0, len(outputs))
	for _, out := range outputs {
		txOut, err := a.txOut(out)
		if err != nil {
			return nil, err
		}
		txOuts = append(txOuts, txOut)
	}

	packet, err := psbt.New(outPoints, txOuts, txVersion, 0, sequences)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create PSBT")
	}
	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create PSBT updater")
	}
	for i, prev := range prevOuts {
		if err := updater.AddInWitnessUtxo(prev, i); err != nil {
			return nil, errors.Wrapf(err, "failed to add witness utxo for input %d", i)
		}
	}

	hashes, err := sigHashes(packet)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("from", from.EncodeAddress()).
		Int("inputs", len(inputs)).
		Int("outputs", len(outputs)).
		Str("txid", packet.UnsignedTx.TxHash().String()).
		Msg("Prepared bitcoin transaction")

	return &chain.Prepared[*UnsignedTransaction]{
		Transaction:  &UnsignedTransaction{PSBT: packet, PublicKey: pub},
		HashesToSign: hashes,
	}, nil
}

func (a *Adapter) selectCoins(ctx context.Context, req TransactionRequest, from string) (*Selection, error) {
	outputs := req.Outputs
	if len(outputs) == 0 {
		if req.To == "" || req.Value <= 0 {
			return nil, errors.New("recipient and value are required when outputs are not supplied")
		}
		outputs = []Output{{Address: req.To, Value: req.Value}}
	}

	utxos := req.Inputs
	if len(utxos) == 0 {
		var err error
		utxos, err = a.provider.SelectUTXOs(ctx, from)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get UTXOs")
		}
	}

	feeRate := req.FeeRate
	if feeRate <= 0 {
		var err error
		feeRate, err = a.provider.GetFeeRate(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get fee rate")
		}
	}

	selection, err := SelectCoins(utxos, outputs, feeRate, from)
	if err != nil {
		return nil, err
	}
	log.Debug().Int64("fee", selection.Fee).Int64("fee_rate", feeRate).Msg("Selected coins")
	return selection, nil
}

// prevOutput 优先使用 UTXO 自带的脚本，否则查询前序交易
func (a *Adapter) prevOutput(ctx context.Context, in UTXO) (*wire.TxOut, error) {
	if in.Script != "" {
		script, err := hex.DecodeString(in.Script)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid script for input %s:%d", in.TxID, in.Vout)
		}
		return wire.NewTxOut(in.Value, script), nil
	}

	prev, err := a.provider.GetTransaction(ctx, in.TxID, in.Vout)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get previous output %s:%d", in.TxID, in.Vout)
	}
	return wire.NewTxOut(prev.Value, prev.Script), nil
}

func (a *Adapter) txOut(out Output) (*wire.TxOut, error) {
	if out.Value <= 0 {
		return nil, errors.Errorf("invalid output value %d", out.Value)
	}
	if out.Script != "" {
		script, err := hex.DecodeString(out.Script)
		if err != nil {
			return nil, errors.Wrap(err, "invalid output script hex")
		}
		return wire.NewTxOut(out.Value, script), nil
	}

	addr, err := btcutil.DecodeAddress(out.Address, a.params)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid output address %q", out.Address)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build output script for %q", out.Address)
	}
	return wire.NewTxOut(out.Value, script), nil
}

func prevOutFetcher(packet *psbt.Packet) (*txscript.MultiPrevOutFetcher, error) {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(packet.Inputs))
	for i, in := range packet.UnsignedTx.TxIn {
		utxo := packet.Inputs[i].WitnessUtxo
		if utxo == nil {
			return nil, errors.Errorf("input %d is missing witness utxo", i)
		}
		prevOuts[in.PreviousOutPoint] = utxo
	}
	return txscript.NewMultiPrevOutFetcher(prevOuts), nil
}

// sigHashes 每个输入一个 SIGHASH_ALL 见证签名哈希，顺序与输入一致
func sigHashes(packet *psbt.Packet) ([][]byte, error) {
	fetcher, err := prevOutFetcher(packet)
	if err != nil {
		return nil, err
	}
	tx := packet.UnsignedTx
	cache := txscript.NewTxSigHashes(tx, fetcher)

	hashes := make([][]byte, len(tx.TxIn))
	for i := range tx.TxIn {
		utxo := packet.Inputs[i].WitnessUtxo
		hash, err := txscript.CalcWitnessSigHash(utxo.PkScript, cache, txscript.SigHashAll, tx, i, utxo.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to compute sighash for input %d", i)
		}
		hashes[i] = hash
	}
	return hashes, nil
}

// derSignature RSV 转 DER，Serialize 会规范化为 low-S
func derSignature(sig signature.RSV) ([]byte, error) {
	rs, err := sig.RS()
	if err != nil {
		return nil, err
	}
	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(rs[:32]); overflow || r.IsZero() {
		return nil, errors.New("invalid signature r")
	}
	if overflow := s.SetByteSlice(rs[32:]); overflow || s.IsZero() {
		return nil, errors.New("invalid signature s")
	}
	return ecdsa.NewSignature(&r, &s).Serialize(), nil
}

// clonePacket 复制 PSBT，签名失败时调用方的交易保持不变
func clonePacket(packet *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to serialize PSBT")
	}
	clone, err := psbt.NewFromRawBytes(&buf, false)
	if err != nil {
		return nil, errors.Wrap(err, "failed to copy PSBT")
	}
	return clone, nil
}

// FinalizeTransactionSigning 按输入顺序附加签名，返回原始交易 hex
//
// 签名附加在 PSBT 副本上，tx 本身不会被修改
func (a *Adapter) FinalizeTransactionSigning(tx *UnsignedTransaction, sigs []signature.RSV) (string, error) {
	if tx == nil || tx.PSBT == nil {
		return "", errors.New("transaction is nil")
	}
	if err := chain.CheckSignatureCount(len(tx.PSBT.Inputs), sigs); err != nil {
		return "", err
	}

	ders := make([][]byte, len(sigs))
	for i, sig := range sigs {
		der, err := derSignature(sig)
		if err != nil {
			return "", errors.Wrapf(err, "invalid signature for input %d", i)
		}
		ders[i] = append(der, byte(txscript.SigHashAll))
	}

	packet, err := clonePacket(tx.PSBT)
	if err != nil {
		return "", err
	}
	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return "", errors.Wrap(err, "failed to create PSBT updater")
	}
	for i, der := range ders {
		outcome, err := updater.Sign(i, der, tx.PublicKey, nil, nil)
		if err != nil {
			return "", errors.Wrapf(err, "failed to add signature for input %d", i)
		}
		if outcome != psbt.SignSuccesful {
			return "", errors.Errorf("failed to add signature for input %d: outcome %d", i, outcome)
		}
	}

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return "", errors.Wrap(err, "failed to finalize PSBT")
	}
	final, err := psbt.Extract(packet)
	if err != nil {
		return "", errors.Wrap(err, "failed to extract transaction")
	}

	var buf bytes.Buffer
	if err := final.Serialize(&buf); err != nil {
		return "", errors.Wrap(err, "failed to serialize transaction")
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// BroadcastTx 广播原始交易 hex
func (a *Adapter) BroadcastTx(ctx context.Context, serialized string) (string, error) {
	raw, err := hex.DecodeString(serialized)
	if err != nil {
		return "", chain.NewBroadcastError(chainName, errors.Wrap(err, "invalid raw transaction hex"))
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", chain.NewBroadcastError(chainName, errors.Wrap(err, "invalid raw transaction"))
	}

	txid, err := a.provider.BroadcastRaw(ctx, serialized)
	if err != nil {
		return "", chain.NewBroadcastError(chainName, err)
	}

	log.Info().Str("txid", txid).Msg("Broadcast bitcoin transaction")
	return txid, nil
}

// SerializeTransaction 序列化为 {psbt, publicKey} JSON
func (a *Adapter) SerializeTransaction(tx *UnsignedTransaction) (string, error) {
	if tx == nil || tx.PSBT == nil {
		return "", errors.New("transaction is nil")
	}
	var buf bytes.Buffer
	if err := tx.PSBT.Serialize(&buf); err != nil {
		return "", errors.Wrap(err, "failed to serialize PSBT")
	}
	data, err := json.Marshal(serializedTransaction{
		PSBT:      hex.EncodeToString(buf.Bytes()),
		PublicKey: hex.EncodeToString(tx.PublicKey),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal transaction")
	}
	return string(data), nil
}

// DeserializeTransaction 解析 {psbt, publicKey} JSON
func (a *Adapter) DeserializeTransaction(serialized string) (*UnsignedTransaction, error) {
	var st serializedTransaction
	if err := json.Unmarshal([]byte(serialized), &st); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal transaction")
	}
	raw, err := hex.DecodeString(st.PSBT)
	if err != nil {
		return nil, errors.Wrap(err, "invalid PSBT hex")
	}
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse PSBT")
	}
	pub, err := hex.DecodeString(st.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid public key hex")
	}
	if _, err := btcec.ParsePubKey(pub); err != nil {
		return nil, errors.Wrap(err, "invalid public key")
	}
	return &UnsignedTransaction{PSBT: packet, PublicKey: pub}, nil
}

// Fee 输入总额减去输出总额
func (tx *UnsignedTransaction) Fee() *big.Int {
	var in, out int64
	for _, input := range tx.PSBT.Inputs {
		if input.WitnessUtxo != nil {
			in += input.WitnessUtxo.Value
		}
	}
	for _, o := range tx.PSBT.UnsignedTx.TxOut {
		out += o.Value
	}
	return big.NewInt(in - out)
}
