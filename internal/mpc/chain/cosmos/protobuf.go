package cosmos

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// cosmos-sdk type URLs
const (
	TypeURLMsgSend      = "/cosmos.bank.v1beta1.MsgSend"
	typeURLSecp256k1Key = "/cosmos.crypto.secp256k1.PubKey"

	signModeDirect = 1
)

// Coin 金额与面额
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// Any protobuf Any，Value 为已编码的消息
type Any struct {
	TypeURL string `json:"typeUrl"`
	Value   []byte `json:"value"`
}

// MsgSend bank 转账消息
type MsgSend struct {
	FromAddress string
	ToAddress   string
	Amount      []Coin
}

// ToAny 编码为 Any
func (m MsgSend) ToAny() Any {
	var b []byte
	b = appendString(b, 1, m.FromAddress)
	b = appendString(b, 2, m.ToAddress)
	for _, c := range m.Amount {
		b = appendMessage(b, 3, encodeCoin(c))
	}
	return Any{TypeURL: TypeURLMsgSend, Value: b}
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendMessage 嵌套消息即使为空也要写出
func appendMessage(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func encodeCoin(c Coin) []byte {
	var b []byte
	b = appendString(b, 1, c.Denom)
	return appendString(b, 2, c.Amount)
}

func encodeAny(a Any) []byte {
	var b []byte
	b = appendString(b, 1, a.TypeURL)
	return appendBytes(b, 2, a.Value)
}

// encodeTxBody TxBody{messages=1, memo=2, timeout_height=3}
func encodeTxBody(msgs []Any, memo string, timeoutHeight uint64) []byte {
	var b []byte
	for _, m := range msgs {
		b = appendMessage(b, 1, encodeAny(m))
	}
	b = appendString(b, 2, memo)
	return appendVarint(b, 3, timeoutHeight)
}

func encodePubKey(compressed []byte) Any {
	return Any{TypeURL: typeURLSecp256k1Key, Value: appendBytes(nil, 1, compressed)}
}

// encodeAuthInfo AuthInfo{signer_infos=1, fee=2}，单签名者 SIGN_MODE_DIRECT
func encodeAuthInfo(compressed []byte, sequence uint64, fee []Coin, gasLimit uint64) []byte {
	single := appendVarint(nil, 1, signModeDirect)
	modeInfo := appendMessage(nil, 1, single)

	var signerInfo []byte
	signerInfo = appendMessage(signerInfo, 1, encodeAny(encodePubKey(compressed)))
	signerInfo = appendMessage(signerInfo, 2, modeInfo)
	signerInfo = appendVarint(signerInfo, 3, sequence)

	var feeBytes []byte
	for _, c := range fee {
		feeBytes = appendMessage(feeBytes, 1, encodeCoin(c))
	}
	feeBytes = appendVarint(feeBytes, 2, gasLimit)

	var b []byte
	b = appendMessage(b, 1, signerInfo)
	return appendMessage(b, 2, feeBytes)
}

// encodeSignDoc SignDoc{body_bytes=1, auth_info_bytes=2, chain_id=3, account_number=4}
func encodeSignDoc(body, authInfo []byte, chainID string, accountNumber uint64) []byte {
	var b []byte
	b = appendBytes(b, 1, body)
	b = appendBytes(b, 2, authInfo)
	b = appendString(b, 3, chainID)
	return appendVarint(b, 4, accountNumber)
}

// TxRaw 已编码的 body / auth_info 与签名
type TxRaw struct {
	BodyBytes     []byte
	AuthInfoBytes []byte
	Signatures    [][]byte
}

// Marshal 编码 TxRaw{body_bytes=1, auth_info_bytes=2, signatures=3}
func (t TxRaw) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, t.BodyBytes)
	b = appendBytes(b, 2, t.AuthInfoBytes)
	for _, sig := range t.Signatures {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, sig)
	}
	return b
}

// UnmarshalTxRaw 解析 TxRaw，忽略未知字段
func UnmarshalTxRaw(b []byte) (*TxRaw, error) {
	tx := &TxRaw{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "invalid TxRaw tag")
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "invalid TxRaw field")
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "invalid TxRaw field %d", num)
		}
		b = b[n:]

		switch num {
		case 1:
			tx.BodyBytes = append([]byte(nil), v...)
		case 2:
			tx.AuthInfoBytes = append([]byte(nil), v...)
		case 3:
			tx.Signatures = append(tx.Signatures, append([]byte(nil), v...))
		}
	}
	if len(tx.BodyBytes) == 0 || len(tx.AuthInfoBytes) == 0 {
		return nil, errors.New("TxRaw is missing body or auth info")
	}
	return tx, nil
}
