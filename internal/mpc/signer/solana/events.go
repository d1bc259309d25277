package solana

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/near/borsh-go"
	"github.com/pkg/errors"
)

const programDataLogPrefix = "Program data: "

func discriminator(preimage string) [8]byte {
	var d [8]byte
	sum := sha256.Sum256([]byte(preimage))
	copy(d[:], sum[:8])
	return d
}

var (
	// eventIxTag Anchor emit_cpi! 自调用指令的前缀
	eventIxTag = discriminator("anchor:event")

	signatureRespondedDiscriminator = discriminator("event:SignatureRespondedEvent")
	signatureErrorDiscriminator     = discriminator("event:SignatureErrorEvent")
)

// AffinePoint secp256k1 仿射坐标（大端）
type AffinePoint struct {
	X [32]byte
	Y [32]byte
}

// Signature 程序事件中的签名
type Signature struct {
	BigR       AffinePoint
	S          [32]byte
	RecoveryID uint8
}

// SignatureRespondedEvent MPC 网络回填签名
type SignatureRespondedEvent struct {
	RequestID [32]byte
	Responder [32]byte
	Signature Signature
}

// SignatureErrorEvent MPC 网络上报错误
type SignatureErrorEvent struct {
	RequestID [32]byte
	Responder [32]byte
	Error     string
}

// programEvent 解码后的事件，二者恰有其一非空
type programEvent struct {
	responded *SignatureRespondedEvent
	failed    *SignatureErrorEvent
}

func (e programEvent) requestID() [32]byte {
	if e.responded != nil {
		return e.responded.RequestID
	}
	return e.failed.RequestID
}

// decodeEvent 解码 8 字节判别符 + Borsh 负载；未知事件返回 ok=false
func decodeEvent(data []byte) (programEvent, bool, error) {
	if len(data) < 8 {
		return programEvent{}, false, nil
	}

	var disc [8]byte
	copy(disc[:], data[:8])
	payload := data[8:]

	switch disc {
	case signatureRespondedDiscriminator:
		var ev SignatureRespondedEvent
		if err := borsh.Deserialize(&ev, payload); err != nil {
			return programEvent{}, false, errors.Wrap(err, "failed to decode SignatureRespondedEvent")
		}
		return programEvent{responded: &ev}, true, nil
	case signatureErrorDiscriminator:
		var ev SignatureErrorEvent
		if err := borsh.Deserialize(&ev, payload); err != nil {
			return programEvent{}, false, errors.Wrap(err, "failed to decode SignatureErrorEvent")
		}
		return programEvent{failed: &ev}, true, nil
	default:
		return programEvent{}, false, nil
	}
}

// decodeCPIEventData 解析 emit_cpi! 内部指令数据：eventIxTag + 事件
func decodeCPIEventData(data []byte) (programEvent, bool, error) {
	if len(data) < 8 {
		return programEvent{}, false, nil
	}
	var tag [8]byte
	copy(tag[:], data[:8])
	if tag != eventIxTag {
		return programEvent{}, false, nil
	}
	return decodeEvent(data[8:])
}

// decodeLogEvent 解析 "Program data: <base64>" 日志
func decodeLogEvent(line string) (programEvent, bool, error) {
	if !strings.HasPrefix(line, programDataLogPrefix) {
		return programEvent{}, false, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, programDataLogPrefix))
	if err != nil {
		return programEvent{}, false, nil
	}
	return decodeEvent(data)
}

func (s Signature) toRSV() (*signature.RSV, error) {
	return signature.FromSolanaEvent(s.BigR.X, s.S, s.RecoveryID)
}

// EncodeEvent 编码事件（判别符 + Borsh），用于构造测试数据和本地回放
func EncodeEvent(ev interface{}) ([]byte, error) {
	var disc [8]byte
	var value interface{}
	switch e := ev.(type) {
	case SignatureRespondedEvent:
		disc, value = signatureRespondedDiscriminator, e
	case *SignatureRespondedEvent:
		disc, value = signatureRespondedDiscriminator, *e
	case SignatureErrorEvent:
		disc, value = signatureErrorDiscriminator, e
	case *SignatureErrorEvent:
		disc, value = signatureErrorDiscriminator, *e
	default:
		return nil, errors.Errorf("unsupported event type %T", ev)
	}

	// borsh-go 将指针编码为 Option，这里统一传值
	payload, err := borsh.Serialize(value)
	if err != nil {
		return nil, errors.Wrap(err, "failed to borsh encode event")
	}
	return append(disc[:], payload...), nil
}

// EncodeCPIEvent 编码 emit_cpi! 内部指令数据
func EncodeCPIEvent(ev interface{}) ([]byte, error) {
	data, err := EncodeEvent(ev)
	if err != nil {
		return nil, err
	}
	return append(eventIxTag[:], data...), nil
}
