package derivation

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/pkg/errors"
)

const (
	// NajCurvePrefix is the curve tag used by the signer network's native key encoding.
	NajCurvePrefix = "secp256k1:"

	UncompressedPubKeyLength = 65
	CompressedPubKeyLength   = 33
)

// NajToUncompressedPubKeySEC1 converts "secp256k1:<base58(X||Y)>" into 0x04 || X || Y.
func NajToUncompressedPubKeySEC1(najPublicKey string) ([]byte, error) {
	if !strings.HasPrefix(najPublicKey, NajCurvePrefix) {
		return nil, errors.Errorf("unsupported public key curve: %q", najPublicKey)
	}

	raw := base58.Decode(strings.TrimPrefix(najPublicKey, NajCurvePrefix))
	if len(raw) != UncompressedPubKeyLength-1 {
		return nil, errors.Errorf("invalid public key length: expected 64 bytes, got %d", len(raw))
	}

	uncompressed := make([]byte, 0, UncompressedPubKeyLength)
	uncompressed = append(uncompressed, 0x04)
	uncompressed = append(uncompressed, raw...)

	if _, err := btcec.ParsePubKey(uncompressed); err != nil {
		return nil, errors.Wrap(err, "public key is not a secp256k1 point")
	}

	return uncompressed, nil
}

// UncompressedToNaj is the inverse of NajToUncompressedPubKeySEC1.
func UncompressedToNaj(uncompressed []byte) (string, error) {
	if len(uncompressed) != UncompressedPubKeyLength || uncompressed[0] != 0x04 {
		return "", errors.Errorf("invalid uncompressed public key: len=%d", len(uncompressed))
	}
	return NajCurvePrefix + base58.Encode(uncompressed[1:]), nil
}

// ParseRootPublicKey accepts a root key either in NAJ form or as SEC1 hex
// (compressed or uncompressed) and returns the uncompressed encoding.
func ParseRootPublicKey(value string) ([]byte, error) {
	if strings.HasPrefix(value, NajCurvePrefix) {
		return NajToUncompressedPubKeySEC1(value)
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode root public key hex")
	}

	switch len(raw) {
	case UncompressedPubKeyLength:
		if _, err := btcec.ParsePubKey(raw); err != nil {
			return nil, errors.Wrap(err, "root public key is not a secp256k1 point")
		}
		return raw, nil
	case CompressedPubKeyLength:
		return DecompressPubKey(raw)
	default:
		return nil, errors.Errorf("unsupported root public key format: len=%d", len(raw))
	}
}

// CompressPubKey converts 0x04 || X || Y into (0x02|0x03) || X.
func CompressPubKey(uncompressed []byte) ([]byte, error) {
	if len(uncompressed) != UncompressedPubKeyLength {
		return nil, errors.Errorf("invalid uncompressed public key length: expected 65 bytes, got %d", len(uncompressed))
	}
	if uncompressed[0] != 0x04 {
		return nil, errors.Errorf("invalid uncompressed public key prefix: 0x%02x", uncompressed[0])
	}

	x := uncompressed[1:33]
	y := uncompressed[33:65]

	prefix := byte(0x02)
	if y[len(y)-1]&1 == 1 {
		prefix = 0x03
	}

	compressed := make([]byte, 0, CompressedPubKeyLength)
	compressed = append(compressed, prefix)
	compressed = append(compressed, x...)
	return compressed, nil
}

// DecompressPubKey converts a compressed SEC1 key back to its uncompressed form.
func DecompressPubKey(compressed []byte) ([]byte, error) {
	if len(compressed) != CompressedPubKeyLength {
		return nil, errors.Errorf("invalid compressed public key length: expected 33 bytes, got %d", len(compressed))
	}
	key, err := btcec.ParsePubKey(compressed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse compressed secp256k1 pubkey")
	}
	return key.SerializeUncompressed(), nil
}
