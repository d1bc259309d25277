package signature

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const (
	// EthereumVOffset is added to the raw recovery id for 27/28-style v values.
	EthereumVOffset uint8 = 27

	scalarHexLength = 64
)

// RSV is the (r, s, v) interchange form passed from signer contracts to chain
// adapters. R and S are 64 lowercase hex characters without prefix; V holds the
// raw recovery id unless a caller explicitly applied an offset.
type RSV struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// MPCSignature is the signer network's native encoding: the nonce point R
// (SEC1, compressed or uncompressed, or just its x-coordinate), the scalar s
// and a recovery id.
type MPCSignature struct {
	BigR       []byte
	S          []byte
	RecoveryID uint8
}

// ToRSV converts the native encoding into RSV, zero-padding r and s to 32
// bytes and adding vOffset to the recovery id.
func ToRSV(sig MPCSignature, vOffset uint8) (*RSV, error) {
	if len(sig.BigR) == 0 {
		return nil, errors.New("signature is missing big_r")
	}
	if len(sig.S) == 0 {
		return nil, errors.New("signature is missing s")
	}

	var x []byte
	switch {
	case len(sig.BigR) == 33 && (sig.BigR[0] == 0x02 || sig.BigR[0] == 0x03):
		x = sig.BigR[1:]
	case len(sig.BigR) == 65 && sig.BigR[0] == 0x04:
		x = sig.BigR[1:33]
	case len(sig.BigR) <= 32:
		x = sig.BigR
	default:
		return nil, errors.Errorf("unsupported big_r encoding: len=%d", len(sig.BigR))
	}

	if len(sig.S) > 32 {
		return nil, errors.Errorf("s scalar too long: %d bytes", len(sig.S))
	}
	if sig.RecoveryID > 3 {
		return nil, errors.Errorf("invalid recovery id: %d", sig.RecoveryID)
	}

	return &RSV{
		R: padScalar(new(big.Int).SetBytes(x)),
		S: padScalar(new(big.Int).SetBytes(sig.S)),
		V: sig.RecoveryID + vOffset,
	}, nil
}

func padScalar(v *big.Int) string {
	return fmt.Sprintf("%064x", v)
}

// FromBytes parses a 65-byte r || s || v signature (v as 0/1 or 27/28) into
// the baseline RSV form.
func FromBytes(sig []byte) (*RSV, error) {
	if len(sig) != 65 {
		return nil, errors.Errorf("invalid signature length: expected 65 bytes, got %d", len(sig))
	}
	recID, err := RecoveryID(sig[64])
	if err != nil {
		return nil, err
	}
	return ToRSV(MPCSignature{BigR: sig[:32], S: sig[32:64], RecoveryID: recID}, 0)
}

// Validate checks the shape invariants of an RSV.
func (s RSV) Validate() error {
	if len(s.R) != scalarHexLength || len(s.S) != scalarHexLength {
		return errors.Errorf("r and s must be %d hex characters, got %d and %d", scalarHexLength, len(s.R), len(s.S))
	}
	if _, err := hex.DecodeString(s.R); err != nil {
		return errors.Wrap(err, "invalid r hex")
	}
	if _, err := hex.DecodeString(s.S); err != nil {
		return errors.Wrap(err, "invalid s hex")
	}
	return nil
}

// RS returns the 64-byte r || s concatenation.
func (s RSV) RS() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	r, _ := hex.DecodeString(s.R)
	sv, _ := hex.DecodeString(s.S)
	return append(r, sv...), nil
}

// Bytes returns r || s || v with v normalized to the raw recovery id, the
// layout expected by go-ethereum's crypto and types packages.
func (s RSV) Bytes() ([]byte, error) {
	rs, err := s.RS()
	if err != nil {
		return nil, err
	}
	recID, err := RecoveryID(s.V)
	if err != nil {
		return nil, err
	}
	return append(rs, recID), nil
}

// EthereumHex returns the 0x-prefixed r || s || (recid+27) form used for
// EIP-191, EIP-712 and ERC-4337 signatures.
func (s RSV) EthereumHex() (string, error) {
	rs, err := s.RS()
	if err != nil {
		return "", err
	}
	v, err := EthereumV(s.V)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(append(rs, v)), nil
}

// LowS returns a copy with s normalized to the lower half of the curve order,
// flipping the recovery id parity when s is negated.
func (s RSV) LowS() (RSV, error) {
	if err := s.Validate(); err != nil {
		return RSV{}, err
	}
	sv, _ := new(big.Int).SetString(s.S, 16)

	n := btcec.S256().N
	halfN := new(big.Int).Rsh(n, 1)
	if sv.Cmp(halfN) <= 0 {
		return s, nil
	}

	recID, err := RecoveryID(s.V)
	if err != nil {
		return RSV{}, err
	}
	return RSV{
		R: s.R,
		S: padScalar(new(big.Int).Sub(n, sv)),
		V: recID ^ 1,
	}, nil
}

// RecoveryID maps v values in either convention (0/1 or 27/28) to the raw
// recovery id.
func RecoveryID(v uint8) (uint8, error) {
	switch {
	case v <= 1:
		return v, nil
	case v == EthereumVOffset || v == EthereumVOffset+1:
		return v - EthereumVOffset, nil
	default:
		return 0, errors.Errorf("unsupported v value: %d", v)
	}
}

// EthereumV maps a v value in either convention to the 27/28 form.
func EthereumV(v uint8) (uint8, error) {
	recID, err := RecoveryID(v)
	if err != nil {
		return 0, err
	}
	return recID + EthereumVOffset, nil
}

// RecoverPublicKey returns the uncompressed public key that produced sig over hash.
func RecoverPublicKey(hash []byte, sig RSV) ([]byte, error) {
	if len(hash) != 32 {
		return nil, errors.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	raw, err := sig.Bytes()
	if err != nil {
		return nil, err
	}
	pub, err := crypto.Ecrecover(hash, raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to recover public key")
	}
	return pub, nil
}

// RecoverAddress returns the Ethereum address of the key that produced sig over hash.
func RecoverAddress(hash []byte, sig RSV) (common.Address, error) {
	pub, err := RecoverPublicKey(hash, sig)
	if err != nil {
		return common.Address{}, err
	}
	key, err := crypto.UnmarshalPubkey(pub)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "failed to unmarshal recovered public key")
	}
	return crypto.PubkeyToAddress(*key), nil
}

// AddressFromPublicKey returns the Ethereum address of an uncompressed SEC1 key.
func AddressFromPublicKey(uncompressed []byte) (common.Address, error) {
	key, err := crypto.UnmarshalPubkey(uncompressed)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "invalid uncompressed public key")
	}
	return crypto.PubkeyToAddress(*key), nil
}

func decodeHex(value string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X"))
}
