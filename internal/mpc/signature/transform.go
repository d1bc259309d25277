package signature

import (
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"
)

type nearSignatureResponse struct {
	BigR *struct {
		AffinePoint string `json:"affine_point"`
	} `json:"big_r"`
	S *struct {
		Scalar string `json:"scalar"`
	} `json:"s"`
	RecoveryID *uint8 `json:"recovery_id"`
}

// FromNearResponse parses the NEAR contract's JSON return value
// {big_r:{affine_point}, s:{scalar}, recovery_id}. A {"Secp256k1": {...}}
// envelope is unwrapped first.
func FromNearResponse(data []byte) (*RSV, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.Wrap(err, "failed to decode NEAR signature response")
	}
	if inner, ok := envelope["Secp256k1"]; ok {
		data = inner
	}

	var resp nearSignatureResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to decode NEAR signature response")
	}
	if resp.BigR == nil || resp.BigR.AffinePoint == "" {
		return nil, errors.New("NEAR signature response is missing big_r.affine_point")
	}
	if resp.S == nil || resp.S.Scalar == "" {
		return nil, errors.New("NEAR signature response is missing s.scalar")
	}
	if resp.RecoveryID == nil {
		return nil, errors.New("NEAR signature response is missing recovery_id")
	}

	bigR, err := decodeHex(resp.BigR.AffinePoint)
	if err != nil {
		return nil, errors.Wrap(err, "invalid big_r.affine_point hex")
	}
	s, err := decodeHex(resp.S.Scalar)
	if err != nil {
		return nil, errors.Wrap(err, "invalid s.scalar hex")
	}

	return ToRSV(MPCSignature{BigR: bigR, S: s, RecoveryID: *resp.RecoveryID}, 0)
}

// FromEVMEvent converts the SignatureResponded event payload. Only the
// x-coordinate of bigR contributes to r.
func FromEVMEvent(bigRX, bigRY, s *big.Int, recoveryID uint8) (*RSV, error) {
	if bigRX == nil || bigRY == nil {
		return nil, errors.New("EVM signature event is missing bigR")
	}
	if s == nil {
		return nil, errors.New("EVM signature event is missing s")
	}
	if bigRX.Sign() < 0 || bigRX.BitLen() > 256 || s.Sign() < 0 || s.BitLen() > 256 {
		return nil, errors.New("EVM signature event contains out-of-range values")
	}
	return ToRSV(MPCSignature{BigR: bigRX.Bytes(), S: s.Bytes(), RecoveryID: recoveryID}, 0)
}

// FromSolanaEvent converts the Borsh-decoded Solana event payload.
func FromSolanaEvent(bigRX [32]byte, s [32]byte, recoveryID uint8) (*RSV, error) {
	return ToRSV(MPCSignature{BigR: bigRX[:], S: s[:], RecoveryID: recoveryID}, 0)
}
