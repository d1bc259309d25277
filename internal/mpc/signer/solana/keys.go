package solana

import (
	"crypto/sha256"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

const (
	PublicKeyLength = 32
	maxSeedLength   = 32
	maxSeeds        = 16
)

// PublicKey Solana 账户地址（Ed25519 公钥或 PDA）
type PublicKey [PublicKeyLength]byte

// SystemProgramID 系统程序地址
var SystemProgramID = PublicKey{}

// ParsePublicKey 解析 Base58 地址
func ParsePublicKey(value string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(value)
	if err != nil {
		return pk, errors.Wrapf(err, "invalid base58 public key %q", value)
	}
	if len(raw) != PublicKeyLength {
		return pk, errors.Errorf("invalid public key length: expected 32 bytes, got %d", len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// String Solana 地址就是公钥的 Base58 表示
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// IsOnCurve 判断是否为合法的 Ed25519 点；PDA 必须不在曲线上
func IsOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress sha256(seeds || bump || programID || "ProgramDerivedAddress")
func CreateProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, error) {
	if len(seeds) > maxSeeds {
		return PublicKey{}, errors.New("too many seeds")
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return PublicKey{}, errors.New("seed too long")
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte("ProgramDerivedAddress"))

	sum := h.Sum(nil)
	if IsOnCurve(sum) {
		return PublicKey{}, errors.New("derived address is on the ed25519 curve")
	}

	var pk PublicKey
	copy(pk[:], sum)
	return pk, nil
}

// FindProgramAddress 从 255 开始递减 bump，返回第一个不在曲线上的地址
func FindProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	for bump := 255; bump > 0; bump-- {
		withBump := append(append([][]byte{}, seeds...), []byte{uint8(bump)})
		pk, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return pk, uint8(bump), nil
		}
	}
	return PublicKey{}, 0, errors.New("unable to find a viable program address")
}
