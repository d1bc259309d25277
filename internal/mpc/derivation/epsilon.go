package derivation

import (
	"encoding/hex"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// EpsilonDerivationPrefix domain-separates the epsilon preimage. Changing it
// (or the preimage layout) changes every derived address.
const EpsilonDerivationPrefix = "sig.network v1.0.0 epsilon derivation"

// ChainTag identifies the chain hosting the signer contract in the epsilon preimage.
type ChainTag string

const (
	ChainTagNEAR     ChainTag = "0x18d"
	ChainTagEthereum ChainTag = "0x1"
	ChainTagSolana   ChainTag = "0x800001f5"
)

// Validate rejects chain tags the derivation scheme does not know about.
func (t ChainTag) Validate() error {
	switch t {
	case ChainTagNEAR, ChainTagEthereum, ChainTagSolana:
		return nil
	default:
		return errors.Errorf("unknown derivation chain tag: %q", string(t))
	}
}

func epsilonPreimage(predecessorID, path string, chainTag ChainTag) string {
	return strings.Join([]string{EpsilonDerivationPrefix, string(chainTag), predecessorID, path}, ",")
}

// Epsilon returns keccak256 of the domain-separated derivation string for
// (predecessorID, path, chainTag).
func Epsilon(predecessorID, path string, chainTag ChainTag) ([32]byte, error) {
	var eps [32]byte
	if err := chainTag.Validate(); err != nil {
		return eps, err
	}
	copy(eps[:], crypto.Keccak256([]byte(epsilonPreimage(predecessorID, path, chainTag))))
	return eps, nil
}

// DeriveChildPublicKey computes R' = R + ε·G for the root point R and returns
// the uncompressed SEC1 encoding of R'.
func DeriveChildPublicKey(rootUncompressedPubKey []byte, predecessorID, path string, chainTag ChainTag) ([]byte, error) {
	if len(rootUncompressedPubKey) != UncompressedPubKeyLength || rootUncompressedPubKey[0] != 0x04 {
		return nil, errors.Errorf("root public key must be uncompressed SEC1, got len=%d", len(rootUncompressedPubKey))
	}

	eps, err := Epsilon(predecessorID, path, chainTag)
	if err != nil {
		return nil, err
	}

	rootKey, err := secp256k1.ParsePubKey(rootUncompressedPubKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse root public key")
	}

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetBytes(&eps); overflow != 0 {
		return nil, errors.New("epsilon is not below the curve order")
	}

	var root, epsG, child secp256k1.JacobianPoint
	rootKey.AsJacobian(&root)
	secp256k1.ScalarBaseMultNonConst(&scalar, &epsG)
	secp256k1.AddNonConst(&root, &epsG, &child)
	child.ToAffine()

	if child.X.IsZero() && child.Y.IsZero() {
		return nil, errors.New("derived public key is the point at infinity")
	}

	derived := secp256k1.NewPublicKey(&child.X, &child.Y).SerializeUncompressed()

	log.Debug().
		Str("chain_tag", string(chainTag)).
		Str("predecessor", predecessorID).
		Str("path", path).
		Str("epsilon_hex", hex.EncodeToString(eps[:])).
		Msg("Derived child public key")

	return derived, nil
}
