package test

import (
	"crypto/ecdsa"
	"testing"

	"github.com/SafeMPC/chainsig/internal/mpc/derivation"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// RootPrivateKey returns the deterministic root key standing in for the
// signer network's distributed key in tests.
func RootPrivateKey(t testing.TB) *secp256k1.PrivateKey {
	t.Helper()
	return secp256k1.PrivKeyFromBytes(crypto.Keccak256([]byte("chainsig test root key")))
}

// RootPublicKey returns the uncompressed SEC1 root public key.
func RootPublicKey(t testing.TB) []byte {
	t.Helper()
	return RootPrivateKey(t).PubKey().SerializeUncompressed()
}

// RootNajPublicKey returns the root public key in NAJ form.
func RootNajPublicKey(t testing.TB) string {
	t.Helper()
	naj, err := derivation.UncompressedToNaj(RootPublicKey(t))
	require.NoError(t, err)
	return naj
}

// OtherPrivateKey returns a key unrelated to the root, used to forge
// signatures that must fail the recovery check.
func OtherPrivateKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte("chainsig test unrelated key")))
	require.NoError(t, err)
	return key
}

// ChildPrivateKey returns root + ε, the private key matching
// derivation.DeriveChildPublicKey for the same inputs.
func ChildPrivateKey(t testing.TB, predecessor, path string, tag derivation.ChainTag) *ecdsa.PrivateKey {
	t.Helper()

	eps, err := derivation.Epsilon(predecessor, path, tag)
	require.NoError(t, err)

	var scalar secp256k1.ModNScalar
	require.Zero(t, scalar.SetBytes(&eps))

	child := RootPrivateKey(t).Key
	child.Add(&scalar)
	childBytes := child.Bytes()

	key, err := crypto.ToECDSA(childBytes[:])
	require.NoError(t, err)
	return key
}

// SignRSV signs a 32-byte hash and returns the signature in the signer
// network's baseline shape (raw recovery id).
func SignRSV(t testing.TB, key *ecdsa.PrivateKey, hash []byte) signature.RSV {
	t.Helper()

	sig, err := crypto.Sign(hash, key)
	require.NoError(t, err)

	rsv, err := signature.FromBytes(sig)
	require.NoError(t, err)
	return *rsv
}
