package derive_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/SafeMPC/chainsig/cmd/derive"
	"github.com/SafeMPC/chainsig/internal/mpc/chain"
	"github.com/SafeMPC/chainsig/internal/mpc/derivation"
	"github.com/SafeMPC/chainsig/internal/test"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T) {
	t.Setenv("CHAINSIG_SIGNER_HOST", "near")
	t.Setenv("CHAINSIG_SIGNER_CONTRACT", "v1.signer-prod.testnet")
	t.Setenv("CHAINSIG_SIGNER_ROOT_PUBLIC_KEY", test.RootNajPublicKey(t))
	t.Setenv("CHAINSIG_EVM_RPC_URL", "http://127.0.0.1:1")
	t.Setenv("CHAINSIG_REDIS_ADDR", "")
	t.Setenv("CHAINSIG_CONSUL_ADDRESS", "")
	t.Setenv("CHAINSIG_NEAR_ACCOUNT_ID", "")
}

func TestDeriveEVM(t *testing.T) {
	setEnv(t)

	var out bytes.Buffer
	cmd := derive.New()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"evm", "--predecessor", "alice.testnet", "--path", "ethereum,1"})
	require.NoError(t, cmd.Execute())

	var account chain.DerivedAccount
	require.NoError(t, json.Unmarshal(out.Bytes(), &account))

	child := test.ChildPrivateKey(t, "alice.testnet", "ethereum,1", derivation.ChainTagNEAR)
	assert.Equal(t, crypto.PubkeyToAddress(child.PublicKey).Hex(), account.Address)
}

func TestDeriveDefaultsToConfiguredAccount(t *testing.T) {
	setEnv(t)
	t.Setenv("CHAINSIG_NEAR_ACCOUNT_ID", "bob.testnet")

	var out bytes.Buffer
	cmd := derive.New()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"evm", "--path", "ethereum,1"})
	require.NoError(t, cmd.Execute())

	var account chain.DerivedAccount
	require.NoError(t, json.Unmarshal(out.Bytes(), &account))

	child := test.ChildPrivateKey(t, "bob.testnet", "ethereum,1", derivation.ChainTagNEAR)
	assert.Equal(t, crypto.PubkeyToAddress(child.PublicKey).Hex(), account.Address)
}

func TestDeriveRequiresPredecessor(t *testing.T) {
	setEnv(t)

	cmd := derive.New()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"bitcoin", "--path", "bitcoin,1"})
	assert.Error(t, cmd.Execute())
}
