package signer_test

import (
	"testing"

	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	"github.com/hashicorp/consul/api"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockKV struct {
	mock.Mock
}

func (m *mockKV) List(prefix string, q *api.QueryOptions) (api.KVPairs, *api.QueryMeta, error) {
	args := m.Called(prefix, q)
	pairs, _ := args.Get(0).(api.KVPairs)
	return pairs, &api.QueryMeta{}, args.Error(1)
}

func TestLoadConsulDeployments(t *testing.T) {
	kv := new(mockKV)
	kv.On("List", "chainsig/deployments/", mock.Anything).Return(api.KVPairs{
		{Key: "chainsig/deployments/"},
		{Key: "chainsig/deployments/sepolia", Value: []byte(`{"host":"evm","network":"sepolia","address":"0x01","rootPublicKey":"secp256k1:abc"}`)},
		{Key: "chainsig/deployments/devnet", Value: []byte(`{"host":"solana","network":"devnet","address":"Prog111","rootPublicKey":"secp256k1:def"}`)},
	}, nil)

	deployments, err := signer.LoadConsulDeployments(t.Context(), kv, "chainsig/deployments/")
	require.NoError(t, err)
	require.Len(t, deployments, 2)
	assert.Equal(t, signer.HostEVM, deployments[0].Host)
	assert.Equal(t, "Prog111", deployments[1].Address)

	kv.AssertExpectations(t)
}

func TestLoadConsulDeploymentsRejectsInvalidEntries(t *testing.T) {
	tests := map[string]string{
		"bad json":     `{`,
		"unknown host": `{"host":"cosmos","address":"x","rootPublicKey":"y"}`,
		"missing key":  `{"host":"near","address":"v1.signer"}`,
	}

	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			kv := new(mockKV)
			kv.On("List", "p/", mock.Anything).Return(api.KVPairs{{Key: "p/x", Value: []byte(value)}}, nil)

			_, err := signer.LoadConsulDeployments(t.Context(), kv, "p/")
			assert.Error(t, err)
		})
	}
}

func TestLoadConsulDeploymentsListFailure(t *testing.T) {
	kv := new(mockKV)
	kv.On("List", "p/", mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := signer.LoadConsulDeployments(t.Context(), kv, "p/")
	assert.Error(t, err)
}
