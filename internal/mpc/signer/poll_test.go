package signer_test

import (
	"context"
	"testing"
	"time"

	"github.com/SafeMPC/chainsig/internal/mpc/derivation"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	"github.com/SafeMPC/chainsig/internal/test"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	predecessor = "alice.near"
	path        = "ethereum,1"
)

type scriptedSource struct {
	observations []signer.Observation
	err          error
	calls        int
}

func (s *scriptedSource) Observe(_ context.Context, _ signer.PendingRequest) (signer.Observation, error) {
	s.calls++
	if s.err != nil {
		return signer.Observation{}, s.err
	}
	if s.calls > len(s.observations) {
		return signer.Observation{}, nil
	}
	return s.observations[s.calls-1], nil
}

func pending(t *testing.T) (signer.PendingRequest, signature.RSV, signature.RSV) {
	t.Helper()

	payload := crypto.Keccak256([]byte("payload"))
	child := test.ChildPrivateKey(t, predecessor, path, derivation.ChainTagNEAR)

	req := signer.PendingRequest{
		Host:            signer.HostNEAR,
		RequestID:       "0xabc",
		Payload:         payload,
		ExpectedAddress: crypto.PubkeyToAddress(child.PublicKey),
		Checkpoint:      signer.Checkpoint{Block: 100, Ref: "tx"},
	}

	good := test.SignRSV(t, child, payload)
	bad := test.SignRSV(t, test.OtherPrivateKey(t), payload)
	return req, good, bad
}

func fast(count int) signer.RetryConfig {
	return signer.RetryConfig{RetryCount: count, Delay: 0}
}

func TestAwaitSignatureReturnsVerifiedSignature(t *testing.T) {
	req, good, _ := pending(t)
	src := &scriptedSource{observations: []signer.Observation{
		{},
		{Signatures: []signature.RSV{good}},
	}}

	rsv, err := signer.AwaitSignature(t.Context(), src, req, fast(5))
	require.NoError(t, err)
	assert.Equal(t, good, *rsv)
	assert.Equal(t, 2, src.calls)
}

func TestAwaitSignatureIgnoresForgedSignatures(t *testing.T) {
	req, good, bad := pending(t)

	t.Run("only forged", func(t *testing.T) {
		src := &scriptedSource{observations: []signer.Observation{
			{Signatures: []signature.RSV{bad}},
			{Signatures: []signature.RSV{bad}},
		}}

		_, err := signer.AwaitSignature(t.Context(), src, req, fast(2))
		require.Error(t, err)
		assert.True(t, signer.IsNotFound(err))
	})

	t.Run("forged then genuine", func(t *testing.T) {
		src := &scriptedSource{observations: []signer.Observation{
			{Signatures: []signature.RSV{bad}},
			{Signatures: []signature.RSV{bad, good}},
		}}

		rsv, err := signer.AwaitSignature(t.Context(), src, req, fast(3))
		require.NoError(t, err)
		assert.Equal(t, good, *rsv)
	})
}

func TestAwaitSignatureContractError(t *testing.T) {
	req, _, bad := pending(t)
	src := &scriptedSource{observations: []signer.Observation{
		{},
		{Signatures: []signature.RSV{bad}, HasError: true, ContractError: "insufficient deposit"},
	}}

	_, err := signer.AwaitSignature(t.Context(), src, req, fast(5))
	require.Error(t, err)
	assert.True(t, signer.IsContractError(err))
	assert.Contains(t, err.Error(), "insufficient deposit")
	assert.Equal(t, 2, src.calls)
}

func TestAwaitSignaturePrefersValidSignatureOverError(t *testing.T) {
	req, good, _ := pending(t)
	src := &scriptedSource{observations: []signer.Observation{
		{Signatures: []signature.RSV{good}, HasError: true, ContractError: "late error"},
	}}

	rsv, err := signer.AwaitSignature(t.Context(), src, req, fast(1))
	require.NoError(t, err)
	assert.Equal(t, good, *rsv)
}

func TestAwaitSignatureTimeout(t *testing.T) {
	req, _, _ := pending(t)
	src := &scriptedSource{}

	_, err := signer.AwaitSignature(t.Context(), src, req, fast(1))
	require.Error(t, err)
	assert.True(t, signer.IsNotFound(err))
	assert.Equal(t, 1, src.calls)

	var signErr *signer.Error
	require.True(t, errors.As(err, &signErr))
	assert.Equal(t, "0xabc", signErr.RequestID)
}

func TestAwaitSignatureObserveFailure(t *testing.T) {
	req, _, _ := pending(t)
	cause := errors.New("rpc unavailable")
	src := &scriptedSource{err: cause}

	_, err := signer.AwaitSignature(t.Context(), src, req, fast(3))
	require.Error(t, err)
	assert.Equal(t, signer.KindSigning, signer.KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, src.calls)
}

func TestAwaitSignatureHonoursCancellation(t *testing.T) {
	req, _, _ := pending(t)
	src := &scriptedSource{}

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	_, err := signer.AwaitSignature(ctx, src, req, signer.RetryConfig{RetryCount: 10, Delay: time.Hour})
	require.Error(t, err)
	assert.Equal(t, signer.KindSigning, signer.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(started), time.Minute)
}

func TestAwaitSignatureDefaultsRetryCount(t *testing.T) {
	req, _, _ := pending(t)
	src := &scriptedSource{}

	_, err := signer.AwaitSignature(t.Context(), src, req, signer.RetryConfig{RetryCount: 0, Delay: 0})
	require.Error(t, err)
	assert.Equal(t, signer.DefaultRetryCount, src.calls)
}

func TestSignOptionsResolveRetry(t *testing.T) {
	fallback := signer.DefaultRetryConfig()
	assert.Equal(t, fallback, signer.SignOptions{}.ResolveRetry(fallback))

	custom := signer.RetryConfig{RetryCount: 1, Delay: 0}
	assert.Equal(t, custom, signer.SignOptions{Retry: &custom}.ResolveRetry(fallback))
}

func TestSignArgsValidate(t *testing.T) {
	assert.NoError(t, signer.SignArgs{Payload: make([]byte, 32)}.Validate())
	assert.Error(t, signer.SignArgs{Payload: make([]byte, 31)}.Validate())
	assert.Error(t, signer.SignArgs{}.Validate())
}

func TestVerifySignature(t *testing.T) {
	req, good, bad := pending(t)
	assert.NoError(t, signer.VerifySignature(req.Payload, req.ExpectedAddress, good))
	assert.Error(t, signer.VerifySignature(req.Payload, req.ExpectedAddress, bad))
}
