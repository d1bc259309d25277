package test

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/SafeMPC/chainsig/internal/mpc/derivation"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Contract is an in-memory signer.Contract backed by RootPrivateKey. It signs
// every payload with the child key for (Predecessor, path) and records the
// requests it received.
type Contract struct {
	T           testing.TB
	Predecessor string
	Tag         derivation.ChainTag
	Deposit     *big.Int
	// SignErr, when set, is returned for every Sign call.
	SignErr error

	mu       sync.Mutex
	requests []signer.SignArgs
}

var _ signer.Contract = (*Contract)(nil)

// NewContract returns a contract signing on behalf of predecessor with the
// Ethereum chain tag.
func NewContract(t testing.TB, predecessor string) *Contract {
	return &Contract{T: t, Predecessor: predecessor, Tag: derivation.ChainTagEthereum, Deposit: big.NewInt(1)}
}

func (c *Contract) GetPublicKey(_ context.Context) ([]byte, error) {
	return RootPublicKey(c.T), nil
}

func (c *Contract) GetDerivedPublicKey(_ context.Context, path string, predecessor string) ([]byte, error) {
	return derivation.DeriveChildPublicKey(RootPublicKey(c.T), predecessor, path, c.Tag)
}

func (c *Contract) GetCurrentSignatureDeposit(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.Deposit), nil
}

func (c *Contract) Sign(ctx context.Context, args signer.SignArgs, _ signer.SignOptions) (*signature.RSV, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.requests = append(c.requests, args)
	c.mu.Unlock()

	if c.SignErr != nil {
		return nil, c.SignErr
	}

	key := ChildPrivateKey(c.T, c.Predecessor, args.Path, c.Tag)
	sig, err := crypto.Sign(args.Payload, key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign")
	}
	return signature.FromBytes(sig)
}

// Requests returns a copy of the sign requests received so far.
func (c *Contract) Requests() []signer.SignArgs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signer.SignArgs(nil), c.requests...)
}
