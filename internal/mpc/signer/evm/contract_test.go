package evm_test

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/SafeMPC/chainsig/internal/mpc/derivation"
	"github.com/SafeMPC/chainsig/internal/mpc/requestid"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	"github.com/SafeMPC/chainsig/internal/mpc/signer/evm"
	"github.com/SafeMPC/chainsig/internal/test"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	contractAddress = common.HexToAddress("0x83458E8Bf8206131Fe5c05127007FA164c0948A2")
	chainID         = big.NewInt(11155111)
	receiptBlock    = big.NewInt(4242)
)

type fakeClient struct {
	deposit       *big.Int
	callErr       error
	sendErr       error
	receiptStatus uint64
	pendingPolls  int

	sent        []*types.Transaction
	queries     []ethereum.FilterQuery
	filterCalls int
	respond     func(call int, reqID common.Hash) []types.Log
}

func (f *fakeClient) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return evm.SignerABI.Methods["getSignatureDeposit"].Outputs.Pack(f.deposit)
}

func (f *fakeClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.filterCalls++
	f.queries = append(f.queries, q)
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(f.filterCalls, q.Topics[1][0]), nil
}

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(20_000_000_000)}, nil
}

func (f *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 120_000, nil
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.pendingPolls > 0 {
		f.pendingPolls--
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.receiptStatus, TxHash: hash, BlockNumber: receiptBlock}, nil
}

func senderKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte("evm sender")))
	require.NoError(t, err)
	return key
}

func newContract(t *testing.T, client *fakeClient) *evm.Contract {
	t.Helper()
	c, err := evm.NewContract(client, evm.Config{
		ContractAddress:     contractAddress,
		ChainID:             chainID,
		RootPublicKey:       test.RootNajPublicKey(t),
		Sender:              senderKey(t),
		Retry:               signer.RetryConfig{RetryCount: 3, Delay: 0},
		ReceiptPollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func respondedLog(t *testing.T, reqID common.Hash, rsv signature.RSV) types.Log {
	t.Helper()

	r, ok := new(big.Int).SetString(rsv.R, 16)
	require.True(t, ok)
	s, ok := new(big.Int).SetString(rsv.S, 16)
	require.True(t, ok)

	event := evm.SignerABI.Events["SignatureResponded"]
	data, err := event.Inputs.NonIndexed().Pack(common.HexToAddress("0x01"), evm.Signature{
		BigR:       evm.AffinePoint{X: r, Y: big.NewInt(1)},
		S:          s,
		RecoveryId: rsv.V,
	})
	require.NoError(t, err)

	return types.Log{Address: contractAddress, Topics: []common.Hash{event.ID, reqID}, Data: data}
}

func errorLog(t *testing.T, reqID common.Hash, msg string) types.Log {
	t.Helper()

	event := evm.SignerABI.Events["SignatureError"]
	data, err := event.Inputs.NonIndexed().Pack(common.HexToAddress("0x01"), msg)
	require.NoError(t, err)

	return types.Log{Address: contractAddress, Topics: []common.Hash{event.ID, reqID}, Data: data}
}

func signArgs() signer.SignArgs {
	return signer.SignArgs{
		Payload:    crypto.Keccak256([]byte("evm payload")),
		Path:       "bitcoin,1",
		KeyVersion: 0,
	}
}

func childKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	sender := crypto.PubkeyToAddress(senderKey(t).PublicKey)
	return test.ChildPrivateKey(t, strings.ToLower(sender.Hex()), signArgs().Path, derivation.ChainTagEthereum)
}

func TestSignReturnsVerifiedSignature(t *testing.T) {
	args := signArgs()
	good := test.SignRSV(t, childKey(t), args.Payload)

	client := &fakeClient{deposit: big.NewInt(50_000), receiptStatus: types.ReceiptStatusSuccessful, pendingPolls: 2}
	client.respond = func(call int, reqID common.Hash) []types.Log {
		if call < 2 {
			return nil
		}
		return []types.Log{respondedLog(t, reqID, good)}
	}

	rsv, err := newContract(t, client).Sign(t.Context(), args, signer.SignOptions{})
	require.NoError(t, err)
	assert.Equal(t, good, *rsv)

	// submission transaction
	require.Len(t, client.sent, 1)
	tx := client.sent[0]
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, contractAddress, *tx.To())
	assert.Equal(t, big.NewInt(50_000), tx.Value())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, big.NewInt(41_000_000_000), tx.GasFeeCap())

	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(senderKey(t).PublicKey), from)

	method, err := evm.SignerABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "sign", method.Name)

	values, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	req := *abi.ConvertType(values[0], new(evm.SignRequest)).(*evm.SignRequest)
	assert.Equal(t, args.Payload, req.Payload[:])
	assert.Equal(t, args.Path, req.Path)

	// event filter pinned to request id and submission block
	expectedID, err := requestid.ForEVM(from, requestid.Args{
		Payload: args.Payload, Path: args.Path, KeyVersion: args.KeyVersion, ChainID: chainID,
	})
	require.NoError(t, err)
	require.Len(t, client.queries, 2)
	assert.Equal(t, expectedID.Hash(), client.queries[0].Topics[1][0])
	assert.Equal(t, receiptBlock, client.queries[0].FromBlock)
	assert.Equal(t, []common.Address{contractAddress}, client.queries[0].Addresses)
}

func TestSignIgnoresSignaturesFromOtherKeys(t *testing.T) {
	args := signArgs()
	good := test.SignRSV(t, childKey(t), args.Payload)
	forged := test.SignRSV(t, test.OtherPrivateKey(t), args.Payload)

	t.Run("forged only", func(t *testing.T) {
		client := &fakeClient{deposit: big.NewInt(1), receiptStatus: types.ReceiptStatusSuccessful}
		client.respond = func(_ int, reqID common.Hash) []types.Log {
			return []types.Log{respondedLog(t, reqID, forged)}
		}

		_, err := newContract(t, client).Sign(t.Context(), args, signer.SignOptions{})
		require.Error(t, err)
		assert.True(t, signer.IsNotFound(err))
		assert.Equal(t, 3, client.filterCalls)
	})

	t.Run("forged then genuine", func(t *testing.T) {
		client := &fakeClient{deposit: big.NewInt(1), receiptStatus: types.ReceiptStatusSuccessful}
		client.respond = func(call int, reqID common.Hash) []types.Log {
			if call == 1 {
				return []types.Log{respondedLog(t, reqID, forged)}
			}
			return []types.Log{respondedLog(t, reqID, forged), respondedLog(t, reqID, good)}
		}

		rsv, err := newContract(t, client).Sign(t.Context(), args, signer.SignOptions{})
		require.NoError(t, err)
		assert.Equal(t, good, *rsv)
	})
}

func TestSignContractError(t *testing.T) {
	client := &fakeClient{deposit: big.NewInt(1), receiptStatus: types.ReceiptStatusSuccessful}
	client.respond = func(_ int, reqID common.Hash) []types.Log {
		return []types.Log{errorLog(t, reqID, "signature timeout")}
	}

	_, err := newContract(t, client).Sign(t.Context(), signArgs(), signer.SignOptions{})
	require.Error(t, err)
	assert.True(t, signer.IsContractError(err))
	assert.Contains(t, err.Error(), "signature timeout")
}

func TestSignTimeout(t *testing.T) {
	client := &fakeClient{deposit: big.NewInt(1), receiptStatus: types.ReceiptStatusSuccessful}

	_, err := newContract(t, client).Sign(t.Context(), signArgs(), signer.SignOptions{
		Retry: &signer.RetryConfig{RetryCount: 1, Delay: 0},
	})
	require.Error(t, err)
	assert.True(t, signer.IsNotFound(err))
	assert.Equal(t, 1, client.filterCalls)
}

func TestSignSubmissionFailures(t *testing.T) {
	tests := map[string]*fakeClient{
		"send fails":     {deposit: big.NewInt(1), receiptStatus: types.ReceiptStatusSuccessful, sendErr: errors.New("nonce too low")},
		"tx reverted":    {deposit: big.NewInt(1), receiptStatus: types.ReceiptStatusFailed},
		"deposit lookup": {callErr: errors.New("execution reverted"), receiptStatus: types.ReceiptStatusSuccessful},
	}

	for name, client := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := newContract(t, client).Sign(t.Context(), signArgs(), signer.SignOptions{})
			require.Error(t, err)
			assert.True(t, signer.IsSubmissionError(err))
			assert.Zero(t, client.filterCalls)
		})
	}
}

func TestSignRejectsInvalidPayload(t *testing.T) {
	client := &fakeClient{deposit: big.NewInt(1)}
	_, err := newContract(t, client).Sign(t.Context(), signer.SignArgs{Payload: []byte{1, 2, 3}}, signer.SignOptions{})
	require.Error(t, err)
	assert.Equal(t, signer.KindUnknown, signer.KindOf(err))
	assert.Empty(t, client.sent)
}

func TestGetCurrentSignatureDeposit(t *testing.T) {
	deposit, err := newContract(t, &fakeClient{deposit: big.NewInt(123456)}).GetCurrentSignatureDeposit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(123456), deposit)
}

func TestDerivedPublicKeyUsesLowercasePredecessor(t *testing.T) {
	c := newContract(t, &fakeClient{})
	sender := crypto.PubkeyToAddress(senderKey(t).PublicKey)

	derived, err := c.GetDerivedPublicKey(t.Context(), "bitcoin,1", sender.Hex())
	require.NoError(t, err)
	assert.Equal(t, crypto.FromECDSAPub(&childKey(t).PublicKey), derived)

	root, err := c.GetPublicKey(t.Context())
	require.NoError(t, err)
	assert.Equal(t, test.RootPublicKey(t), root)
}

func TestNewContractValidation(t *testing.T) {
	_, err := evm.NewContract(&fakeClient{}, evm.Config{ContractAddress: contractAddress, ChainID: chainID})
	assert.Error(t, err, "unknown deployment without explicit root key")

	_, err = evm.NewContract(&fakeClient{}, evm.Config{ChainID: chainID, RootPublicKey: test.RootNajPublicKey(t)})
	assert.Error(t, err)

	_, err = evm.NewContract(nil, evm.Config{ContractAddress: contractAddress, ChainID: chainID})
	assert.Error(t, err)

	reg := signer.NewRegistry(signer.Deployment{
		Host: signer.HostEVM, Address: strings.ToLower(contractAddress.Hex()), RootPublicKey: test.RootNajPublicKey(t),
	})
	_, err = evm.NewContract(&fakeClient{}, evm.Config{ContractAddress: contractAddress, ChainID: chainID, Registry: reg})
	assert.NoError(t, err)
}
