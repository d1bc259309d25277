package solana_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/SafeMPC/chainsig/internal/mpc/derivation"
	"github.com/SafeMPC/chainsig/internal/mpc/requestid"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	"github.com/SafeMPC/chainsig/internal/mpc/signer/solana"
	"github.com/SafeMPC/chainsig/internal/test"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	signPath = "bitcoin,1"
	txSig    = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
)

var (
	programID = keyFromSeed("chainsig signer program")
	requester = keyFromSeed("chainsig requester")
)

func keyFromSeed(seed string) solana.PublicKey {
	return solana.PublicKey(sha256.Sum256([]byte(seed)))
}

// fakeRPC answers Solana JSON-RPC methods from scripted handlers.
type fakeRPC struct {
	mu       sync.Mutex
	handlers map[string]func(params []interface{}) (interface{}, error)
	calls    map[string]int
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		handlers: map[string]func(params []interface{}) (interface{}, error){},
		calls:    map[string]int{},
	}
}

func (f *fakeRPC) on(method string, h func(params []interface{}) (interface{}, error)) {
	f.handlers[method] = h
}

func (f *fakeRPC) Call(_ context.Context, method string, params interface{}, result interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[method]++
	h, ok := f.handlers[method]
	if !ok {
		return errors.Errorf("unexpected method %s", method)
	}
	list, _ := params.([]interface{})
	value, err := h(list)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

type fakeSubmitter struct {
	sent []solana.SignInstruction
	err  error
}

func (s *fakeSubmitter) Requester() string { return requester.String() }

func (s *fakeSubmitter) SubmitSign(_ context.Context, ix solana.SignInstruction) (string, error) {
	s.sent = append(s.sent, ix)
	if s.err != nil {
		return "", s.err
	}
	return txSig, nil
}

func args() signer.SignArgs {
	return signer.SignArgs{Payload: crypto.Keccak256([]byte("solana payload")), Path: signPath}
}

func requestID(t *testing.T) requestid.ID {
	id, err := requestid.ForCaller(requester.String(), requestid.Args{
		Payload: args().Payload,
		Path:    signPath,
		ChainID: big.NewInt(solana.DefaultChainID),
	})
	require.NoError(t, err)
	return id
}

func genuine(t *testing.T) signature.RSV {
	child := test.ChildPrivateKey(t, requester.String(), signPath, derivation.ChainTagSolana)
	return test.SignRSV(t, child, args().Payload)
}

func respondedEvent(t *testing.T, id requestid.ID, rsv signature.RSV) solana.SignatureRespondedEvent {
	r, err := hex.DecodeString(rsv.R)
	require.NoError(t, err)
	s, err := hex.DecodeString(rsv.S)
	require.NoError(t, err)

	ev := solana.SignatureRespondedEvent{RequestID: id, Responder: keyFromSeed("responder")}
	copy(ev.Signature.BigR.X[:], r)
	copy(ev.Signature.S[:], s)
	ev.Signature.RecoveryID = rsv.V
	return ev
}

func cpiTx(t *testing.T, events ...interface{}) map[string]interface{} {
	var instructions []map[string]interface{}
	for _, ev := range events {
		data, err := solana.EncodeCPIEvent(ev)
		require.NoError(t, err)
		instructions = append(instructions, map[string]interface{}{
			"programIdIndex": 1,
			"accounts":       []int{2},
			"data":           base58.Encode(data),
		})
	}
	return map[string]interface{}{
		"slot": 80,
		"meta": map[string]interface{}{
			"err":               nil,
			"logMessages":       []string{},
			"innerInstructions": []map[string]interface{}{{"index": 0, "instructions": instructions}},
		},
		"transaction": map[string]interface{}{
			"message": map[string]interface{}{
				"accountKeys": []string{keyFromSeed("responder").String(), programID.String(), keyFromSeed("authority").String()},
			},
		},
	}
}

func logTx(t *testing.T, events ...interface{}) map[string]interface{} {
	logs := []string{"Program " + programID.String() + " invoke [1]"}
	for _, ev := range events {
		data, err := solana.EncodeEvent(ev)
		require.NoError(t, err)
		logs = append(logs, "Program data: "+base64.StdEncoding.EncodeToString(data))
	}
	return map[string]interface{}{
		"slot": 81,
		"meta": map[string]interface{}{"err": nil, "logMessages": logs},
		"transaction": map[string]interface{}{
			"message": map[string]interface{}{"accountKeys": []string{programID.String()}},
		},
	}
}

func confirmed(rpc *fakeRPC) {
	rpc.on("getSignatureStatuses", func([]interface{}) (interface{}, error) {
		return map[string]interface{}{
			"value": []interface{}{map[string]interface{}{"slot": 77, "err": nil, "confirmationStatus": "confirmed"}},
		}, nil
	})
}

// responses serves the given transactions newest first, as the node does.
func responses(t *testing.T, rpc *fakeRPC, txs map[string]map[string]interface{}, order ...string) {
	rpc.on("getSignaturesForAddress", func(params []interface{}) (interface{}, error) {
		assert.Equal(t, programID.String(), params[0])
		opts := params[1].(map[string]interface{})
		assert.Equal(t, txSig, opts["until"])

		var out []map[string]interface{}
		for i := len(order) - 1; i >= 0; i-- {
			out = append(out, map[string]interface{}{"signature": order[i], "slot": 80, "err": nil})
		}
		return out, nil
	})
	rpc.on("getTransaction", func(params []interface{}) (interface{}, error) {
		return txs[params[0].(string)], nil
	})
}

func newProgram(t *testing.T, rpc solana.RPC, submitter solana.Submitter) *solana.Program {
	t.Helper()
	p, err := solana.NewProgram(rpc, submitter, solana.Config{
		ProgramID:           programID.String(),
		RootPublicKey:       test.RootNajPublicKey(t),
		Retry:               signer.RetryConfig{RetryCount: 3, Delay: 0},
		ConfirmPollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return p
}

func TestSignFromCPIEvent(t *testing.T) {
	id := requestID(t)
	good := genuine(t)
	other := respondedEvent(t, requestid.ID(keyFromSeed("other request")), good)

	rpc := newFakeRPC()
	confirmed(rpc)
	responses(t, rpc, map[string]map[string]interface{}{
		"resp1": cpiTx(t, other, respondedEvent(t, id, good)),
	}, "resp1")

	submitter := &fakeSubmitter{}
	rsv, err := newProgram(t, rpc, submitter).Sign(t.Context(), args(), signer.SignOptions{})
	require.NoError(t, err)
	assert.Equal(t, good, *rsv)

	require.Len(t, submitter.sent, 1)
	ix := submitter.sent[0]
	assert.Equal(t, programID, ix.ProgramID)
	require.Len(t, ix.Accounts, 5)
	assert.Equal(t, requester, ix.Accounts[1].PublicKey)
	assert.True(t, ix.Accounts[1].IsSigner)
	assert.Equal(t, solana.SystemProgramID, ix.Accounts[2].PublicKey)

	disc := sha256.Sum256([]byte("global:sign"))
	assert.Equal(t, disc[:8], ix.Data[:8])
	assert.Equal(t, args().Payload, ix.Data[8:40])
}

func TestSignFromProgramDataLog(t *testing.T) {
	id := requestID(t)
	good := genuine(t)

	rpc := newFakeRPC()
	confirmed(rpc)
	responses(t, rpc, map[string]map[string]interface{}{
		"resp1": logTx(t, respondedEvent(t, id, good)),
	}, "resp1")

	rsv, err := newProgram(t, rpc, &fakeSubmitter{}).Sign(t.Context(), args(), signer.SignOptions{})
	require.NoError(t, err)
	assert.Equal(t, good, *rsv)
}

func TestSignSkipsForgedSignature(t *testing.T) {
	id := requestID(t)
	forged := test.SignRSV(t, test.OtherPrivateKey(t), args().Payload)
	good := genuine(t)

	rpc := newFakeRPC()
	confirmed(rpc)
	responses(t, rpc, map[string]map[string]interface{}{
		"resp1": cpiTx(t, respondedEvent(t, id, forged)),
		"resp2": logTx(t, respondedEvent(t, id, good)),
	}, "resp1", "resp2")

	rsv, err := newProgram(t, rpc, &fakeSubmitter{}).Sign(t.Context(), args(), signer.SignOptions{})
	require.NoError(t, err)
	assert.Equal(t, good, *rsv)
}

func TestSignPagesThroughBusyProgram(t *testing.T) {
	id := requestID(t)
	good := genuine(t)

	var newer []map[string]interface{}
	for i := 0; i < 1000; i++ {
		newer = append(newer, map[string]interface{}{
			"signature": fmt.Sprintf("busy%d", i),
			"slot":      90,
			"err":       map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
		})
	}

	rpc := newFakeRPC()
	confirmed(rpc)
	var befores []interface{}
	rpc.on("getSignaturesForAddress", func(params []interface{}) (interface{}, error) {
		opts := params[1].(map[string]interface{})
		assert.Equal(t, txSig, opts["until"])
		befores = append(befores, opts["before"])

		if opts["before"] == nil {
			return newer, nil
		}
		return []map[string]interface{}{{"signature": "resp1", "slot": 80, "err": nil}}, nil
	})
	rpc.on("getTransaction", func(params []interface{}) (interface{}, error) {
		assert.Equal(t, "resp1", params[0])
		return logTx(t, respondedEvent(t, id, good)), nil
	})

	rsv, err := newProgram(t, rpc, &fakeSubmitter{}).Sign(t.Context(), args(), signer.SignOptions{})
	require.NoError(t, err)
	assert.Equal(t, good, *rsv)
	assert.Equal(t, []interface{}{nil, "busy999"}, befores)
	assert.Equal(t, 1, rpc.calls["getTransaction"])
}

func TestSignReportsContractError(t *testing.T) {
	id := requestID(t)

	rpc := newFakeRPC()
	confirmed(rpc)
	responses(t, rpc, map[string]map[string]interface{}{
		"resp1": cpiTx(t, solana.SignatureErrorEvent{RequestID: id, Error: "invalid path"}),
	}, "resp1")

	_, err := newProgram(t, rpc, &fakeSubmitter{}).Sign(t.Context(), args(), signer.SignOptions{})
	require.Error(t, err)
	assert.True(t, signer.IsContractError(err))
	assert.Contains(t, err.Error(), "invalid path")
}

func TestSignNotFound(t *testing.T) {
	rpc := newFakeRPC()
	confirmed(rpc)
	responses(t, rpc, nil)

	_, err := newProgram(t, rpc, &fakeSubmitter{}).Sign(t.Context(), args(), signer.SignOptions{
		Retry: &signer.RetryConfig{RetryCount: 2},
	})
	require.Error(t, err)
	assert.True(t, signer.IsNotFound(err))
	assert.Equal(t, 2, rpc.calls["getSignaturesForAddress"])
}

func TestSignSubmissionFailures(t *testing.T) {
	t.Run("submitter error", func(t *testing.T) {
		rpc := newFakeRPC()
		_, err := newProgram(t, rpc, &fakeSubmitter{err: errors.New("blockhash not found")}).Sign(t.Context(), args(), signer.SignOptions{})
		require.Error(t, err)
		assert.True(t, signer.IsSubmissionError(err))
		assert.Zero(t, rpc.calls["getSignatureStatuses"])
	})

	t.Run("transaction failed", func(t *testing.T) {
		rpc := newFakeRPC()
		rpc.on("getSignatureStatuses", func([]interface{}) (interface{}, error) {
			return map[string]interface{}{
				"value": []interface{}{map[string]interface{}{
					"slot": 77, "err": map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}, "confirmationStatus": "confirmed",
				}},
			}, nil
		})
		_, err := newProgram(t, rpc, &fakeSubmitter{}).Sign(t.Context(), args(), signer.SignOptions{})
		require.Error(t, err)
		assert.True(t, signer.IsSubmissionError(err))
		assert.Zero(t, rpc.calls["getSignaturesForAddress"])
	})

	t.Run("confirmation timeout", func(t *testing.T) {
		rpc := newFakeRPC()
		rpc.on("getSignatureStatuses", func([]interface{}) (interface{}, error) {
			return map[string]interface{}{"value": []interface{}{nil}}, nil
		})
		p, err := solana.NewProgram(rpc, &fakeSubmitter{}, solana.Config{
			ProgramID:           programID.String(),
			RootPublicKey:       test.RootNajPublicKey(t),
			ConfirmPollInterval: time.Millisecond,
			ConfirmTimeout:      20 * time.Millisecond,
		})
		require.NoError(t, err)

		_, err = p.Sign(t.Context(), args(), signer.SignOptions{})
		require.Error(t, err)
		assert.True(t, signer.IsSubmissionError(err))
	})
}

func TestSignRequiresSubmitter(t *testing.T) {
	_, err := newProgram(t, newFakeRPC(), nil).Sign(t.Context(), args(), signer.SignOptions{})
	assert.Error(t, err)
}

func TestSignRejectsInvalidPayload(t *testing.T) {
	submitter := &fakeSubmitter{}
	_, err := newProgram(t, newFakeRPC(), submitter).Sign(t.Context(), signer.SignArgs{Payload: []byte{1, 2}}, signer.SignOptions{})
	assert.Error(t, err)
	assert.Empty(t, submitter.sent)
}

func TestGetCurrentSignatureDeposit(t *testing.T) {
	statePDA, err := solana.ProgramStateAddress(programID)
	require.NoError(t, err)

	encoded, err := borsh.Serialize(solana.ProgramState{
		Admin:            keyFromSeed("admin"),
		SignatureDeposit: 50_000,
		ChainID:          "solana:devnet",
	})
	require.NoError(t, err)
	data := append(make([]byte, 8), encoded...)

	rpc := newFakeRPC()
	rpc.on("getAccountInfo", func(params []interface{}) (interface{}, error) {
		assert.Equal(t, statePDA.String(), params[0])
		return map[string]interface{}{
			"value": map[string]interface{}{
				"data":     []string{base64.StdEncoding.EncodeToString(data), "base64"},
				"owner":    programID.String(),
				"lamports": 1_000_000,
			},
		}, nil
	})

	p := newProgram(t, rpc, nil)
	deposit, err := p.GetCurrentSignatureDeposit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(50_000), deposit)

	state, err := p.GetProgramState(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "solana:devnet", state.ChainID)
}

func TestGetCurrentSignatureDepositMissingAccount(t *testing.T) {
	rpc := newFakeRPC()
	rpc.on("getAccountInfo", func([]interface{}) (interface{}, error) {
		return map[string]interface{}{"value": nil}, nil
	})

	_, err := newProgram(t, rpc, nil).GetCurrentSignatureDeposit(t.Context())
	assert.Error(t, err)
}

func TestDerivedPublicKey(t *testing.T) {
	p := newProgram(t, newFakeRPC(), nil)

	root, err := p.GetPublicKey(t.Context())
	require.NoError(t, err)
	assert.Equal(t, test.RootPublicKey(t), root)

	child, err := p.GetDerivedPublicKey(t.Context(), signPath, requester.String())
	require.NoError(t, err)
	expected := test.ChildPrivateKey(t, requester.String(), signPath, derivation.ChainTagSolana)
	assert.Equal(t, crypto.FromECDSAPub(&expected.PublicKey), child)
}

func TestNewProgramValidation(t *testing.T) {
	_, err := solana.NewProgram(nil, nil, solana.Config{ProgramID: programID.String(), RootPublicKey: test.RootNajPublicKey(t)})
	assert.Error(t, err)

	_, err = solana.NewProgram(newFakeRPC(), nil, solana.Config{ProgramID: "not-base58-0OIl", RootPublicKey: test.RootNajPublicKey(t)})
	assert.Error(t, err)

	_, err = solana.NewProgram(newFakeRPC(), nil, solana.Config{ProgramID: programID.String()})
	assert.Error(t, err, "unknown deployment without an explicit root key")
}
