package evm

import (
	"context"
	"math/big"

	"github.com/SafeMPC/chainsig/internal/mpc/requestid"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// logSource 按 requestId 主题过滤合约日志
type logSource struct {
	client    Client
	contract  common.Address
	requestID requestid.ID
}

func (s *logSource) Observe(ctx context.Context, req signer.PendingRequest) (signer.Observation, error) {
	respondedID := SignerABI.Events[eventSignatureResponded].ID
	errorID := SignerABI.Events[eventSignatureError].ID

	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(req.Checkpoint.Block),
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{{respondedID, errorID}, {s.requestID.Hash()}},
	})
	if err != nil {
		return signer.Observation{}, errors.Wrap(err, "failed to filter signer logs")
	}

	var obs signer.Observation
	for _, l := range logs {
		if len(l.Topics) < 2 || l.Topics[1] != s.requestID.Hash() {
			continue
		}

		switch l.Topics[0] {
		case respondedID:
			rsv, err := decodeResponded(l.Data)
			if err != nil {
				log.Warn().Err(err).Str("tx_hash", l.TxHash.Hex()).Msg("Skipping undecodable SignatureResponded log")
				continue
			}
			obs.Signatures = append(obs.Signatures, *rsv)
		case errorID:
			msg, err := decodeError(l.Data)
			if err != nil {
				log.Warn().Err(err).Str("tx_hash", l.TxHash.Hex()).Msg("Skipping undecodable SignatureError log")
				continue
			}
			if !obs.HasError {
				obs.HasError = true
				obs.ContractError = msg
			}
		}
	}

	return obs, nil
}

func decodeResponded(data []byte) (*signature.RSV, error) {
	values, err := SignerABI.Unpack(eventSignatureResponded, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack SignatureResponded")
	}
	if len(values) != 2 {
		return nil, errors.Errorf("unexpected SignatureResponded field count %d", len(values))
	}

	sig, ok := abi.ConvertType(values[1], new(Signature)).(*Signature)
	if !ok {
		return nil, errors.New("unexpected SignatureResponded signature shape")
	}
	return signature.FromEVMEvent(sig.BigR.X, sig.BigR.Y, sig.S, sig.RecoveryId)
}

func decodeError(data []byte) (string, error) {
	values, err := SignerABI.Unpack(eventSignatureError, data)
	if err != nil {
		return "", errors.Wrap(err, "failed to unpack SignatureError")
	}
	if len(values) != 2 {
		return "", errors.Errorf("unexpected SignatureError field count %d", len(values))
	}
	msg, ok := values[1].(string)
	if !ok {
		return "", errors.Errorf("unexpected SignatureError message type %T", values[1])
	}
	return msg, nil
}
