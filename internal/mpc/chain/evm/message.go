package evm

import (
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

// PrepareMessageForSigning EIP-191 personal_sign 哈希
func (a *Adapter) PrepareMessageForSigning(message []byte) [][]byte {
	return [][]byte{accounts.TextHash(message)}
}

// FinalizeMessageSigning 返回 0x r‖s‖v（v = 27/28）
func (a *Adapter) FinalizeMessageSigning(sigs []signature.RSV) (string, error) {
	return finalizeEthereumSignature(sigs)
}

// PrepareTypedDataForSigning EIP-712 哈希
func (a *Adapter) PrepareTypedDataForSigning(typedData apitypes.TypedData) ([][]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash typed data")
	}
	return [][]byte{hash}, nil
}

// FinalizeTypedDataSigning 返回 0x r‖s‖v（v = 27/28）
func (a *Adapter) FinalizeTypedDataSigning(sigs []signature.RSV) (string, error) {
	return finalizeEthereumSignature(sigs)
}

func finalizeEthereumSignature(sigs []signature.RSV) (string, error) {
	sig, err := singleSignature(sigs)
	if err != nil {
		return "", err
	}
	return sig.EthereumHex()
}
