package signer

import (
	"github.com/SafeMPC/chainsig/internal/mpc/derivation"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// RootKey 签名合约的根公钥及其派生链标识
type RootKey struct {
	uncompressed []byte
	tag          derivation.ChainTag
}

// NewRootKey 校验并封装根公钥（未压缩 SEC1）
func NewRootKey(uncompressed []byte, tag derivation.ChainTag) (*RootKey, error) {
	if err := tag.Validate(); err != nil {
		return nil, err
	}
	if _, err := derivation.CompressPubKey(uncompressed); err != nil {
		return nil, errors.Wrap(err, "invalid root public key")
	}
	return &RootKey{
		uncompressed: append([]byte(nil), uncompressed...),
		tag:          tag,
	}, nil
}

// ChainTagForHost 返回托管链对应的派生链标识
func ChainTagForHost(host HostChain) (derivation.ChainTag, error) {
	switch host {
	case HostEVM:
		return derivation.ChainTagEthereum, nil
	case HostNEAR:
		return derivation.ChainTagNEAR, nil
	case HostSolana:
		return derivation.ChainTagSolana, nil
	default:
		return "", errors.Errorf("unsupported signer host chain: %q", string(host))
	}
}

// PublicKey 返回根公钥副本
func (k *RootKey) PublicKey() []byte {
	return append([]byte(nil), k.uncompressed...)
}

// ChainTag 返回派生链标识
func (k *RootKey) ChainTag() derivation.ChainTag {
	return k.tag
}

// Derive 派生子公钥
func (k *RootKey) Derive(predecessor, path string) ([]byte, error) {
	return derivation.DeriveChildPublicKey(k.uncompressed, predecessor, path, k.tag)
}

// ExpectedAddress 返回子公钥对应的以太坊地址，用于签名恢复校验
func (k *RootKey) ExpectedAddress(predecessor, path string) (common.Address, error) {
	child, err := k.Derive(predecessor, path)
	if err != nil {
		return common.Address{}, err
	}
	return signature.AddressFromPublicKey(child)
}
