package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const signerABIJSON = `[
  {
    "type": "function",
    "name": "sign",
    "stateMutability": "payable",
    "inputs": [
      {
        "name": "_request",
        "type": "tuple",
        "components": [
          {"name": "payload", "type": "bytes32"},
          {"name": "path", "type": "string"},
          {"name": "keyVersion", "type": "uint32"},
          {"name": "algo", "type": "string"},
          {"name": "dest", "type": "string"},
          {"name": "params", "type": "string"}
        ]
      }
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getSignatureDeposit",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "event",
    "name": "SignatureResponded",
    "anonymous": false,
    "inputs": [
      {"name": "requestId", "type": "bytes32", "indexed": true},
      {"name": "responder", "type": "address", "indexed": false},
      {
        "name": "signature",
        "type": "tuple",
        "indexed": false,
        "components": [
          {
            "name": "bigR",
            "type": "tuple",
            "components": [
              {"name": "x", "type": "uint256"},
              {"name": "y", "type": "uint256"}
            ]
          },
          {"name": "s", "type": "uint256"},
          {"name": "recoveryId", "type": "uint8"}
        ]
      }
    ]
  },
  {
    "type": "event",
    "name": "SignatureError",
    "anonymous": false,
    "inputs": [
      {"name": "requestId", "type": "bytes32", "indexed": true},
      {"name": "responder", "type": "address", "indexed": false},
      {"name": "error", "type": "string", "indexed": false}
    ]
  }
]`

const (
	methodSign                = "sign"
	methodGetSignatureDeposit = "getSignatureDeposit"
	eventSignatureResponded   = "SignatureResponded"
	eventSignatureError       = "SignatureError"
)

// SignerABI 签名合约 ABI
var SignerABI = mustParseABI(signerABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// SignRequest sign(...) 的 tuple 参数
type SignRequest struct {
	Payload    [32]byte
	Path       string
	KeyVersion uint32
	Algo       string
	Dest       string
	Params     string
}

// AffinePoint secp256k1 仿射坐标
type AffinePoint struct {
	X *big.Int
	Y *big.Int
}

// Signature SignatureResponded 事件中的签名结构
type Signature struct {
	BigR       AffinePoint
	S          *big.Int
	RecoveryId uint8 //nolint:revive
}
