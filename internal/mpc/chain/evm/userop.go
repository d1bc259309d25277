package evm

import (
	"context"
	"math/big"

	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var (
	// EntryPointV06 ERC-4337 v0.6 EntryPoint
	EntryPointV06 = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	// EntryPointV07 ERC-4337 v0.7 EntryPoint
	EntryPointV07 = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
)

var (
	addressT = mustType("address")
	uint256T = mustType("uint256")
	bytes32T = mustType("bytes32")

	userOpV06Args = abi.Arguments{
		{Type: addressT}, {Type: uint256T}, {Type: bytes32T}, {Type: bytes32T},
		{Type: uint256T}, {Type: uint256T}, {Type: uint256T}, {Type: uint256T}, {Type: uint256T},
		{Type: bytes32T},
	}
	userOpV07Args = abi.Arguments{
		{Type: addressT}, {Type: uint256T}, {Type: bytes32T}, {Type: bytes32T},
		{Type: bytes32T}, {Type: uint256T}, {Type: bytes32T}, {Type: bytes32T},
	}
	userOpHashArgs = abi.Arguments{{Type: bytes32T}, {Type: addressT}, {Type: uint256T}}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// UserOperation ERC-4337 用户操作（v0.6 / v0.7）
type UserOperation interface {
	// Hash EntryPoint.getUserOpHash
	Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error)
	// EntryPoint 该版本的默认 EntryPoint
	EntryPoint() common.Address
	withSignature(sig []byte) UserOperation
}

// UserOperationV06 v0.6 用户操作
type UserOperationV06 struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

// UserOperationV07 v0.7 用户操作（未打包形式）
type UserOperationV07 struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

func bigOf(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToInt()
}

func keccak32(data []byte) [32]byte {
	return crypto.Keccak256Hash(data)
}

// packUint128Pair 两个 uint128 拼成 bytes32（高位在前）
func packUint128Pair(high, low *big.Int) ([32]byte, error) {
	var out [32]byte
	if high.BitLen() > 128 || low.BitLen() > 128 || high.Sign() < 0 || low.Sign() < 0 {
		return out, errors.New("gas value does not fit in uint128")
	}
	high.FillBytes(out[:16])
	low.FillBytes(out[16:])
	return out, nil
}

func userOpHash(packed []byte, entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	if chainID == nil {
		return common.Hash{}, errors.New("chain id is required")
	}
	encoded, err := userOpHashArgs.Pack(keccak32(packed), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to encode user operation hash")
	}
	return crypto.Keccak256Hash(encoded), nil
}

func (op UserOperationV06) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := userOpV06Args.Pack(
		op.Sender,
		bigOf(op.Nonce),
		keccak32(op.InitCode),
		keccak32(op.CallData),
		bigOf(op.CallGasLimit),
		bigOf(op.VerificationGasLimit),
		bigOf(op.PreVerificationGas),
		bigOf(op.MaxFeePerGas),
		bigOf(op.MaxPriorityFeePerGas),
		keccak32(op.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to pack v0.6 user operation")
	}
	return userOpHash(packed, entryPoint, chainID)
}

func (op UserOperationV06) EntryPoint() common.Address { return EntryPointV06 }

func (op UserOperationV06) withSignature(sig []byte) UserOperation {
	op.Signature = append(hexutil.Bytes(nil), sig...)
	return op
}

// InitCode factory ‖ factoryData
func (op UserOperationV07) InitCode() []byte {
	if op.Factory == nil {
		return nil
	}
	return append(op.Factory.Bytes(), op.FactoryData...)
}

// PaymasterAndData paymaster ‖ uint128(verificationGas) ‖ uint128(postOpGas) ‖ paymasterData
func (op UserOperationV07) PaymasterAndData() ([]byte, error) {
	if op.Paymaster == nil {
		return nil, nil
	}
	gas, err := packUint128Pair(bigOf(op.PaymasterVerificationGasLimit), bigOf(op.PaymasterPostOpGasLimit))
	if err != nil {
		return nil, err
	}
	out := append(op.Paymaster.Bytes(), gas[:]...)
	return append(out, op.PaymasterData...), nil
}

func (op UserOperationV07) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	accountGasLimits, err := packUint128Pair(bigOf(op.VerificationGasLimit), bigOf(op.CallGasLimit))
	if err != nil {
		return common.Hash{}, err
	}
	gasFees, err := packUint128Pair(bigOf(op.MaxPriorityFeePerGas), bigOf(op.MaxFeePerGas))
	if err != nil {
		return common.Hash{}, err
	}
	paymasterAndData, err := op.PaymasterAndData()
	if err != nil {
		return common.Hash{}, err
	}

	packed, err := userOpV07Args.Pack(
		op.Sender,
		bigOf(op.Nonce),
		keccak32(op.InitCode()),
		keccak32(op.CallData),
		accountGasLimits,
		bigOf(op.PreVerificationGas),
		gasFees,
		keccak32(paymasterAndData),
	)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to pack v0.7 user operation")
	}
	return userOpHash(packed, entryPoint, chainID)
}

func (op UserOperationV07) EntryPoint() common.Address { return EntryPointV07 }

func (op UserOperationV07) withSignature(sig []byte) UserOperation {
	op.Signature = append(hexutil.Bytes(nil), sig...)
	return op
}

// PrepareUserOpForSigning 计算 userOpHash 并按 EIP-191 包装；entryPoint 为空时使用版本默认值
func (a *Adapter) PrepareUserOpForSigning(ctx context.Context, op UserOperation, entryPoint *common.Address) ([][]byte, error) {
	if op == nil {
		return nil, errors.New("user operation is nil")
	}
	chainID, err := a.resolveChainID(ctx)
	if err != nil {
		return nil, err
	}

	ep := op.EntryPoint()
	if entryPoint != nil {
		ep = *entryPoint
	}

	hash, err := op.Hash(ep, chainID)
	if err != nil {
		return nil, err
	}
	return [][]byte{accounts.TextHash(hash.Bytes())}, nil
}

// FinalizeUserOpSigning 返回附带 r‖s‖v（v = 27/28）签名的用户操作副本
func (a *Adapter) FinalizeUserOpSigning(op UserOperation, sigs []signature.RSV) (UserOperation, error) {
	if op == nil {
		return nil, errors.New("user operation is nil")
	}
	sig, err := singleSignature(sigs)
	if err != nil {
		return nil, err
	}

	rs, err := sig.RS()
	if err != nil {
		return nil, err
	}
	v, err := signature.EthereumV(sig.V)
	if err != nil {
		return nil, err
	}
	return op.withSignature(append(rs, v)), nil
}
