package requestid

import (
	"encoding/hex"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// ID correlates a sign request with the response event emitted by the signer.
type ID [32]byte

// Hex returns the 0x-prefixed hex form.
func (id ID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id ID) String() string {
	return id.Hex()
}

// Hash returns the id as a log topic.
func (id ID) Hash() common.Hash {
	return common.Hash(id)
}

// Args is every field of the request id preimage except the caller.
type Args struct {
	Payload    []byte
	Path       string
	KeyVersion uint32
	ChainID    *big.Int
	Algo       string
	Dest       string
	Params     string
}

var (
	addressType = mustType("address")
	stringType  = mustType("string")
	bytesType   = mustType("bytes")
	uint32Type  = mustType("uint32")
	uint256Type = mustType("uint256")

	tailArguments = abi.Arguments{
		{Type: bytesType},
		{Type: stringType},
		{Type: uint32Type},
		{Type: uint256Type},
		{Type: stringType},
		{Type: stringType},
		{Type: stringType},
	}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// ForEVM computes the request id for a request submitted to the EVM-hosted
// signer, where the caller is ABI-encoded as an address.
func ForEVM(caller common.Address, args Args) (ID, error) {
	return compute(abi.Argument{Type: addressType}, caller, args)
}

// ForCaller computes the request id for hosts whose caller identity is a
// string (NEAR account id, base58 Solana public key).
func ForCaller(caller string, args Args) (ID, error) {
	return compute(abi.Argument{Type: stringType}, caller, args)
}

func compute(callerArg abi.Argument, caller interface{}, args Args) (ID, error) {
	var id ID
	if args.ChainID == nil {
		return id, errors.New("chain id is required")
	}

	arguments := append(abi.Arguments{callerArg}, tailArguments...)
	packed, err := arguments.Pack(
		caller,
		args.Payload,
		args.Path,
		args.KeyVersion,
		args.ChainID,
		args.Algo,
		args.Dest,
		args.Params,
	)
	if err != nil {
		return id, errors.Wrap(err, "failed to abi encode request id preimage")
	}

	copy(id[:], crypto.Keccak256(packed))
	return id, nil
}
