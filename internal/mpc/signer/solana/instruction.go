package solana

import (
	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	"github.com/near/borsh-go"
	"github.com/pkg/errors"
)

const (
	programStateSeed   = "program-state"
	eventAuthoritySeed = "__event_authority"
)

var signInstructionDiscriminator = discriminator("global:sign")

// AccountMeta 指令账户
type AccountMeta struct {
	PublicKey  PublicKey
	IsSigner   bool
	IsWritable bool
}

// SignInstruction 调用签名程序 sign 指令所需的全部信息，由 Submitter 打包进外层交易
type SignInstruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

type signInstructionArgs struct {
	Payload    [32]byte
	KeyVersion uint32
	Path       string
	Algo       string
	Dest       string
	Params     string
}

// ProgramStateAddress 程序状态 PDA
func ProgramStateAddress(programID PublicKey) (PublicKey, error) {
	pda, _, err := FindProgramAddress([][]byte{[]byte(programStateSeed)}, programID)
	return pda, err
}

// EventAuthorityAddress emit_cpi! 使用的事件权限 PDA
func EventAuthorityAddress(programID PublicKey) (PublicKey, error) {
	pda, _, err := FindProgramAddress([][]byte{[]byte(eventAuthoritySeed)}, programID)
	return pda, err
}

// EncodeSignInstruction 构造 sign 指令：global:sign 判别符 + Borsh 参数
func EncodeSignInstruction(programID, requester PublicKey, args signer.SignArgs, opts signer.SignRequestOptions) (SignInstruction, error) {
	if err := args.Validate(); err != nil {
		return SignInstruction{}, err
	}

	payload, err := borsh.Serialize(signInstructionArgs{
		Payload:    args.Payload32(),
		KeyVersion: args.KeyVersion,
		Path:       args.Path,
		Algo:       opts.Algo,
		Dest:       opts.Dest,
		Params:     opts.Params,
	})
	if err != nil {
		return SignInstruction{}, errors.Wrap(err, "failed to borsh encode sign args")
	}

	programState, err := ProgramStateAddress(programID)
	if err != nil {
		return SignInstruction{}, err
	}
	eventAuthority, err := EventAuthorityAddress(programID)
	if err != nil {
		return SignInstruction{}, err
	}

	data := make([]byte, 0, len(signInstructionDiscriminator)+len(payload))
	data = append(data, signInstructionDiscriminator[:]...)
	data = append(data, payload...)

	return SignInstruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			{PublicKey: programState, IsWritable: true},
			{PublicKey: requester, IsSigner: true, IsWritable: true},
			{PublicKey: SystemProgramID},
			{PublicKey: eventAuthority},
			{PublicKey: programID},
		},
		Data: data,
	}, nil
}
