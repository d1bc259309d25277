package chain

import (
	"context"

	"github.com/SafeMPC/chainsig/internal/mpc/derivation"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	"github.com/SafeMPC/chainsig/internal/util"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// KeyDeriver 派生子公钥的能力，signer.Contract 满足该接口
type KeyDeriver interface {
	GetDerivedPublicKey(ctx context.Context, path string, predecessor string) ([]byte, error)
}

// DerivedPublicKey 从签名合约获取派生子公钥并校验为未压缩 SEC1
func DerivedPublicKey(ctx context.Context, contract KeyDeriver, predecessor, path string) ([]byte, error) {
	if contract == nil {
		return nil, errors.New("signer contract is required")
	}
	pub, err := contract.GetDerivedPublicKey(ctx, path, predecessor)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive public key")
	}
	if _, err := derivation.CompressPubKey(pub); err != nil {
		return nil, errors.Wrap(err, "signer returned invalid derived public key")
	}
	return pub, nil
}

// SignHashArgs 批量签名的公共参数
type SignHashArgs struct {
	Path       string
	KeyVersion uint32
	Options    signer.SignOptions
}

// SignHashes 并发签名所有哈希，每个哈希对应一次独立的 Sign 请求，结果保持哈希顺序
func SignHashes(ctx context.Context, contract signer.Contract, hashes [][]byte, args SignHashArgs) ([]signature.RSV, error) {
	if contract == nil {
		return nil, errors.New("signer contract is required")
	}
	if len(hashes) == 0 {
		return nil, errors.New("no hashes to sign")
	}

	sigs := make([]signature.RSV, len(hashes))
	g, gctx := errgroup.WithContext(ctx)

	for i := range hashes {
		g.Go(func() error {
			rsv, err := contract.Sign(gctx, signer.SignArgs{
				Payload:    hashes[i],
				Path:       args.Path,
				KeyVersion: args.KeyVersion,
			}, args.Options)
			if err != nil {
				return errors.Wrapf(err, "failed to sign hash %d", i)
			}
			sigs[i] = *rsv
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	util.LogFromContext(ctx).Debug().Int("hashes", len(hashes)).Str("path", args.Path).Msg("Signed all hashes")
	return sigs, nil
}
