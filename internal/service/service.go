package service

import (
	"context"
	"strings"

	"github.com/SafeMPC/chainsig/internal/config"
	"github.com/SafeMPC/chainsig/internal/mpc/chain"
	"github.com/SafeMPC/chainsig/internal/mpc/chain/bitcoin"
	"github.com/SafeMPC/chainsig/internal/mpc/chain/cosmos"
	"github.com/SafeMPC/chainsig/internal/mpc/chain/evm"
	"github.com/SafeMPC/chainsig/internal/mpc/signature"
	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	"github.com/SafeMPC/chainsig/internal/mpc/txstore"
	"github.com/SafeMPC/chainsig/internal/util"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreDisabled 未配置 Redis
	ErrStoreDisabled = errors.New("pending transaction store is not configured")
	// ErrPredecessorRequired 未指定 predecessor 且托管链没有配置默认账户
	ErrPredecessorRequired = errors.New("predecessor is required")
)

// Service 签名合约与各链适配器的组合
type Service struct {
	Config   config.Server
	Registry *signer.Registry
	Contract signer.Contract
	EVM      *evm.Adapter
	Bitcoin  *bitcoin.Adapter
	Cosmos   *cosmos.Adapter
	// Store 未配置 Redis 时为 nil
	Store txstore.Store

	redis *redis.Client
}

func newServiceWithComponents(
	cfg config.Server,
	registry *signer.Registry,
	contract signer.Contract,
	evmAdapter *evm.Adapter,
	bitcoinAdapter *bitcoin.Adapter,
	cosmosAdapter *cosmos.Adapter,
	redisClient *redis.Client,
	store txstore.Store,
) *Service {
	return &Service{
		Config:   cfg,
		Registry: registry,
		Contract: contract,
		EVM:      evmAdapter,
		Bitcoin:  bitcoinAdapter,
		Cosmos:   cosmosAdapter,
		Store:    store,
		redis:    redisClient,
	}
}

// Close 释放外部连接
func (s *Service) Close() error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

// Ready 检查签名合约与 Redis 是否可用
func (s *Service) Ready(ctx context.Context) error {
	if _, err := s.Contract.GetCurrentSignatureDeposit(ctx); err != nil {
		return errors.Wrap(err, "signer contract is not reachable")
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis is not reachable")
		}
	}
	return nil
}

// DefaultPredecessor 托管链上发起签名请求的默认账户
//
// NEAR 为 near.account_id，Solana 为 solana.requester，EVM 为 sender key 对应的小写地址
func (s *Service) DefaultPredecessor() string {
	switch signer.HostChain(s.Config.Signer.Host) {
	case signer.HostNEAR:
		return s.Config.NEAR.AccountID
	case signer.HostSolana:
		return s.Config.Solana.Requester
	case signer.HostEVM:
		if s.Config.EVM.SenderKey == "" {
			return ""
		}
		key, err := crypto.HexToECDSA(s.Config.EVM.SenderKey)
		if err != nil {
			return ""
		}
		return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	default:
		return ""
	}
}

// Derive 派生目标链的地址和公钥
//
// chainName 取 evm / bitcoin / cosmos，predecessor 为空时使用 DefaultPredecessor
func (s *Service) Derive(ctx context.Context, chainName, predecessor, path string) (*chain.DerivedAccount, error) {
	if predecessor == "" {
		predecessor = s.DefaultPredecessor()
	}
	if predecessor == "" {
		return nil, ErrPredecessorRequired
	}

	switch chainName {
	case "evm", "ethereum":
		return s.EVM.DeriveAddressAndPublicKey(ctx, predecessor, path)
	case "bitcoin", "btc":
		return s.Bitcoin.DeriveAddressAndPublicKey(ctx, predecessor, path)
	case "cosmos":
		return s.Cosmos.DeriveAddressAndPublicKey(ctx, predecessor, path)
	default:
		return nil, errors.Errorf("unsupported chain %q", chainName)
	}
}

// SignHashes 使用配置的 key version 对哈希逐一请求签名
func (s *Service) SignHashes(ctx context.Context, hashes [][]byte, path string) ([]signature.RSV, error) {
	return chain.SignHashes(ctx, s.Contract, hashes, chain.SignHashArgs{
		Path:       path,
		KeyVersion: s.Config.Signer.KeyVersion,
	})
}

// SavePending 保存待签名交易记录
func (s *Service) SavePending(ctx context.Context, record *txstore.Record) (string, error) {
	if s.Store == nil {
		return "", ErrStoreDisabled
	}
	return s.Store.Save(ctx, record, s.Config.Redis.TxTTL)
}

// SignPending 读取待签名交易记录并签名其全部哈希，成功后删除记录
func (s *Service) SignPending(ctx context.Context, id string) (*txstore.Record, []signature.RSV, error) {
	if s.Store == nil {
		return nil, nil, ErrStoreDisabled
	}

	record, err := s.Store.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	hashes, err := record.Hashes()
	if err != nil {
		return nil, nil, err
	}

	sigs, err := s.SignHashes(ctx, hashes, record.Path)
	if err != nil {
		return nil, nil, err
	}

	if err := s.Store.Delete(ctx, id); err != nil {
		util.LogFromContext(ctx).Warn().Err(err).Str("id", id).Msg("Failed to delete signed transaction record")
	}
	return record, sigs, nil
}
