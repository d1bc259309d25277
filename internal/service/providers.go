package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/SafeMPC/chainsig/internal/config"
	"github.com/SafeMPC/chainsig/internal/mpc/chain/bitcoin"
	"github.com/SafeMPC/chainsig/internal/mpc/chain/cosmos"
	"github.com/SafeMPC/chainsig/internal/mpc/chain/evm"
	"github.com/SafeMPC/chainsig/internal/mpc/signer"
	signerevm "github.com/SafeMPC/chainsig/internal/mpc/signer/evm"
	"github.com/SafeMPC/chainsig/internal/mpc/signer/near"
	"github.com/SafeMPC/chainsig/internal/mpc/signer/solana"
	"github.com/SafeMPC/chainsig/internal/mpc/txstore"
	"github.com/SafeMPC/chainsig/internal/util/jsonrpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PROVIDERS - https://github.com/google/wire/blob/main/docs/guide.md#defining-providers

const startupTimeout = 5 * time.Second

// NewRegistry 内置部署表，配置了 Consul 时合并其中的覆盖项
func NewRegistry(cfg config.Server) (*signer.Registry, error) {
	registry := signer.DefaultRegistry()
	if cfg.Consul.Address == "" {
		return registry, nil
	}

	kv, err := signer.NewConsulKV(cfg.Consul.Address)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	overrides, err := signer.LoadConsulDeployments(ctx, kv, cfg.Consul.Prefix)
	if err != nil {
		return nil, err
	}
	return registry.With(overrides...), nil
}

func NewRetryConfig(cfg config.Server) signer.RetryConfig {
	return signer.RetryConfig{
		RetryCount: cfg.Signer.RetryCount,
		Delay:      cfg.Signer.RetryDelay,
	}
}

// NewEthClient EVM 节点客户端；HTTP 端点延迟连接
func NewEthClient(cfg config.Server) (*ethclient.Client, error) {
	if cfg.EVM.RPCURL == "" {
		return nil, fmt.Errorf("EVM RPCURL is not configured")
	}
	client, err := ethclient.Dial(cfg.EVM.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial EVM RPC: %w", err)
	}
	return client, nil
}

// NewContract 根据托管链创建签名合约客户端
//
// NEAR 与 Solana 的外层交易签名不由本服务提供，这两种托管链下 Sign 不可用。
func NewContract(cfg config.Server, registry *signer.Registry, retry signer.RetryConfig, ethClient *ethclient.Client) (signer.Contract, error) {
	host, err := signer.ParseHostChain(cfg.Signer.Host)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("host", string(host)).
		Str("contract", cfg.Signer.Contract).
		Msg("Initializing signer contract")

	switch host {
	case signer.HostEVM:
		if !common.IsHexAddress(cfg.Signer.Contract) {
			return nil, fmt.Errorf("invalid EVM signer contract address %q", cfg.Signer.Contract)
		}
		evmCfg := signerevm.Config{
			ContractAddress: common.HexToAddress(cfg.Signer.Contract),
			ChainID:         big.NewInt(cfg.EVM.ChainID),
			RootPublicKey:   cfg.Signer.RootPublicKey,
			Registry:        registry,
			Retry:           retry,
		}
		if cfg.EVM.SenderKey != "" {
			key, err := crypto.HexToECDSA(cfg.EVM.SenderKey)
			if err != nil {
				return nil, fmt.Errorf("invalid EVM sender key: %w", err)
			}
			evmCfg.Sender = key
		}
		return signerevm.NewContract(ethClient, evmCfg)

	case signer.HostNEAR:
		mode, err := near.ParseResultMode(cfg.NEAR.ResultMode)
		if err != nil {
			return nil, err
		}
		return near.NewContract(jsonrpc.NewClient(cfg.NEAR.RPCURL), nil, near.Config{
			ContractID:    cfg.Signer.Contract,
			RootPublicKey: cfg.Signer.RootPublicKey,
			Registry:      registry,
			ResultMode:    mode,
			Retry:         retry,
		})

	default:
		return solana.NewProgram(jsonrpc.NewClient(cfg.Solana.RPCURL), nil, solana.Config{
			ProgramID:     cfg.Signer.Contract,
			RootPublicKey: cfg.Signer.RootPublicKey,
			Registry:      registry,
			Commitment:    cfg.Solana.Commitment,
			Retry:         retry,
		})
	}
}

func NewEVMAdapter(cfg config.Server, ethClient *ethclient.Client, contract signer.Contract) (*evm.Adapter, error) {
	return evm.NewAdapter(ethClient, contract, big.NewInt(cfg.EVM.ChainID))
}

func NewBitcoinAdapter(cfg config.Server, contract signer.Contract) (*bitcoin.Adapter, error) {
	params, err := bitcoin.NetworkParams(cfg.Bitcoin.Network)
	if err != nil {
		return nil, err
	}
	return bitcoin.NewAdapter(bitcoin.NewMempoolClient(cfg.Bitcoin.MempoolURL), contract, params)
}

func NewCosmosAdapter(cfg config.Server, contract signer.Contract) (*cosmos.Adapter, error) {
	return cosmos.NewAdapter(cosmos.NewRESTClient(cfg.Cosmos.RESTURL), contract, cosmos.ChainInfo{
		ChainID:  cfg.Cosmos.ChainID,
		Prefix:   cfg.Cosmos.Prefix,
		Denom:    cfg.Cosmos.Denom,
		Decimals: cfg.Cosmos.Decimals,
		GasPrice: cfg.Cosmos.GasPrice,
	})
}

// NewRedisClient 未配置地址时返回 nil，此时不提供交易存储
func NewRedisClient(cfg config.Server) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		log.Debug().Msg("Redis is not configured, pending transaction store disabled")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func NewTxStore(client *redis.Client) txstore.Store {
	if client == nil {
		return nil
	}
	return txstore.NewRedisStore(client)
}
