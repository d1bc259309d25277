package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix 所有环境变量的前缀，如 CHAINSIG_SIGNER_HOST
const EnvPrefix = "CHAINSIG"

type LoggerServer struct {
	Level              zerolog.Level
	PrettyPrintConsole bool
}

// Signer 签名合约配置
type Signer struct {
	// Host evm / near / solana
	Host string
	// Contract EVM 合约地址 / NEAR 合约账户 / Solana 程序 ID
	Contract string
	// RootPublicKey 为空时从部署表解析
	RootPublicKey string
	KeyVersion    uint32
	RetryCount    int
	RetryDelay    time.Duration
}

type EVM struct {
	RPCURL  string
	ChainID int64
	// SenderKey 支付 sign 交易的私钥（hex），为空时只读
	SenderKey string `json:"-"`
}

type NEAR struct {
	RPCURL    string
	AccountID string
	// ResultMode sync / poll
	ResultMode string
}

type Solana struct {
	RPCURL     string
	Requester  string
	Commitment string
}

type Bitcoin struct {
	// Network mainnet / testnet / signet / regtest
	Network    string
	MempoolURL string
}

type Cosmos struct {
	RESTURL  string
	ChainID  string
	Prefix   string
	Denom    string
	Decimals int
	GasPrice string
}

type Redis struct {
	Addr     string
	Password string `json:"-"`
	DB       int
	// TxTTL 待签名交易的保存时长
	TxTTL time.Duration
}

type Consul struct {
	// Address 为空时不加载部署覆盖项
	Address string
	Prefix  string
}

type Metrics struct {
	Enabled bool
	Addr    string
}

type Server struct {
	Logger  LoggerServer
	Signer  Signer
	EVM     EVM
	NEAR    NEAR
	Solana  Solana
	Bitcoin Bitcoin
	Cosmos  Cosmos
	Redis   Redis
	Consul  Consul
	Metrics Metrics
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.pretty_print_console", false)

	v.SetDefault("signer.host", "near")
	v.SetDefault("signer.contract", "v1.signer-prod.testnet")
	v.SetDefault("signer.root_public_key", "")
	v.SetDefault("signer.key_version", 0)
	v.SetDefault("signer.retry_count", 12)
	v.SetDefault("signer.retry_delay", 5*time.Second)

	v.SetDefault("evm.rpc_url", "https://ethereum-sepolia-rpc.publicnode.com")
	v.SetDefault("evm.chain_id", 11155111)
	v.SetDefault("evm.sender_key", "")

	v.SetDefault("near.rpc_url", "https://rpc.testnet.near.org")
	v.SetDefault("near.account_id", "")
	v.SetDefault("near.result_mode", "sync")

	v.SetDefault("solana.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("solana.requester", "")
	v.SetDefault("solana.commitment", "confirmed")

	v.SetDefault("bitcoin.network", "testnet")
	v.SetDefault("bitcoin.mempool_url", "https://mempool.space/testnet/api")

	v.SetDefault("cosmos.rest_url", "https://rest.cosmos.directory/cosmoshub")
	v.SetDefault("cosmos.chain_id", "cosmoshub-4")
	v.SetDefault("cosmos.prefix", "cosmos")
	v.SetDefault("cosmos.denom", "uatom")
	v.SetDefault("cosmos.decimals", 6)
	v.SetDefault("cosmos.gas_price", "0.025")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tx_ttl", 30*time.Minute)

	v.SetDefault("consul.address", "")
	v.SetDefault("consul.prefix", "chainsig/deployments")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	return v
}

// DefaultServiceConfigFromEnv returns the server config as parsed from environment variables
// and their respective defaults defined below.
// We don't expect that ENV_VARs change while we are running our application or our tests
// (and it would be a bad thing to do anyways with parallel testing).
// Do NOT use os.Setenv / os.Unsetenv in tests utilizing DefaultServiceConfigFromEnv()!
func DefaultServiceConfigFromEnv() Server {
	return fromViper(newViper())
}

func fromViper(v *viper.Viper) Server {
	level, err := zerolog.ParseLevel(v.GetString("logger.level"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return Server{
		Logger: LoggerServer{
			Level:              level,
			PrettyPrintConsole: v.GetBool("logger.pretty_print_console"),
		},
		Signer: Signer{
			Host:          strings.ToLower(v.GetString("signer.host")),
			Contract:      v.GetString("signer.contract"),
			RootPublicKey: v.GetString("signer.root_public_key"),
			KeyVersion:    v.GetUint32("signer.key_version"),
			RetryCount:    v.GetInt("signer.retry_count"),
			RetryDelay:    v.GetDuration("signer.retry_delay"),
		},
		EVM: EVM{
			RPCURL:    v.GetString("evm.rpc_url"),
			ChainID:   v.GetInt64("evm.chain_id"),
			SenderKey: v.GetString("evm.sender_key"),
		},
		NEAR: NEAR{
			RPCURL:     v.GetString("near.rpc_url"),
			AccountID:  v.GetString("near.account_id"),
			ResultMode: v.GetString("near.result_mode"),
		},
		Solana: Solana{
			RPCURL:     v.GetString("solana.rpc_url"),
			Requester:  v.GetString("solana.requester"),
			Commitment: v.GetString("solana.commitment"),
		},
		Bitcoin: Bitcoin{
			Network:    v.GetString("bitcoin.network"),
			MempoolURL: v.GetString("bitcoin.mempool_url"),
		},
		Cosmos: Cosmos{
			RESTURL:  v.GetString("cosmos.rest_url"),
			ChainID:  v.GetString("cosmos.chain_id"),
			Prefix:   v.GetString("cosmos.prefix"),
			Denom:    v.GetString("cosmos.denom"),
			Decimals: v.GetInt("cosmos.decimals"),
			GasPrice: v.GetString("cosmos.gas_price"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TxTTL:    v.GetDuration("redis.tx_ttl"),
		},
		Consul: Consul{
			Address: v.GetString("consul.address"),
			Prefix:  v.GetString("consul.prefix"),
		},
		Metrics: Metrics{
			Enabled: v.GetBool("metrics.enabled"),
			Addr:    v.GetString("metrics.addr"),
		},
	}
}
