package signer

import (
	"sort"
	"strings"

	"github.com/SafeMPC/chainsig/internal/mpc/derivation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Deployment 已知的签名合约部署
type Deployment struct {
	Host          HostChain `json:"host"`
	Network       string    `json:"network"`
	Address       string    `json:"address"`
	RootPublicKey string    `json:"rootPublicKey"`
}

type deploymentKey struct {
	host    HostChain
	address string
}

func keyFor(host HostChain, address string) deploymentKey {
	if host == HostEVM {
		address = strings.ToLower(address)
	}
	return deploymentKey{host: host, address: address}
}

// Registry 签名合约部署表，构建后只读
type Registry struct {
	entries map[deploymentKey]Deployment
}

// NewRegistry 创建部署表，后出现的条目覆盖先出现的同名条目
func NewRegistry(deployments ...Deployment) *Registry {
	r := &Registry{entries: make(map[deploymentKey]Deployment, len(deployments))}
	for _, d := range deployments {
		r.entries[keyFor(d.Host, d.Address)] = d
	}
	return r
}

// 同一 MPC 网络在各托管链上的部署共用根公钥
const (
	mainnetRootPublicKey = "secp256k1:3tFRbMqmoa6AAALMrEFAYCEoHcqKxeW38YptwowBVBtXK1vo36HDbUWuR6EZmoK4JcH6HDkNMGGqP1ouV7VZUWya"
	testnetRootPublicKey = "secp256k1:4NfTiv3UsGahebgTaHyD9vF8KYKMBnfd6kh94mK6xv8fGBiJB8TBtFMP5WWXz6B89Ac1fbpzPwAvoyQebemHFwx3"
)

var staticDeployments = []Deployment{
	{Host: HostNEAR, Network: "mainnet", Address: "v1.signer", RootPublicKey: mainnetRootPublicKey},
	{Host: HostNEAR, Network: "testnet", Address: "v1.signer-prod.testnet", RootPublicKey: testnetRootPublicKey},
	{Host: HostEVM, Network: "mainnet", Address: "0xf8bdC0612361a1E49a8E01423d4C0cFc5dF4791A", RootPublicKey: mainnetRootPublicKey},
	{Host: HostEVM, Network: "sepolia", Address: "0x83458E8Bf8206131Fe5c05127007FA164c0948A2", RootPublicKey: testnetRootPublicKey},
	{Host: HostSolana, Network: "devnet", Address: "SigMcRMjKfnC7RDG5q4yUMZM1s5KJ9oYTPP4NmJRDRw", RootPublicKey: testnetRootPublicKey},
}

// DefaultRegistry 返回内置部署表
func DefaultRegistry() *Registry {
	return NewRegistry(staticDeployments...)
}

// With 返回合并 overrides 后的新部署表
func (r *Registry) With(overrides ...Deployment) *Registry {
	merged := make([]Deployment, 0, len(r.entries)+len(overrides))
	merged = append(merged, r.All()...)
	merged = append(merged, overrides...)
	return NewRegistry(merged...)
}

// Lookup 按托管链与合约地址查找部署
func (r *Registry) Lookup(host HostChain, address string) (Deployment, bool) {
	if r == nil {
		return Deployment{}, false
	}
	d, ok := r.entries[keyFor(host, address)]
	return d, ok
}

// All 返回所有部署，按托管链与地址排序
func (r *Registry) All() []Deployment {
	if r == nil {
		return nil
	}
	out := make([]Deployment, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// ResolveRootKey 解析根公钥：优先使用显式配置，其次查部署表
func ResolveRootKey(reg *Registry, host HostChain, address string, explicit string) (*RootKey, error) {
	tag, err := ChainTagForHost(host)
	if err != nil {
		return nil, err
	}

	source := "explicit"
	value := strings.TrimSpace(explicit)
	if value == "" {
		d, ok := reg.Lookup(host, address)
		if !ok {
			return nil, errors.Errorf("no root public key configured and no known deployment for %s contract %q", host, address)
		}
		source = "registry"
		value = d.RootPublicKey
	}

	uncompressed, err := derivation.ParseRootPublicKey(value)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s root public key", source)
	}

	log.Debug().
		Str("host", string(host)).
		Str("contract", address).
		Str("source", source).
		Msg("Resolved signer root public key")

	return NewRootKey(uncompressed, tag)
}
