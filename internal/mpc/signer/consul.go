package signer

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// KVLister Consul KV 列表能力（*api.KV 满足该接口）
type KVLister interface {
	List(prefix string, q *api.QueryOptions) (api.KVPairs, *api.QueryMeta, error)
}

// NewConsulKV 创建 Consul KV 客户端
func NewConsulKV(address string) (*api.KV, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create consul client")
	}
	return client.KV(), nil
}

// LoadConsulDeployments 从 Consul KV 读取部署覆盖项，每个 key 的值为一条 Deployment JSON
func LoadConsulDeployments(ctx context.Context, kv KVLister, prefix string) ([]Deployment, error) {
	q := (&api.QueryOptions{}).WithContext(ctx)

	pairs, _, err := kv.List(prefix, q)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list consul prefix %s", prefix)
	}

	deployments := make([]Deployment, 0, len(pairs))
	for _, pair := range pairs {
		if pair == nil || len(pair.Value) == 0 || strings.HasSuffix(pair.Key, "/") {
			continue
		}

		var d Deployment
		if err := json.Unmarshal(pair.Value, &d); err != nil {
			return nil, errors.Wrapf(err, "invalid deployment at consul key %s", pair.Key)
		}
		if _, err := ParseHostChain(string(d.Host)); err != nil {
			return nil, errors.Wrapf(err, "invalid deployment at consul key %s", pair.Key)
		}
		if d.Address == "" || d.RootPublicKey == "" {
			return nil, errors.Errorf("deployment at consul key %s is missing address or root public key", pair.Key)
		}
		deployments = append(deployments, d)
	}

	log.Info().
		Str("prefix", prefix).
		Int("deployments", len(deployments)).
		Msg("Loaded signer deployments from consul")

	return deployments, nil
}
