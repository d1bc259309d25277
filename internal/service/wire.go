//go:build wireinject

// The build tag makes sure the stub is not built in the final build.

package service

import (
	"github.com/SafeMPC/chainsig/internal/config"
	"github.com/google/wire"
)

// INJECTORS - https://github.com/google/wire/blob/main/docs/guide.md#injectors

// serviceSet defines the wire provider set of all *Service components
var serviceSet = wire.NewSet(
	newServiceWithComponents,
	NewRegistry,
	NewRetryConfig,
	NewEthClient,
	NewContract,
	NewEVMAdapter,
	NewBitcoinAdapter,
	NewCosmosAdapter,
	NewRedisClient,
	NewTxStore,
)

// InitNewService returns a new Service instance.
func InitNewService(
	_ config.Server,
) (*Service, error) {
	wire.Build(serviceSet)
	return new(Service), nil
}
