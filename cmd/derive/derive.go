package derive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SafeMPC/chainsig/internal/config"
	"github.com/SafeMPC/chainsig/internal/service"
	"github.com/SafeMPC/chainsig/internal/util/command"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	predecessorFlag string = "predecessor"
	pathFlag        string = "path"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("derive",
		newChainCommand("evm", "Derive an EVM address"),
		newChainCommand("bitcoin", "Derive a P2WPKH Bitcoin address"),
		newChainCommand("cosmos", "Derive a bech32 Cosmos address"),
	)
}

func newChainCommand(chainName, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   chainName,
		Short: short,
		Long: fmt.Sprintf(`%s for the given predecessor and path.

The derivation is computed locally from the signer's root public key.`, short),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			predecessor, err := cmd.Flags().GetString(predecessorFlag)
			if err != nil {
				return err
			}
			path, err := cmd.Flags().GetString(pathFlag)
			if err != nil {
				return err
			}
			return run(cmd, chainName, predecessor, path)
		},
	}

	cmd.Flags().String(predecessorFlag, "", "Account requesting signatures (NEAR account, lowercase EVM address or Solana requester), defaults to the configured host account")
	cmd.Flags().String(pathFlag, "", "Derivation path, e.g. \"ethereum,1\"")

	return cmd
}

func run(cmd *cobra.Command, chainName, predecessor, path string) error {
	cfg := config.DefaultServiceConfigFromEnv()

	return command.WithService(cmd.Context(), cfg, func(ctx context.Context, s *service.Service) error {
		account, err := s.Derive(ctx, chainName, predecessor, path)
		if err != nil {
			log.Error().Err(err).Str("chain", chainName).Msg("Failed to derive account")
			return errors.Wrapf(err, "failed to derive %s account", chainName)
		}

		out, err := json.MarshalIndent(account, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	})
}
