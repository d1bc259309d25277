package deposit

import (
	"context"
	"fmt"

	"github.com/SafeMPC/chainsig/internal/config"
	"github.com/SafeMPC/chainsig/internal/service"
	"github.com/SafeMPC/chainsig/internal/util/command"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("deposit",
		newCurrent(),
	)
}

func newCurrent() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Print the deposit currently required by the signer contract",
		Long: `Print the deposit currently required by the signer contract,
in the smallest unit of the host chain (yoctoNEAR, wei or lamports).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()

			return command.WithService(cmd.Context(), cfg, func(ctx context.Context, s *service.Service) error {
				deposit, err := s.Contract.GetCurrentSignatureDeposit(ctx)
				if err != nil {
					return errors.Wrap(err, "failed to get current signature deposit")
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.Signer.Host, deposit.String())
				return nil
			})
		},
	}
}
