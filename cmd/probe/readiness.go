package probe

import (
	"context"
	"fmt"

	"github.com/SafeMPC/chainsig/internal/config"
	"github.com/SafeMPC/chainsig/internal/service"
	"github.com/SafeMPC/chainsig/internal/util/command"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newReadiness() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Checks readiness of the signer contract and pending transaction store",
		Long: `Checks readiness of the signer contract and pending transaction store.
Exits with a non-zero code when any dependency is unavailable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, err := cmd.Flags().GetBool(verboseFlag)
			if err != nil {
				return err
			}

			cfg := config.DefaultServiceConfigFromEnv()

			return command.WithService(cmd.Context(), cfg, func(ctx context.Context, s *service.Service) error {
				if err := s.Ready(ctx); err != nil {
					log.Error().Err(err).Msg("Readiness probe failed")
					return err
				}
				if verbose {
					fmt.Fprintln(cmd.OutOrStdout(), "Ready.")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "Show verbose output.")

	return cmd
}
