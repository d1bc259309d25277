package cmd

import (
	"fmt"
	"os"

	"github.com/SafeMPC/chainsig/cmd/deposit"
	"github.com/SafeMPC/chainsig/cmd/derive"
	"github.com/SafeMPC/chainsig/cmd/probe"
	"github.com/SafeMPC/chainsig/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     "chainsig",
	Short:   config.ModuleName,
	Long: fmt.Sprintf(`%v

Derives chain addresses and requests signatures from the chain signatures network.
Requires configuration through ENV (prefix %s_).`, config.ModuleName, config.EnvPrefix),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	// attach the subcommands
	rootCmd.AddCommand(
		derive.New(),
		deposit.New(),
		probe.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		os.Exit(1)
	}
}
