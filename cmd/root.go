package cmd

import (
	"os"

	"github.com/HerodotusDev/multi-party-ecdsa/cmd/cert"
	"github.com/HerodotusDev/multi-party-ecdsa/cmd/claim"
	"github.com/HerodotusDev/multi-party-ecdsa/cmd/keygen"
	"github.com/HerodotusDev/multi-party-ecdsa/cmd/serve"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/config"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/util"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "signer",
	Short: "Threshold ECDSA signer for claimed block hashes",
	Long: `Runs one party of a threshold ECDSA group. Parties receive block claims on a
shared claim room, confirm them against an Ethereum node and jointly sign the
claim digest without any party holding the full key.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		cfg := config.DefaultServiceConfigFromEnv()
		util.ConfigureLogger(cfg.Logger.Level, cfg.Logger.PrettyPrintConsole)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(
		serve.New(),
		claim.New(),
		keygen.New(),
		cert.New(),
	)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
