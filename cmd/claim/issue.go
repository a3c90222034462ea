package claim

import (
	"fmt"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/api"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newIssue() *cobra.Command {
	var f claimFlags

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Print a signed claim token (CLAIM_JWT_SECRET) for the given block",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()
			token, err := issueToken(cfg, &f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	f.register(cmd)

	return cmd
}

func issueToken(cfg config.Server, f *claimFlags) (string, error) {
	claim, err := f.claim()
	if err != nil {
		return "", err
	}
	manager := api.NewClaimManager(cfg.Claim, api.NewClock())
	if manager == nil {
		return "", errors.New("CLAIM_JWT_SECRET is not set")
	}
	return manager.Generate(claim)
}
