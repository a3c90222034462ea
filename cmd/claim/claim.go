package claim

import (
	"github.com/HerodotusDev/multi-party-ecdsa/internal/auth"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/util/command"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("claim",
		newIssue(),
		newSend(),
	)
}

type claimFlags struct {
	selector    string
	parentHash  string
	blockNumber string
	address     string
}

func (f *claimFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.selector, "selector", "", "Method selector of the verifying contract")
	cmd.Flags().StringVar(&f.parentHash, "parent-hash", "", "0x-prefixed parent hash of the block")
	cmd.Flags().StringVar(&f.blockNumber, "blocknumber", "", "Block number, base 10")
	cmd.Flags().StringVar(&f.address, "address", "", "Address of the verifying contract")
}

func (f *claimFlags) claim() (*auth.BlockClaim, error) {
	c := &auth.BlockClaim{
		Selector:    f.selector,
		ParentHash:  f.parentHash,
		BlockNumber: f.blockNumber,
		Address:     f.address,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
