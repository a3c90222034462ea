package keygen

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/api"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/config"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/chain"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/protocol"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/util/command"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const keygenTimeout = 30 * time.Minute

func New() *cobra.Command {
	return command.NewSubcommandGroup("keygen",
		newLocal(),
		newJoin(),
	)
}

type keygenFlags struct {
	parties    []string
	threshold  int
	workers    int
	passphrase string
}

func (f *keygenFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.parties, "parties", []string{"a", "b", "c"}, "Ids of all parties holding a share")
	cmd.Flags().IntVar(&f.threshold, "threshold", 1, "Any threshold+1 parties can sign")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Proof workers, 0 means one per CPU")
	cmd.Flags().StringVar(&f.passphrase, "passphrase", "", "Seal the written shares (defaults to MPC_KEY_SHARE_PASSPHRASE)")
}

func (f *keygenFlags) sealWith() string {
	if f.passphrase != "" {
		return f.passphrase
	}
	return config.DefaultServiceConfigFromEnv().MPC.KeySharePassphrase
}

func newLocal() *cobra.Command {
	var (
		f      keygenFlags
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Generate the shares of every party in this process (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), keygenTimeout)
			defer cancel()

			shares, err := generateLocal(ctx, f.parties, f.threshold, f.workers)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0755); err != nil {
				return err
			}
			for _, share := range shares {
				if err := writeShare(filepath.Join(outDir, share.ID+"-share.json"), share, f.sealWith()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", "shares", "Output directory for the share documents")

	return cmd
}

func newJoin() *cobra.Command {
	var (
		f   keygenFlags
		id  string
		out string
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Take part in a key generation over the configured transport",
		Long: `Joins the room "<ROOM_PREFIX>-keygen" of the configured transport and runs key
generation with the other parties. Every party must run this with the same
--parties and --threshold.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()
			if cfg.Transport.Kind == config.TransportMemory {
				return errors.New("use 'keygen local' for in-process key generation")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), keygenTimeout)
			defer cancel()

			var client *redis.Client
			if cfg.Transport.Kind == config.TransportRedis {
				var err error
				client, err = api.NewRedisClient(ctx, cfg.Transport)
				if err != nil {
					return err
				}
				defer client.Close()
			}
			room, err := api.NewRoom(ctx, cfg, client, id, f.parties)
			if err != nil {
				return err
			}
			defer room.Close()

			share, err := generate(ctx, room, cfg.Room.Prefix+"-keygen", id, f.parties, f.threshold, f.workers)
			if err != nil {
				return err
			}
			return writeShare(out, share, f.sealWith())
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Id of this party")
	cmd.Flags().StringVarP(&out, "out", "o", "local-share.json", "Output path of the share document")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func generate(ctx context.Context, room transport.Room, name string, id string, parties []string, threshold int, workers int) (*protocol.KeyShare, error) {
	ch, err := room.Join(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to join keygen room %s", name)
	}
	defer ch.Close()

	engine := protocol.NewCMPEngine(workers)
	defer engine.Close()

	return engine.Keygen(ctx, id, parties, threshold, ch)
}

func generateLocal(ctx context.Context, parties []string, threshold int, workers int) ([]*protocol.KeyShare, error) {
	room := transport.NewMemoryRoom()
	defer room.Close()

	shares := make([]*protocol.KeyShare, len(parties))
	errs := make([]error, len(parties))
	var wg sync.WaitGroup
	for i, id := range parties {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			shares[i], errs[i] = generate(ctx, room, "keygen", id, parties, threshold, workers)
		}(i, id)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "key generation failed for party %s", parties[i])
		}
	}
	return shares, nil
}

func writeShare(path string, share *protocol.KeyShare, passphrase string) error {
	var (
		doc []byte
		err error
	)
	if passphrase != "" {
		doc, err = protocol.SealKeyShare(share, passphrase)
	} else {
		log.Warn().Str("party_id", share.ID).Msg("Writing key share unsealed")
		doc, err = protocol.EncodeKeyShare(share)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, doc, 0600); err != nil {
		return errors.Wrapf(err, "failed to write key share %s", path)
	}
	address, err := chain.Address(share.PublicKey)
	if err != nil {
		return err
	}
	log.Info().
		Str("party_id", share.ID).
		Str("path", path).
		Hex("public_key", share.PublicKey).
		Str("address", address.Hex()).
		Msg("Key share written")
	return nil
}
