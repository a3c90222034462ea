package claim

import (
	"context"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/api"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/config"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const sendTimeout = 30 * time.Second

func newSend() *cobra.Command {
	var (
		f     claimFlags
		token string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish one claim to the claim room",
		Long: `Publishes one claim to the claim room of the configured transport.

With claim auth enabled the claim travels as a token: either --token, or one
issued here from the claim flags. With auth disabled the claim is sent as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()

			var payload interface{}
			if cfg.Claim.AuthEnabled {
				if token == "" {
					issued, err := issueToken(cfg, &f)
					if err != nil {
						return err
					}
					token = issued
				}
				payload = token
			} else {
				claim, err := f.claim()
				if err != nil {
					return err
				}
				payload = claim
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
			defer cancel()
			return send(ctx, cfg, payload)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&token, "token", "", "Pre-issued claim token")

	return cmd
}

func send(ctx context.Context, cfg config.Server, payload interface{}) error {
	if cfg.Transport.Kind == config.TransportMemory {
		return errors.New("the memory transport cannot reach other processes")
	}

	var client *redis.Client
	if cfg.Transport.Kind == config.TransportRedis {
		var err error
		client, err = api.NewRedisClient(ctx, cfg.Transport)
		if err != nil {
			return err
		}
		defer client.Close()
	}

	room, err := api.NewRoom(ctx, cfg, client, "", cfg.MPC.SignerIDs)
	if err != nil {
		return err
	}
	defer room.Close()

	return publish(ctx, room, cfg.Claim.Room, payload)
}

func publish(ctx context.Context, room transport.Room, name string, payload interface{}) error {
	ch, err := room.Join(ctx, name)
	if err != nil {
		return errors.Wrapf(err, "failed to join claim room %s", name)
	}
	defer ch.Close()

	if err := ch.Send(ctx, payload); err != nil {
		return errors.Wrap(err, "failed to publish claim")
	}

	log.Info().Str("room", name).Uint16("party_index", ch.Index()).Msg("Claim published")
	return nil
}
