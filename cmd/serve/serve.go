package serve

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/api"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/api/router"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

type flags struct {
	keySharePath   string
	listenAddress  string
	transport      string
	noAuth         bool
	submitEndpoint string
}

func New() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run this party: listen for claims and take part in signing rounds",
		Long: `Runs the round sequencer and the management HTTP server.

Configuration is read from the environment; the flags below override the most
common settings.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()
			applyFlags(cmd, &cfg, f)
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&f.keySharePath, "key-share", "", "Path of the local key share document (MPC_KEY_SHARE_PATH)")
	cmd.Flags().StringVar(&f.listenAddress, "listen", "", "Management HTTP listen address (SERVER_MANAGEMENT_LISTEN_ADDRESS)")
	cmd.Flags().StringVar(&f.transport, "transport", "", "Room transport: redis, libp2p or memory (TRANSPORT_KIND)")
	cmd.Flags().BoolVar(&f.noAuth, "no-auth", false, "Accept plain JSON claims instead of signed tokens")
	cmd.Flags().StringVar(&f.submitEndpoint, "submit-endpoint", "", "Relay endpoint; enables submission (SUBMISSION_ENDPOINT)")

	return cmd
}

func applyFlags(cmd *cobra.Command, cfg *config.Server, f flags) {
	if cmd.Flags().Changed("key-share") {
		cfg.MPC.KeySharePath = f.keySharePath
	}
	if cmd.Flags().Changed("listen") {
		cfg.Management.ListenAddress = f.listenAddress
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport.Kind = config.TransportKind(f.transport)
	}
	if f.noAuth {
		cfg.Claim.AuthEnabled = false
	}
	if cmd.Flags().Changed("submit-endpoint") {
		cfg.Submission.Endpoint = f.submitEndpoint
		cfg.Submission.Enabled = f.submitEndpoint != ""
	}
}

func run(parent context.Context, cfg config.Server) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := api.InitNewServer(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "failed to initialize server")
	}
	router.Init(s)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Sequencer.Run(gctx)
	})
	g.Go(func() error {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errs := s.Shutdown(shutdownCtx); len(errs) > 0 {
			log.Error().Errs("errors", errs).Msg("Encountered errors during shutdown")
		}
		return nil
	})

	// A stopped sequencer ends the group, which shuts the HTTP server down.
	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Server stopped")
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}
