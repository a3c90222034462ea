package api

import (
	"context"
	"net/http"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/auth"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/config"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/protocol"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/round"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/storage"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
	"github.com/dropbox/godropbox/time2"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Router struct {
	Routes     []*echo.Route
	Root       *echo.Group
	Management *echo.Group
	APIV1      *echo.Group
}

// Server is a central struct keeping all the dependencies of a party.
// The components are created by InitNewServer in the right order; Echo and
// Router are attached afterwards by router.Init.
type Server struct {
	Echo   *echo.Echo
	Router *Router

	Config config.Server
	Clock  time2.Clock

	// Redis is nil unless the room or the store is redis-backed.
	Redis     *redis.Client
	Room      transport.Room
	Store     storage.RoundStore
	KeyShare  *protocol.KeyShare
	Engine    *protocol.CMPEngine
	Claims    *auth.ClaimManager
	Sequencer *round.Sequencer
}

func NewServer(config config.Server) *Server {
	s := &Server{
		Config: config,
	}

	return s
}

// Ready reports whether the party is listening for claims.
func (s *Server) Ready() bool {
	if s.Echo == nil || s.Router == nil || s.Sequencer == nil {
		log.Debug().Msg("Server is not fully initialized")
		return false
	}

	return s.Sequencer.Ready()
}

// Start serves the management API and blocks until it is shut down.
func (s *Server) Start() error {
	if s.Echo == nil {
		return errors.New("server is not initialized")
	}
	if !s.Config.Management.Enabled {
		log.Info().Msg("Management server disabled")
		return nil
	}

	if err := s.Echo.Start(s.Config.Management.ListenAddress); err != nil {
		return errors.Wrap(err, "failed to start echo server")
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")
		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	if s.Room != nil {
		log.Debug().Msg("Closing room")
		if err := s.Room.Close(); err != nil && !errors.Is(err, transport.ErrRoomClosed) {
			log.Error().Err(err).Msg("Failed to close room")
			errs = append(errs, err)
		}
	}

	if s.Engine != nil {
		log.Debug().Msg("Stopping signing engine")
		s.Engine.Close()
	}

	if s.Redis != nil {
		log.Debug().Msg("Closing redis connection")
		if err := s.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			log.Error().Err(err).Msg("Failed to close redis connection")
			errs = append(errs, err)
		}
	}

	return errs
}
