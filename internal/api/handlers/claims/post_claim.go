package claims

import (
	"io"
	"net/http"
	"strings"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/api"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/auth"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/util"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

const maxClaimBodyBytes = 64 << 10

type PostClaimResponse struct {
	BlockNumber string `json:"blocknumber"`
	Room        string `json:"room"`
}

// PostClaimRoute publishes a claim to the claim room on behalf of a caller.
// With auth enabled the claim travels as the caller's bearer token, which is
// validated here first so that obviously bad claims are rejected synchronously.
func PostClaimRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.POST("/claims", postClaimHandler(s))
}

func postClaimHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		var (
			claim   *auth.BlockClaim
			payload interface{}
			err     error
		)

		if s.Config.Claim.AuthEnabled {
			if s.Claims == nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "claim authentication is not configured")
			}
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			claim, err = s.Claims.Validate(token)
			if err != nil {
				return claimError(err)
			}
			payload = token
		} else {
			body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxClaimBodyBytes))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "failed to read claim body")
			}
			claim, err = auth.DecodePlainClaim(body)
			if err != nil {
				return claimError(err)
			}
			payload = claim
		}

		ch, err := s.Room.Join(ctx, s.Config.Claim.Room)
		if err != nil {
			log.Error().Err(err).Str("room", s.Config.Claim.Room).Msg("Failed to join claim room")
			return err
		}
		defer ch.Close()

		if err := ch.Send(ctx, payload); err != nil {
			log.Error().Err(err).Str("room", s.Config.Claim.Room).Msg("Failed to publish claim")
			return err
		}

		log.Info().Str("blocknumber", claim.BlockNumber).Str("room", s.Config.Claim.Room).Msg("Claim published")

		return c.JSON(http.StatusAccepted, &PostClaimResponse{BlockNumber: claim.BlockNumber, Room: s.Config.Claim.Room})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func claimError(err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidSignature), errors.Is(err, auth.ErrExpired):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
