package rounds

import (
	"net/http"
	"strconv"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/api"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/storage"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func GetRoundRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/rounds/:index", getRoundHandler(s))
}

func getRoundHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		index, err := strconv.ParseUint(c.Param("index"), 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "round index must be an unsigned integer")
		}

		record, err := s.Store.GetRound(ctx, index)
		if err != nil {
			if errors.Is(err, storage.ErrRoundNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "round not found")
			}
			return err
		}

		return c.JSON(http.StatusOK, record)
	}
}
