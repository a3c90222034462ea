package rounds

import (
	"net/http"
	"strconv"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/api"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/storage"
	"github.com/labstack/echo/v4"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type ListRoundsResponse struct {
	Rounds []*storage.RoundRecord `json:"rounds"`
	Limit  int                    `json:"limit"`
}

func GetListRoundsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/rounds", getListRoundsHandler(s))
}

func getListRoundsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		limit := defaultListLimit
		if limitStr := c.QueryParam("limit"); limitStr != "" {
			l, err := strconv.Atoi(limitStr)
			if err != nil || l <= 0 {
				return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
			}
			limit = l
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}

		records, err := s.Store.ListRounds(ctx, limit)
		if err != nil {
			return err
		}
		if records == nil {
			records = []*storage.RoundRecord{}
		}

		return c.JSON(http.StatusOK, &ListRoundsResponse{Rounds: records, Limit: limit})
	}
}
