package handlers

import (
	"github.com/HerodotusDev/multi-party-ecdsa/internal/api"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/api/handlers/claims"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/api/handlers/common"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/api/handlers/key"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/api/handlers/rounds"
	"github.com/labstack/echo/v4"
)

func AttachAllRoutes(s *api.Server) {
	s.Router.Routes = []*echo.Route{
		common.GetHealthyRoute(s),
		common.GetReadyRoute(s),
		common.GetMetricsRoute(s),
		rounds.GetListRoundsRoute(s),
		rounds.GetRoundRoute(s),
		claims.PostClaimRoute(s),
		key.GetKeyRoute(s),
	}
}
