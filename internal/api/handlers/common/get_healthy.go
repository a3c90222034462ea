package common

import (
	"net/http"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/api"
	"github.com/labstack/echo/v4"
)

// GetHealthyRoute answers as long as the process serves HTTP.
func GetHealthyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/healthy", getHealthyHandler(s))
}

func getHealthyHandler(_ *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, "Healthy.")
	}
}
