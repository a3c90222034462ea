package key

import (
	"net/http"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/api"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/chain"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/labstack/echo/v4"
)

// Response describes the aggregate key this party signs with. Address is the
// EVM account that ecrecover yields for the round signatures.
type Response struct {
	PartyID   string   `json:"party_id"`
	Signers   []string `json:"signers"`
	Threshold int      `json:"threshold"`
	PublicKey string   `json:"public_key"`
	Address   string   `json:"address"`
}

func GetKeyRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/key", getKeyHandler(s))
}

func getKeyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		share := s.KeyShare
		if share == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "no key share loaded")
		}

		address, err := chain.Address(share.PublicKey)
		if err != nil {
			return err
		}

		signers := s.Config.MPC.SignerIDs
		if len(signers) == 0 {
			signers = share.Signers
		}

		return c.JSON(http.StatusOK, &Response{
			PartyID:   share.ID,
			Signers:   signers,
			Threshold: share.Threshold,
			PublicKey: hexutil.Encode(share.PublicKey),
			Address:   address.Hex(),
		})
	}
}
