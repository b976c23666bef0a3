package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/fastvm/internal/hostnet"
)

// listBridges handles GET /api/v1/host/bridges
// @Summary List bridges
// @Description List the bridges a bridged network may join
// @Tags Host
// @Produce json
// @Success 200 {object} InterfacesResponse "Bridges"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/host/bridges [get]
func (s *Server) listBridges(c echo.Context) error {
	bridges, err := s.engine.Bridges()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, interfacesResponse(bridges))
}

// listInterfaces handles GET /api/v1/host/interfaces
// @Summary List interfaces
// @Description List the host links a macvtap network may use
// @Tags Host
// @Produce json
// @Success 200 {object} InterfacesResponse "Interfaces"
// @Failure 500 {object} APIError "Internal server error"
// @Router /api/v1/host/interfaces [get]
func (s *Server) listInterfaces(c echo.Context) error {
	ifaces, err := s.engine.Interfaces()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, interfacesResponse(ifaces))
}

func interfacesResponse(ifaces []hostnet.Interface) InterfacesResponse {
	if ifaces == nil {
		ifaces = []hostnet.Interface{}
	}
	return InterfacesResponse{Count: len(ifaces), Interfaces: ifaces}
}
