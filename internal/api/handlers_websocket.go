package api

import (
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"evalgo.org/fastvm/internal/console"
)

// upgrader builds a WebSocket upgrader offering subprotocols and checking
// the origin against the configured CORS origins.
func (s *Server) upgrader(subprotocols ...string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		Subprotocols:    subprotocols,
		CheckOrigin:     s.checkOrigin,
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.Security.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// HandleConsole handles GET /ws/console/:id
//
// The display connection is opened before the upgrade so that a stopped VM
// or an unreachable display is reported as a plain HTTP error.
// @Summary Console display relay
// @Description Relay the display of a running VM over a binary WebSocket
// @Tags Consoles
// @Produce json
// @Param id path string true "VM ID"
// @Success 101 {string} string "Switching Protocols"
// @Failure 404 {object} APIError "VM not found"
// @Failure 409 {object} APIError "VM is not running"
// @Failure 503 {object} APIError "Session limit reached or display unreachable"
// @Router /ws/console/{id} [get]
func (s *Server) HandleConsole(c echo.Context) error {
	vmID := c.Param("id")
	session, err := s.engine.OpenConsole(c.Request().Context(), vmID)
	if err != nil {
		return err
	}

	ws, err := s.upgrader(console.Subprotocol).Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		session.Close()
		s.log.WithError(err).WithField("vm", vmID).Warn("console upgrade failed")
		return nil
	}

	if err := session.Serve(ws); err != nil {
		s.log.WithError(err).WithField("vm", vmID).Debug("console session ended")
	}
	return nil
}

// HandleMetrics handles GET /ws/metrics
//
// Every sampler tick is pushed to the subscriber until it disconnects or
// falls too far behind.
// @Summary Live metrics
// @Description Push every telemetry frame over a WebSocket
// @Tags Metrics
// @Produce json
// @Success 101 {string} string "Switching Protocols"
// @Router /ws/metrics [get]
func (s *Server) HandleMetrics(c echo.Context) error {
	ws, err := s.upgrader().Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.WithError(err).Warn("metrics upgrade failed")
		return nil
	}
	s.engine.SubscribeMetrics(c.Request().Context(), ws)
	return nil
}
