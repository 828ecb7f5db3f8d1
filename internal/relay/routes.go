package relay

import (
	"net/http"

	"github.com/BioHazard786/roomlink/internal/signaling"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Peers are CLI processes and browsers on arbitrary origins.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewServer builds the relay's HTTP surface: the websocket endpoint, a
// health check and the Prometheus metrics.
func NewServer(hub *Hub, logger zerolog.Logger) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.GET("/ws", ServeWs(hub, logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return e
}

// ServeWs upgrades the request and attaches the connection to hub.
func ServeWs(hub *Hub, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			hub.log.Warn().Err(err).Msg("failed to upgrade connection")
			return nil
		}

		if !hub.Attach(signaling.NewConn(conn, logger)) {
			hub.log.Debug().Msg("hub stopped, connection dropped")
		}
		return nil
	}
}

// NewMetricsServer serves only /metrics and /health, for deployments that
// keep scraping off the public port.
func NewMetricsServer() *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return e
}
