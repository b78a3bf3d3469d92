package server

import (
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// originChecker allows same-origin, localhost and private-network pages.
func originChecker(log zerolog.Logger) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Same-origin requests omit the Origin header
		if origin == "" {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil {
			log.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: invalid origin")
			return false
		}

		host := u.Hostname()
		if host == "localhost" {
			return true
		}

		requestHost := r.Host
		if h, _, err := net.SplitHostPort(requestHost); err == nil {
			requestHost = h
		}
		if host == requestHost {
			return true
		}

		if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
			return true
		}

		log.Warn().Str("origin", origin).Msg("Rejected WebSocket connection")
		return false
	}
}

func newUpgrader(log zerolog.Logger) *websocket.Upgrader {
	return &websocket.Upgrader{CheckOrigin: originChecker(log)}
}
