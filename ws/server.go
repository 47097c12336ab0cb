package ws

import (
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/parley"
	"github.com/luciancaetano/parley/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type RoomListerFn = websocket.RoomListerFn
type ServerConfig = *websocket.ServerConfig

// New creates a WebSocket chat transport with rate limiting and connection callbacks.
//
// Example:
//
//	cfg := ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), lc.OnConnect, lc.OnDisconnect)
//	cfg.RoomLister = registry.ListCodes
//	server := ws.New(cfg)
//	server.SetMessageHandler(dispatcher.HandleMessage)
func New(cfg ServerConfig) parley.Server {
	return websocket.New(cfg)
}

// NewConfig builds a ServerConfig. Optional fields (MaxMessageSize,
// AllowedOrigins, RoomLister, Logger) can be set on the result.
func NewConfig(addr string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onDisconnect OnDisconnectFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:               addr,
		RateLimitConfig:    rateLimitConfig,
		CheckOrigin:        checkOrigin,
		OnConnect:          onConnect,
		OnClientDisconnect: onDisconnect,
	}
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// OriginList allows requests whose Origin matches one of origins by scheme
// and host, case-insensitively. "*" allows everything. Requests without an
// Origin header come from non-browser clients and are allowed.
func OriginList(origins []string) CheckOriginFn {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return AllOrigins()
		}
		if normalized, ok := normalizeOrigin(o); ok {
			allowed[normalized] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		header := r.Header.Get("Origin")
		if header == "" {
			return true
		}
		normalized, ok := normalizeOrigin(header)
		if !ok {
			return false
		}
		_, exists := allowed[normalized]
		return exists
	}
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

// RateLimit returns an enabled configuration allowing perSecond messages
// with the given burst.
func RateLimit(perSecond float64, burst int) *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: rate.Limit(perSecond),
		Burst:             burst,
		Enabled:           true,
	}
}
