package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/middleware"
)

// RouterConfig carries what NewRouter needs besides the transport.
type RouterConfig struct {
	Checker        *health.Checker
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	AllowOrigins   []string
	RequestTimeout time.Duration
}

// NewRouter builds the gateway HTTP handler.
//
// Route table:
//
//	GET /ws                → WebSocket session
//	GET /api/v1/sessions   → active session count
//	GET /health/live       → liveness
//	GET /health/ready      → readiness
//	GET /metrics           → Prometheus
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → CORS → [Timeout, API routes only] → handler
func NewRouter(t *Transport, sessions *Sessions, cfg RouterConfig) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"active_sessions": sessions.Count()})
	})
	cfg.Checker.Mount(api)
	if cfg.Gatherer != nil {
		api.Handle("GET /metrics", metrics.Handler(cfg.Gatherer))
	}

	var apiChain http.Handler = api
	if cfg.RequestTimeout > 0 {
		apiChain = pkgmw.Timeout(cfg.RequestTimeout)(apiChain)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", t)
	mux.Handle("/", apiChain)

	var chain http.Handler = mux
	chain = pkgmw.CORS(pkgmw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:       86400,
	})(chain)
	chain = pkgmw.Metrics(cfg.Metrics)(chain)
	chain = pkgmw.RequestID(chain)
	return chain
}
