// Package admin implements cmd/cacheadmin's runtime control surface: a
// go-chi HTTP API exposing resize/change_param/stats over the key
// cache, a gorilla/websocket stream of live stats snapshots, and a
// prometheus /metrics endpoint. Router idiom (chi.NewRouter,
// chimiddleware.Recoverer/RequestID) grounded on interfaces/http/rest/router.go
// from the 2lar-b2 repo, since the buffer pool's own MySQL wire
// protocol predates go-chi and exposes no admin surface of its own.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhukovaskychina/keycache/internal/certifier"
	"github.com/zhukovaskychina/keycache/internal/keycache"
)

// Server is the admin HTTP surface bound to a single key cache
// controller and its companion certifier.
type Server struct {
	cache     *keycache.Controller
	certifier *certifier.Certifier
	metrics   *metricsCollector
	router    chi.Router
}

// New wires the admin routes: GET /stats, POST /resize,
// POST /change_param, GET /ws/stats, and GET /metrics for Prometheus
// scraping.
func New(cache *keycache.Controller, cert *certifier.Certifier) *Server {
	s := &Server{
		cache:     cache,
		certifier: cert,
		metrics:   newMetricsCollector(cache, cert),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/resize", s.handleResize)
	r.Post("/change_param", s.handleChangeParam)
	r.Get("/ws/stats", s.handleStatsStream)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	s.router = r
	return s
}

// Handler returns the http.Handler to mount (or serve directly). The
// caller (cmd/cacheadmin) owns the *http.Server so it can call
// Shutdown on the same signal path it listens for.
func (s *Server) Handler() http.Handler { return s.router }

type statsResponse struct {
	Cache     keycache.Snapshot `json:"cache"`
	Certifier certifier.Stats   `json:"certifier"`
}

func (s *Server) snapshot() statsResponse {
	resp := statsResponse{Cache: s.cache.Stats()}
	if s.certifier != nil {
		resp.Certifier = s.certifier.Stats()
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

type resizeRequest struct {
	BlockSize       int `json:"block_size"`
	MemorySize      int `json:"memory_size"`
	DivisionLimit   int `json:"division_limit"`
	AgeThresholdPct int `json:"age_threshold_pct"`
}

// handleResize live-resizes the cache. Callers are responsible for
// not racing concurrent resize requests; the handler itself does not
// queue or reject overlapping calls.
func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	blocks, err := s.cache.Resize(keycache.Config{
		BlockSize:       req.BlockSize,
		MemorySize:      req.MemorySize,
		DivisionLimit:   req.DivisionLimit,
		AgeThresholdPct: req.AgeThresholdPct,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"blocks": blocks})
}

type changeParamRequest struct {
	DivisionLimit   int `json:"division_limit"`
	AgeThresholdPct int `json:"age_threshold_pct"`
}

// handleChangeParam live-reconfigures the midpoint-insertion policy
// (division_limit/age_threshold) without touching the block pool.
func (s *Server) handleChangeParam(w http.ResponseWriter, r *http.Request) {
	var req changeParamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.cache.ChangeParam(req.DivisionLimit, req.AgeThresholdPct)
	writeJSON(w, http.StatusOK, s.snapshot())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
