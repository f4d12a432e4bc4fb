package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"stationd/native/station"
	"stationd/native/station/collab"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const maxRequestBytes = 1 << 20 // 1 MiB request body ceiling

// handlerFunc answers one dispatched method call. params is the raw
// "params" field of the request, still to be unmarshalled by the
// handler into whatever shape it expects.
type handlerFunc func(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage)

// Server is the JSON-RPC 2.0 HTTP surface over a station.Engine.
type Server struct {
	Engine *station.Engine
	Auth   AuthConfig
	Bc     collab.BlockchainAdapter
	Cm     collab.CanisterManager
	Logger interface {
		Warn(msg string, args ...any)
	}

	limiter *principalLimiter
	router  chi.Router
	methods map[string]handlerFunc

	// cmdCh serializes every engine-touching call onto a single goroutine
	// (Run), matching a single-threaded cooperative scheduling model:
	// net/http may dispatch handlers concurrently, but no two of them may
	// read/mutate Engine/Repos at once.
	cmdCh chan func()
}

// NewServer wires a chi router with the full method dispatch table.
// rateLimit/burst configure the per-principal token bucket.
func NewServer(engine *station.Engine, auth AuthConfig, bc collab.BlockchainAdapter, cm collab.CanisterManager, rateLimit rate.Limit, burst int) *Server {
	s := &Server{
		Engine:  engine,
		Auth:    auth,
		Bc:      bc,
		Cm:      cm,
		limiter: newPrincipalLimiter(rateLimit, burst),
		cmdCh:   make(chan func()),
	}
	s.methods = s.buildMethods()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/rpc", s.handle)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Run owns the single goroutine that ever touches Engine/Repos: it drains
// cmdCh (one closure per dispatched RPC call) and fires Tick on
// tickInterval, interleaved on the same loop so a tick never races a
// request. Run blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, tickInterval time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.cmdCh:
			fn()
		case <-ticker.C:
			_ = s.Engine.Tick()
		}
	}
}

// submit hands fn to the Run goroutine and blocks until it has executed.
func (s *Server) submit(fn func()) {
	done := make(chan struct{})
	s.cmdCh <- func() {
		fn()
		close(done)
	}
	<-done
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body")
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload")
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required")
		return
	}

	ctx, err := s.Auth.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeAuthorization, "authentication failed")
		return
	}

	if !s.limiter.Allow(ctx.Principal) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded")
		return
	}

	h, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "unknown method "+req.Method)
		return
	}
	s.submit(func() { h(w, req.ID, ctx, req.Params) })
}

