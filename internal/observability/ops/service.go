// Package ops serves the operator HTTP endpoints: liveness, readiness with
// a JSON status body, and optionally net/http/pprof.
//
// Security: bind to loopback (the default) or set Token. A non-loopback
// address without a token is refused unless AllowInsecure is set.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	rtsup "datealerts/internal/runtime/supervisor"
	logx "datealerts/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	Pprof       bool
	PprofPrefix string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
}

// Probe reports readiness. The status value is rendered as JSON either way;
// a non-nil error turns the response into 503.
type Probe func(ctx context.Context) (status any, err error)

type Service struct {
	mu    sync.Mutex
	log   logx.Logger
	cfg   Config
	probe Probe

	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, probe Probe, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, probe: probe, log: log.With(logx.String("comp", "ops"))}
}

// Addr is the bound listener address, empty when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Apply starts, stops or restarts the server as cfg requires. Safe during
// hot reload.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
	case !running:
		s.Start(ctx)
	case needsRestart(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.Pprof != b.Pprof ||
		normalizePrefix(a.PprofPrefix) != normalizePrefix(b.PprofPrefix) ||
		a.ReadTimeout != b.ReadTimeout || a.WriteTimeout != b.WriteTimeout || a.IdleTimeout != b.IdleTimeout
}

func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Start listens synchronously so Addr is valid on return, then serves
// under a supervisor. Bind errors are logged; the app keeps running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	cur := s.cfg
	if s.sup != nil || !cur.Enabled {
		return
	}

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cur.Token == "" && !isLoopbackAddr(addr) {
		if !cur.AllowInsecure {
			s.log.Error("ops server refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
			return
		}
		s.log.Warn("ops server running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("ops listen failed", logx.String("addr", addr), logx.Err(err))
		return
	}
	srv := &http.Server{
		Handler:      s.routes(cur),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}
	sup := rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.ln, s.srv, s.sup = ln, srv, sup

	sup.Go("http.serve", func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops server exited", logx.Err(err))
			return err
		}
		return nil
	})
	s.log.Info("ops server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", cur.Pprof), logx.Bool("token_set", cur.Token != ""))
}

// Stop shuts the server down gracefully until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, sup := s.srv, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(sctx); err != nil {
			_ = srv.Close()
		}
		cancel()
		_ = sup.Stop(context.Background())

		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("ops server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (s *Service) routes(cur Config) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cur.Token, h) }

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", wrap(s.handleReady))

	if cur.Pprof {
		prefix := normalizePrefix(cur.PprofPrefix)
		base := strings.TrimSuffix(prefix, "/")
		mux.HandleFunc(prefix, wrap(pprofIndexAt(prefix)))
		mux.HandleFunc(base+"/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc(base+"/profile", wrap(hpprof.Profile))
		mux.HandleFunc(base+"/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc(base+"/trace", wrap(hpprof.Trace))
		mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
		})
	}
	return mux
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"ok": true}
	code := http.StatusOK
	if s.probe != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		status, err := s.probe(ctx)
		cancel()
		body["status"] = status
		if err != nil {
			code = http.StatusServiceUnavailable
			body["ok"] = false
			body["error"] = err.Error()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(body)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprofIndexAt serves pprof.Index, which expects /debug/pprof/, under prefix.
func pprofIndexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
