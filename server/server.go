// Package server is the HTTP front of the player: the playback socket, the Spotify login, metrics
// and the static files of the web client.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

const stateLifetime = 10 * time.Minute

// Credentials is the login side of the Spotify credential manager.
type Credentials interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) error
}

type Config struct {
	// PublicDir holds the web client. Its build directory is fingerprinted and cached for a year.
	PublicDir      string
	AllowedOrigins []string
}

type Server struct {
	socket http.Handler
	creds  Credentials
	cfg    Config
	log    logrus.FieldLogger

	mu     sync.Mutex
	states map[string]time.Time
}

func New(socket http.Handler, creds Credentials, cfg Config, logger logrus.FieldLogger) *Server {
	if cfg.PublicDir == "" {
		cfg.PublicDir = "public"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		socket: socket,
		creds:  creds,
		cfg:    cfg,
		log:    logger,
		states: make(map[string]time.Time),
	}
}

// Handler wires all routes. Everything but the socket is compressed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/login", s.login)
	mux.HandleFunc("/callback", s.callback)
	mux.Handle("/build/", http.StripPrefix("/build/", static(filepath.Join(s.cfg.PublicDir, "build"), 365*24*time.Hour, true)))
	mux.Handle("/", static(s.cfg.PublicDir, time.Hour, false))

	root := http.NewServeMux()
	root.Handle("/socket", s.socket)
	root.Handle("/", gzhttp.GzipHandler(mux))

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: origins,
	})
	return accessLog(c.Handler(root), s.log)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	state, err := s.newState()
	if err != nil {
		s.log.Errorf("Could not create a login state: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, s.creds.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !s.takeState(q.Get("state")) {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		s.log.Warnf("Spotify authorization failed: %s", q.Get("error"))
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	if err := s.creds.Exchange(r.Context(), code); err != nil {
		s.log.Errorf("Spotify login failed: %v", err)
		http.Error(w, "Token exchange failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Logged in to Spotify. You can close this window.")
}

func (s *Server) newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, expires := range s.states {
		if now.After(expires) {
			delete(s.states, k)
		}
	}
	s.states[state] = now.Add(stateLifetime)
	return state, nil
}

// takeState consumes a state handed out by login. Every state is good for one callback.
func (s *Server) takeState(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return time.Now().Before(expires)
}

func static(dir string, maxAge time.Duration, immutable bool) http.Handler {
	cacheControl := fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds()))
	if immutable {
		cacheControl += ", immutable"
	}
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", cacheControl)
		files.ServeHTTP(w, r)
	})
}

// Start serves handler on addr until the context is cancelled.
func Start(ctx context.Context, addr string, handler http.Handler, logger logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("HTTP server shutdown error: %v", err)
		}
	}()

	logger.Infof("Server listening on %v", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
