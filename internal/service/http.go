package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nkeys"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/synadia-labs/workload-probe/internal/config"
)

type RequestId string

const (
	RequestIdKey    RequestId = "request_id"
	RequestIdHeader           = "X-Request-Id"
)

const maxRequestBody = 1 << 20

type Middleware func(http.Handler) http.Handler

type HTTPServer interface {
	Start() error
	Serve(l net.Listener) error
	Shutdown(ctx context.Context) error
	Handler() http.Handler
}

type httpServer struct {
	server *http.Server
	log    zerolog.Logger
}

func (s *httpServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server started")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve accepts connections on l until the server is shut down.
func (s *httpServer) Serve(l net.Listener) error {
	s.log.Info().Str("addr", l.Addr().String()).Msg("http server started")
	err := s.server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *httpServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *httpServer) Handler() http.Handler {
	return s.server.Handler
}

// NewHTTPServer wires the probe routes. ctx is the base of every request
// context, so cancelling it aborts in-flight fetches and commands. It also
// bounds rate limiter cleanup.
func NewHTTPServer(ctx context.Context, cfg *config.HttpConfig, insp Inspector, log zerolog.Logger) (HTTPServer, error) {
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	middlewares := []Middleware{requestIdMiddleware(log), logMiddleware}

	if cfg.RateLimitPerMin > 0 {
		middlewares = append(middlewares, rateLimitMiddleware(ctx, cfg.RateLimitPerMin, cfg.RateLimitBurst))
	}

	if cfg.UseAuth {
		token := cfg.Token
		if token == "" {
			var err error
			token, err = createToken()
			if err != nil {
				return nil, fmt.Errorf("error creating token: %w", err)
			}
			log.Info().Str("token", token).Msg("http server api token, send it as 'Authorization: Bearer <token>'")
		}
		middlewares = append(middlewares, authMiddleware(token))
	}

	mux := http.NewServeMux()

	middleware := func(next http.Handler) http.Handler {
		// Apply middlewares in reverse order so they execute in the correct sequence
		handler := next
		for i := len(middlewares) - 1; i >= 0; i-- {
			handler = middlewares[i](handler)
		}
		return handler
	}

	// ping
	var ping http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(insp.Ping()))
	})
	mux.Handle("GET /ping", middleware(ping))

	// fetch
	var fetchQuery http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		target := q.Get("url")
		if strings.TrimSpace(target) == "" {
			http.Error(w, "url query parameter is required", http.StatusBadRequest)
			return
		}
		screenshot := false
		if v := q.Get("screenshot"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid screenshot value %q", v), http.StatusBadRequest)
				return
			}
			screenshot = b
		}
		writeJSON(w, r, insp.FetchURL(r.Context(), FetchRequest{URL: target, TakeScreenshot: screenshot}))
	})
	mux.Handle("GET /fetch", middleware(fetchQuery))

	var fetchBody http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req FetchRequest
		if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.URL) == "" {
			http.Error(w, `expected request format is {"url": "string", "takeScreenshot": bool}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, r, insp.FetchURL(r.Context(), req))
	})
	mux.Handle("POST /fetch", middleware(fetchBody))

	// run
	var runQuery http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if !q.Has("command") {
			writeJSON(w, r, NotRequested())
			return
		}
		command := q.Get("command")
		if strings.TrimSpace(command) == "" {
			http.Error(w, "command is required", http.StatusBadRequest)
			return
		}
		writeJSON(w, r, insp.RunCommand(r.Context(), command))
	})
	mux.Handle("GET /run", middleware(runQuery))

	var runBody http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RunCommandRequest
		if err := decodeBody(w, r, &req); err != nil {
			http.Error(w, `expected request format is {"commandLine": "string"}`, http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.CommandLine) == "" {
			http.Error(w, "command is required", http.StatusBadRequest)
			return
		}
		writeJSON(w, r, insp.RunCommand(r.Context(), req.CommandLine))
	})
	mux.Handle("POST /run", middleware(runBody))

	return &httpServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%s", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
		},
		log: log,
	}, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("error encoding response")
	}
}

// Unique ID for each request, also attached to the request logger
func requestIdMiddleware(log zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.New().String()
			w.Header().Set(RequestIdHeader, id)

			ctx := context.WithValue(r.Context(), RequestIdKey, id)
			ctx = log.With().Str("request_id", id).Logger().WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Log requests
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := zerolog.Ctx(r.Context())
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request received")

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

// Authorize requests with a Bearer token
func authMiddleware(token string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := r.Header.Get("Authorization")
			if bearer != "Bearer "+token {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Limit each client address to perMin requests per minute with the given burst.
func rateLimitMiddleware(ctx context.Context, perMin, burst int) Middleware {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	clients := make(map[string]*client)
	mu := &sync.Mutex{}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				mu.Lock()
				for ip, c := range clients {
					if time.Since(c.lastSeen) > 3*time.Minute {
						delete(clients, ip)
					}
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			mu.Lock()
			c, ok := clients[ip]
			if !ok {
				c = &client{limiter: rate.NewLimiter(rate.Limit(perMin)/60.0, burst)}
				clients[ip] = c
			}
			c.lastSeen = time.Now()
			mu.Unlock()

			if !c.limiter.Allow() {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Generate a random API token.
func createToken() (string, error) {
	nkey, err := nkeys.CreatePair(nkeys.PrefixByteUser)
	if err != nil {
		return "", fmt.Errorf("error creating nkey pair: %w", err)
	}

	token, err := nkey.PublicKey()
	if err != nil {
		return "", fmt.Errorf("error getting public key: %w", err)
	}

	return string(token), nil
}
