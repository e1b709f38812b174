// Package server orchestrates all components: the HTTP and COMMS transport
// adapters, the dispatcher, the optional audit store, and event publishing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rpc-dispatch/internal/config"
	"github.com/morezero/rpc-dispatch/pkg/commsutil"
	"github.com/morezero/rpc-dispatch/pkg/db"
	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
	"github.com/morezero/rpc-dispatch/pkg/envelope"
	"github.com/morezero/rpc-dispatch/pkg/events"
	"github.com/morezero/rpc-dispatch/pkg/procedure"
	"github.com/morezero/rpc-dispatch/pkg/registry"
)

const logPrefix = "server:server"

// maxPayloadBytes bounds the request body read by the HTTP adapter.
const maxPayloadBytes = 1 << 20

// Server is the rpc-dispatch orchestrator.
type Server struct {
	cfg        *config.Config
	disp       *dispatcher.Dispatcher
	reg        *registry.Registry
	store      *db.Store
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
}

// newServer wires a Server from already-built components. Run uses it; tests
// use it directly with in-memory components.
func newServer(cfg *config.Config, disp *dispatcher.Dispatcher, reg *registry.Registry, store *db.Store) *Server {
	return &Server{cfg: cfg, disp: disp, reg: reg, store: store}
}

// Run starts the server for the given registry, blocks until shutdown
// signal, then cleans up.
func Run(reg *registry.Registry) error {
	var logLevel slog.Level
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info(fmt.Sprintf("%s - Starting rpc-dispatch", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg, reg: reg}

	// Step 1: Connect to COMMS if configured
	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc = nc
		defer nc.Drain()
	}

	// Step 2: Connect to database if the audit log is configured
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		s.pool = pool
		defer pool.Close()

		if cfg.RunMigrations {
			migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		s.store = db.NewStore(pool)
	}

	// Step 3: Build the completion event publisher chain
	var publishers events.MultiPublisher
	if s.nc != nil {
		opts := &events.CommsPublisherOpts{}
		if cfg.DispatchEventSubject != "" {
			opts.GlobalSubject = cfg.DispatchEventSubject
		}
		publishers = append(publishers, events.NewCommsPublisher(s.nc, opts))
	}
	if s.store != nil {
		publishers = append(publishers, s.store)
	}
	var publisher events.Publisher = &events.NoOpPublisher{}
	if len(publishers) > 0 {
		publisher = publishers
	}

	// Step 4: Create the dispatcher (HTTP verb table)
	dispOpts := dispatcher.Options{
		Registry:            reg,
		SubscriptionTimeout: cfg.SubscriptionTimeout,
		ExposeStack:         cfg.ExposeStack(),
		Publisher:           publisher,
	}
	s.disp = dispatcher.New(dispOpts)

	// Step 5: Subscribe the COMMS adapter (its own verb table)
	if s.nc != nil {
		commsOpts := dispOpts
		commsOpts.VerbMap = CommsVerbMap()
		adapter := NewCommsAdapter(dispatcher.New(commsOpts), cfg.RPCSubject, cfg.RequestTimeout)
		sub, err := adapter.Subscribe(ctx, s.nc)
		if err != nil {
			return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, cfg.RPCSubject, err)
		}
		defer sub.Unsubscribe()
		slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, cfg.RPCSubject))
	}

	// Step 6: Start the HTTP adapter
	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.routes()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - rpc-dispatch is ready (%d procedures)", logPrefix, reg.Len()))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	s.httpServer.Shutdown(ctx)

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// routes builds the HTTP mux: the /rpc/ dispatch surface plus health and
// index pages.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc/", s.handleRPC())
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	return mux
}

// handleRPC adapts one HTTP request into a dispatch request. The verb is the
// HTTP method, the path is everything after /rpc/, the payload is the body
// (or the "input" query parameter for bodiless GETs), and the request
// context's done channel doubles as the client disconnect signal.
func (s *Server) handleRPC() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/rpc/")
		if path == "" {
			http.NotFound(w, r)
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - body read failed: %v", logPrefix, err))
			writeEnvelope(w, envelope.FromError(procedure.NewValidation("Invalid request payload"), false))
			return
		}
		if len(payload) == 0 {
			if input := r.URL.Query().Get("input"); input != "" {
				payload = []byte(input)
			}
		}

		req := &dispatcher.Request{
			Verb:       r.Method,
			Path:       path,
			Payload:    payload,
			ClientGone: r.Context().Done(),
			Meta: map[string]string{
				"remoteAddr": r.RemoteAddr,
				"userAgent":  r.UserAgent(),
			},
		}

		env := s.disp.Handle(r.Context(), req)
		if env == nil {
			// Client disconnected mid-subscription; nothing to write.
			return
		}
		writeEnvelope(w, env)
	}
}

func writeEnvelope(w http.ResponseWriter, env *envelope.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.StatusCode)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error(fmt.Sprintf("%s - envelope encode: %v", logPrefix, err))
	}
}

// healthOutput is the /health response body.
type healthOutput struct {
	Status string       `json:"status"`
	Checks healthChecks `json:"checks"`
}

type healthChecks struct {
	Database *bool `json:"database,omitempty"`
	COMMS    *bool `json:"comms,omitempty"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		out := healthOutput{Status: "healthy"}
		if s.store != nil {
			ok := s.store.Ping(ctx) == nil
			out.Checks.Database = &ok
			if !ok {
				out.Status = "unhealthy"
			}
		}
		if s.nc != nil {
			ok := s.nc.Status() == comms.CONNECTED
			out.Checks.COMMS = &ok
			if !ok {
				out.Status = "unhealthy"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if out.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(out)
	}
}

// homePageTemplate is the HTML for the dispatch index page (white bg,
// black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>RPC Dispatch</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    .ok { color: #0066cc; font-weight: bold; }
    .failed { color: #cc0000; font-weight: bold; }
    section { margin-bottom: 2rem; }
    code { background: #f5f5f5; padding: 0.1rem 0.3rem; }
  </style>
</head>
<body>
  <h1>RPC Dispatch</h1>
  <p class="meta">Registered procedures and recent dispatches. Call procedures at <code>/rpc/&lt;path&gt;</code>.</p>

  {{range .Categories}}
  <section>
    <h2>{{.Name}} ({{.Verb}})</h2>
    {{if not .Paths}}
    <p>No procedures registered.</p>
    {{else}}
    <table>
      <thead><tr><th>Path</th></tr></thead>
      <tbody>
        {{range .Paths}}<tr><td><code>{{.}}</code></td></tr>{{end}}
      </tbody>
    </table>
    {{end}}
  </section>
  {{end}}

  {{if .AuditEnabled}}
  <section>
    <h2>Recent dispatches</h2>
    {{if .AuditError}}
    <p class="failed">Could not load dispatch log: {{.AuditError}}</p>
    {{else if not .Recent}}
    <p>No dispatches recorded.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Category</th><th>Path</th><th>Verb</th><th>Status</th><th>Duration</th><th>When</th></tr>
      </thead>
      <tbody>
        {{range .Recent}}
        <tr>
          <td>{{.Category}}</td>
          <td><code>{{.Path}}</code></td>
          <td>{{.Verb}}</td>
          <td>{{if .Ok}}<span class="ok">{{.StatusCode}}</span>{{else}}<span class="failed">{{.StatusCode}}</span>{{end}}</td>
          <td>{{.DurationMs}}ms</td>
          <td>{{.Created.Format "2006-01-02 15:04:05"}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
  {{end}}
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Categories   []categorySection
	AuditEnabled bool
	AuditError   string
	Recent       []db.LogEntry
}

type categorySection struct {
	Name  string
	Verb  string
	Paths []string
}

// handleHome returns an HTTP handler for the dispatch index page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		data := homeData{
			Categories: []categorySection{
				{Name: "Queries", Verb: http.MethodGet, Paths: s.reg.Paths(procedure.CategoryQuery)},
				{Name: "Mutations", Verb: http.MethodPost, Paths: s.reg.Paths(procedure.CategoryMutation)},
				{Name: "Subscriptions", Verb: http.MethodPatch, Paths: s.reg.Paths(procedure.CategorySubscription)},
			},
		}

		if s.store != nil {
			data.AuditEnabled = true
			ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
			defer cancel()
			recent, err := s.store.RecentEntries(ctx, 50)
			if err != nil {
				data.AuditError = err.Error()
			} else {
				data.Recent = recent
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
