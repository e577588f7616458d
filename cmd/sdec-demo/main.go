// Command sdec-demo replicates a toy simulation over a websocket loop.
// Run it with no flags to serve: it steps a small orbital world and
// streams snapshots and deltas to every connected peer, exposing the
// schema document on /schema and Prometheus metrics on /metrics. Run it
// with -connect against a serving instance to act as the receiving peer
// and log the applied state.
//
// The binary exists to exercise the public codec API end to end; the
// core library stays transport-agnostic.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sdec-dev/sdec/pkg/codec"
	"github.com/sdec-dev/sdec/pkg/replicator"
	"github.com/sdec-dev/sdec/pkg/schema"
	"github.com/sdec-dev/sdec/pkg/schemadoc"
	"github.com/sdec-dev/sdec/pkg/wire"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file (optional)")
		addr       = flag.String("addr", "", "listen address (overrides config)")
		connect    = flag.String("connect", "", "run as a client against the given ws:// URL instead of serving")
		mode       = flag.String("mode", "", "header mode: standard or compact (overrides config)")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := defaultDemoConfig()
	if *configPath != "" {
		loaded, err := loadDemoConfig(*configPath)
		if err != nil {
			logger.Error("config load failed", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *mode != "" {
		m, err := parseHeaderMode(*mode)
		if err != nil {
			logger.Error("bad -mode flag", "error", err)
			os.Exit(1)
		}
		cfg.Mode = m
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if *connect != "" {
		err = runClient(ctx, *connect, cfg, logger)
	} else {
		err = runServer(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("demo exited", "error", err)
		os.Exit(1)
	}
}

func worldSchema() (*schema.Schema, error) {
	return schemadoc.Parse([]byte(worldSchemaDoc), wire.DefaultLimits())
}

// server streams the shared world to every websocket peer. Each
// connection owns its replicator and session; the world is the only
// shared state.
type server struct {
	cfg      demoConfig
	world    *world
	schema   *schema.Schema
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	log      *slog.Logger
	connSeq  atomic.Uint64
}

func runServer(ctx context.Context, cfg demoConfig, logger *slog.Logger) error {
	sch, err := worldSchema()
	if err != nil {
		return fmt.Errorf("build world schema: %w", err)
	}

	s := &server{
		cfg:      cfg,
		world:    newWorld(cfg.Entities),
		schema:   sch,
		registry: prometheus.NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: wire.DefaultLimits().MaxPacketBytes,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logger.With("component", "demo-server"),
	}

	go s.stepLoop(ctx)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	r.Get("/schema", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, worldSchemaDoc)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/ws", s.handleWS)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("serving", "addr", cfg.Addr, "entities", cfg.Entities, "tick_interval", cfg.TickInterval, "mode", cfg.Mode)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *server) stepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.world.step()
		}
	}
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := s.connSeq.Add(1)
	log := s.log.With("conn", connID)

	rep, err := replicator.New(s.schema,
		replicator.WithMode(s.cfg.Mode),
		replicator.WithLogger(log),
		replicator.WithMetrics(s.registry),
		replicator.WithConstLabels(prometheus.Labels{"conn": fmt.Sprint(connID)}),
	)
	if err != nil {
		log.Error("replicator setup failed", "error", err)
		return
	}

	// Reads are only watched for close; the stream is one-directional.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	sessionID := rand.Uint64()

	init, err := rep.EncodeInit(ctx, sessionID, s.world.current().Tick)
	if err != nil {
		log.Error("init encode failed", "error", err)
		return
	}
	if err := s.writePacket(conn, init); err != nil {
		log.Warn("init write failed", "error", err)
		return
	}
	log.Info("peer connected", "session_id", sessionID)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	var lastSent codec.Tick
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			log.Info("peer disconnected")
			return
		case <-ticker.C:
			snap := s.world.current()
			if snap.Tick == lastSent {
				continue
			}
			pkt, err := rep.EncodeTick(ctx, snap)
			if err != nil {
				log.Error("tick encode failed", "tick", snap.Tick, "error", err)
				return
			}
			if err := s.writePacket(conn, pkt); err != nil {
				log.Warn("write failed", "tick", snap.Tick, "error", err)
				return
			}
			lastSent = snap.Tick
		}
	}
}

func (s *server) writePacket(conn *websocket.Conn, pkt []byte) error {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, pkt)
}

// runClient dials a serving instance, applies its stream, and logs the
// state once a second. The schema is built from the same embedded
// document the server serves, which is exactly the agreement the schema
// hash verifies.
func runClient(ctx context.Context, url string, cfg demoConfig, logger *slog.Logger) error {
	sch, err := worldSchema()
	if err != nil {
		return fmt.Errorf("build world schema: %w", err)
	}

	log := logger.With("component", "demo-client")
	rep, err := replicator.New(sch, replicator.WithMode(cfg.Mode), replicator.WithLogger(log))
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	log.Info("connected", "url", url)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	lastReport := time.Now()
	for {
		_, pkt, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		snap, err := rep.HandlePacket(ctx, pkt)
		if err != nil {
			if codec.NeedsResync(err) {
				// The stream is broken until the server re-inits, which
				// this one-directional demo cannot request. Reconnecting
				// is the recovery path.
				return fmt.Errorf("stream requires resync: %w", err)
			}
			log.Warn("packet dropped", "error", err)
			continue
		}
		if snap == nil {
			log.Info("session established", "session_id", rep.SessionID())
			continue
		}

		if time.Since(lastReport) >= time.Second {
			log.Info("state", "tick", snap.Tick, "entities", len(snap.Entities))
			lastReport = time.Now()
		}
	}
}
