// Package replicator drives one end of a replication stream. It owns the
// codec, session, baseline ring and packet buffer a peer needs, decides
// full versus delta per tick on the sending side, and applies inbound
// packets against ring baselines on the receiving side. Observability is
// opt-in: Prometheus metrics via WithMetrics, OpenTelemetry spans via
// WithTracer, logging through an injected slog handler.
package replicator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sdec-dev/sdec/pkg/codec"
	"github.com/sdec-dev/sdec/pkg/schema"
	"github.com/sdec-dev/sdec/pkg/wire"
)

// Config carries replicator settings. Zero values fall back to defaults;
// use the Option helpers rather than building one directly.
type Config struct {
	// Limits bound every untrusted size and count.
	Limits wire.Limits

	// Mode is the header framing requested in the session init.
	Mode codec.HeaderMode

	// RingCapacity is the number of baselines kept for delta encoding and
	// decoding. Older entries are evicted.
	RingCapacity int

	// Logger receives replication events. Defaults to slog.Default with a
	// component attribute.
	Logger *slog.Logger

	// Namespace is the metrics namespace (default "sdec").
	Namespace string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Registry enables Prometheus metrics when non-nil.
	Registry prometheus.Registerer

	// TracerName enables OpenTelemetry spans when non-empty, resolved
	// against the global tracer provider.
	TracerName string
}

// Option configures a Replicator.
type Option func(*Config)

// WithLimits sets the wire limits.
func WithLimits(limits wire.Limits) Option {
	return func(c *Config) { c.Limits = limits }
}

// WithMode sets the header framing to negotiate.
func WithMode(mode codec.HeaderMode) Option {
	return func(c *Config) { c.Mode = mode }
}

// WithRingCapacity sets how many baselines the ring retains.
func WithRingCapacity(n int) Option {
	return func(c *Config) { c.RingCapacity = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithMetrics enables Prometheus metrics on the given registry.
func WithMetrics(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

// WithTracer enables OpenTelemetry spans under the given tracer name.
func WithTracer(name string) Option {
	return func(c *Config) { c.TracerName = name }
}

func defaultConfig() Config {
	return Config{
		Limits:       wire.DefaultLimits(),
		Mode:         codec.ModeStandard,
		RingCapacity: 32,
		Namespace:    "sdec",
	}
}

// Replicator is one peer of a replication stream. The same type serves
// both directions: senders call EncodeInit and EncodeTick, receivers call
// HandlePacket. Encoded packets alias an internal buffer and are valid
// until the next Encode call.
//
// A Replicator is not safe for concurrent use.
type Replicator struct {
	codec   *codec.Codec
	session *codec.Session
	ring    *codec.BaselineRing
	scratch *codec.Scratch
	buf     []byte
	state   *codec.Snapshot
	ringCap int
	mode    codec.HeaderMode
	log     *slog.Logger
	metrics *metrics
	tracer  trace.Tracer
}

// New builds a replicator for the schema.
func New(s *schema.Schema, opts ...Option) (*Replicator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RingCapacity < 1 {
		return nil, fmt.Errorf("replicator: ring capacity must be positive, got %d", cfg.RingCapacity)
	}

	c, err := codec.New(s, cfg.Limits)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "replicator")
	}

	r := &Replicator{
		codec:   c,
		session: codec.NewSession(c),
		ring:    codec.NewBaselineRing(cfg.RingCapacity),
		scratch: codec.NewScratch(cfg.Limits),
		buf:     make([]byte, cfg.Limits.MaxPacketBytes),
		ringCap: cfg.RingCapacity,
		mode:    cfg.Mode,
		log:     logger,
	}
	if cfg.Registry != nil {
		r.metrics = initMetrics(cfg.Namespace, cfg.ConstLabels, cfg.Registry)
	}
	if cfg.TracerName != "" {
		r.tracer = otel.Tracer(cfg.TracerName)
	}
	return r, nil
}

// State returns the most recently applied snapshot, nil before the first
// full. The replicator keeps using it as a baseline; treat it as
// read-only.
func (r *Replicator) State() *codec.Snapshot { return r.state }

// Phase returns the session phase.
func (r *Replicator) Phase() codec.Phase { return r.session.Phase() }

// LastTick returns the last committed tick.
func (r *Replicator) LastTick() codec.Tick { return r.session.LastTick() }

// SessionID returns the negotiated session id.
func (r *Replicator) SessionID() uint64 { return r.session.SessionID() }

// EncodeInit starts or restarts the stream. The ring is cleared: after a
// re-init the first data packet is always a full snapshot, which is the
// recovery path after either side reports a resync.
func (r *Replicator) EncodeInit(ctx context.Context, sessionID uint64, tick codec.Tick) ([]byte, error) {
	n, err := r.session.EncodeInit(r.buf, sessionID, r.mode, tick)
	if err != nil {
		return nil, err
	}
	r.ring = codec.NewBaselineRing(r.ringCap)
	r.metrics.recordSend("init", n)
	r.metrics.recordState(0, 0)
	r.log.Info("session init encoded", "session_id", sessionID, "mode", r.mode, "tick", tick)
	return r.buf[:n], nil
}

// EncodeTick frames one tick of state: a delta against the newest ring
// baseline when one exists, otherwise a full snapshot. On success the
// snapshot is copied into the ring as a future baseline.
func (r *Replicator) EncodeTick(ctx context.Context, snap *codec.Snapshot) ([]byte, error) {
	_, span := r.startSpan(ctx, "sdec.encode_tick",
		attribute.Int64("sdec.tick", int64(snap.Tick)))

	kind := "full"
	var (
		n   int
		err error
	)
	if base, ok := r.ring.LatestAtOrBefore(snap.Tick); ok {
		kind = "delta"
		n, err = r.session.EncodeDelta(r.buf, base, snap, r.scratch)
	} else {
		n, err = r.session.EncodeFull(r.buf, snap, r.scratch)
	}
	if err == nil {
		err = r.ring.Insert(snap.Tick, snap.Clone())
	}
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	r.metrics.recordSend(kind, n)
	r.metrics.recordState(len(snap.Entities), r.ring.Len())
	r.log.Debug("tick encoded", "tick", snap.Tick, "kind", kind, "bytes", n)
	if span != nil {
		span.SetAttributes(attribute.String("sdec.kind", kind), attribute.Int("sdec.bytes", n))
	}
	endSpan(span, nil)
	return r.buf[:n], nil
}

// HandlePacket consumes one inbound packet. Init packets reset the ring
// and return a nil snapshot; full and delta packets return the new applied
// state. A failure that invalidates the stream (baseline gone, schema
// mismatch, ordering violation) leaves the session errored, and the peer
// must re-init.
func (r *Replicator) HandlePacket(ctx context.Context, pkt []byte) (*codec.Snapshot, error) {
	_, span := r.startSpan(ctx, "sdec.handle_packet",
		attribute.Int("sdec.bytes", len(pkt)))

	inc, err := r.session.DecodePacket(pkt)
	if err != nil {
		r.metrics.recordReceive("unknown", "error", len(pkt))
		if codec.NeedsResync(err) {
			r.metrics.recordResync()
			r.log.Warn("stream requires resync", "error", err)
		}
		endSpan(span, err)
		return nil, err
	}

	if inc.Init != nil {
		r.ring = codec.NewBaselineRing(r.ringCap)
		r.state = nil
		r.metrics.recordReceive("init", "success", len(pkt))
		r.metrics.recordState(0, 0)
		r.log.Info("session initialized", "session_id", inc.Init.SessionID, "mode", inc.Init.Mode, "tick", inc.Header.Tick)
		endSpan(span, nil)
		return nil, nil
	}

	kind := "full"
	next := inc.Full
	if inc.Delta != nil {
		kind = "delta"
		base, ok := r.ring.Get(inc.Delta.BaselineTick)
		if !ok {
			err = fmt.Errorf("%w: tick %d", codec.ErrBaselineMissing, inc.Delta.BaselineTick)
		} else {
			next, err = r.codec.ApplyDelta(base, inc.Delta)
		}
	}
	if err == nil {
		err = r.ring.Insert(codec.Tick(inc.Header.Tick), next)
	}
	if err != nil {
		r.session.Invalidate()
		r.metrics.recordReceive(kind, "error", len(pkt))
		r.metrics.recordResync()
		r.log.Warn("packet failed to apply", "tick", inc.Header.Tick, "kind", kind, "error", err)
		endSpan(span, err)
		return nil, err
	}

	r.state = next
	r.session.Commit(inc)
	r.metrics.recordReceive(kind, "success", len(pkt))
	r.metrics.recordState(len(r.state.Entities), r.ring.Len())
	r.log.Debug("packet applied", "tick", inc.Header.Tick, "kind", kind, "entities", len(r.state.Entities))
	if span != nil {
		span.SetAttributes(attribute.String("sdec.kind", kind))
	}
	endSpan(span, nil)
	return r.state, nil
}

func (r *Replicator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if r.tracer == nil {
		return ctx, nil
	}
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
