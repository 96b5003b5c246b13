package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/agentsim/fsm"
	"github.com/signalsfoundry/agentsim/steering"
)

// SimCollector bundles the Prometheus metrics of a simulation run. It
// satisfies the metrics recorder interfaces of the dispatcher and the
// steering composer, observes state machine transitions, and provides a
// gRPC interceptor and /metrics handler for the host process.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Ticks        prometheus.Counter
	TickDuration prometheus.Histogram
	Agents       prometheus.Gauge

	TelegramsDispatched *prometheus.CounterVec
	TelegramsDelivered  *prometheus.CounterVec
	TelegramsPending    prometheus.Gauge

	Transitions        prometheus.Counter
	InvalidTransitions prometheus.Counter

	SteeringClampedTotal prometheus.Counter
	SteeringMissing      *prometheus.CounterVec

	GridMoves prometheus.Counter
	GridNoOps prometheus.Counter

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing
// collectors.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SimCollector{gatherer: gatherer}
	var err error

	if c.Ticks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_ticks_total",
		Help: "Total number of simulation ticks executed.",
	})); err != nil {
		return nil, err
	}
	if c.TickDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Wall-clock duration of a simulation tick.",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})); err != nil {
		return nil, err
	}
	if c.Agents, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_agents",
		Help: "Current number of registered entities.",
	})); err != nil {
		return nil, err
	}
	if c.TelegramsDispatched, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_telegrams_dispatched_total",
		Help: "Telegrams accepted by the dispatcher, labeled by immediate or delayed delivery.",
	}, []string{"mode"})); err != nil {
		return nil, err
	}
	if c.TelegramsDelivered, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_telegrams_delivered_total",
		Help: "Telegrams discharged, labeled by outcome (handled, unhandled, unroutable).",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.TelegramsPending, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_telegrams_pending",
		Help: "Telegrams waiting for their dispatch time.",
	})); err != nil {
		return nil, err
	}
	if c.Transitions, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_fsm_transitions_total",
		Help: "Completed state machine transitions.",
	})); err != nil {
		return nil, err
	}
	if c.InvalidTransitions, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_fsm_invalid_transitions_total",
		Help: "Rejected transitions to an absent state.",
	})); err != nil {
		return nil, err
	}
	if c.SteeringClampedTotal, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_steering_clamped_total",
		Help: "Steering forces truncated to the agent's max force.",
	})); err != nil {
		return nil, err
	}
	if c.SteeringMissing, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_steering_missing_input_total",
		Help: "Enabled steering behaviours skipped for lack of input, labeled by behavior.",
	}, []string{"behavior"})); err != nil {
		return nil, err
	}
	if c.GridMoves, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_grid_bucket_moves_total",
		Help: "Spatial grid updates that moved an agent between buckets.",
	})); err != nil {
		return nil, err
	}
	if c.GridNoOps, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_grid_bucket_noops_total",
		Help: "Spatial grid updates that stayed within the same bucket.",
	})); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_rpc_requests_total",
		Help: "Total number of handled host RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sim_rpc_request_duration_seconds",
		Help:    "Host RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"})); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick records one tick and its wall-clock duration.
func (c *SimCollector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
}

// SetAgents updates the entity gauge.
func (c *SimCollector) SetAgents(n int) {
	if c == nil {
		return
	}
	c.Agents.Set(float64(n))
}

// TelegramDispatched implements messaging.MetricsRecorder.
func (c *SimCollector) TelegramDispatched(immediate bool) {
	if c == nil {
		return
	}
	mode := "delayed"
	if immediate {
		mode = "immediate"
	}
	c.TelegramsDispatched.WithLabelValues(mode).Inc()
}

// TelegramDelivered implements messaging.MetricsRecorder.
func (c *SimCollector) TelegramDelivered(outcome string) {
	if c == nil {
		return
	}
	c.TelegramsDelivered.WithLabelValues(outcome).Inc()
}

// SetPendingTelegrams implements messaging.MetricsRecorder.
func (c *SimCollector) SetPendingTelegrams(n int) {
	if c == nil {
		return
	}
	c.TelegramsPending.Set(float64(n))
}

// ObserveTransition counts a state machine transition. It has the shape
// of fsm.TransitionObserver.
func (c *SimCollector) ObserveTransition(tr fsm.Transition) {
	if c == nil {
		return
	}
	if errors.Is(tr.Err, fsm.ErrInvalidTransition) {
		c.InvalidTransitions.Inc()
		return
	}
	c.Transitions.Inc()
}

// SteeringClamped implements steering.MetricsRecorder.
func (c *SimCollector) SteeringClamped() {
	if c == nil {
		return
	}
	c.SteeringClampedTotal.Inc()
}

// SteeringMissingInput implements steering.MetricsRecorder.
func (c *SimCollector) SteeringMissingInput(b steering.Behavior) {
	if c == nil {
		return
	}
	c.SteeringMissing.WithLabelValues(b.String()).Inc()
}

// AddGridStats adds bucket maintenance deltas.
func (c *SimCollector) AddGridStats(moves, noops uint64) {
	if c == nil {
		return
	}
	c.GridMoves.Add(float64(moves))
	c.GridNoOps.Add(float64(noops))
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components, returning "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register registers col, or returns the collector already registered
// under the same descriptor when its type matches.
func register[C prometheus.Collector](reg prometheus.Registerer, col C) (C, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %T already registered with incompatible type", col)
		}
		var zero C
		return zero, err
	}
	return col, nil
}
