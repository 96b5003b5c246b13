package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/agentsim/fsm"
	"github.com/signalsfoundry/agentsim/messaging"
	"github.com/signalsfoundry/agentsim/steering"
)

var (
	_ messaging.MetricsRecorder = (*SimCollector)(nil)
	_ steering.MetricsRecorder  = (*SimCollector)(nil)
	_ fsm.TransitionObserver    = (*SimCollector)(nil).ObserveTransition
)

func newCollector(t *testing.T) (*SimCollector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	return c, reg
}

func TestNewSimCollectorReusesRegistered(t *testing.T) {
	c1, reg := newCollector(t)
	c2, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}
	c1.Ticks.Inc()
	if got := testutil.ToFloat64(c2.Ticks); got != 1 {
		t.Fatalf("reused counter = %v, want 1", got)
	}
}

func TestDispatcherAndSteeringCounters(t *testing.T) {
	c, _ := newCollector(t)

	c.TelegramDispatched(true)
	c.TelegramDispatched(false)
	c.TelegramDispatched(false)
	c.TelegramDelivered(messaging.OutcomeUnroutable)
	c.SetPendingTelegrams(4)
	c.SteeringClamped()
	c.SteeringMissingInput(steering.Seek)
	c.ObserveTransition(fsm.Transition{From: "A", To: "B"})
	c.ObserveTransition(fsm.Transition{From: "A", Err: fsm.ErrInvalidTransition})
	c.AddGridStats(3, 7)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"dispatched delayed", testutil.ToFloat64(c.TelegramsDispatched.WithLabelValues("delayed")), 2},
		{"dispatched immediate", testutil.ToFloat64(c.TelegramsDispatched.WithLabelValues("immediate")), 1},
		{"delivered unroutable", testutil.ToFloat64(c.TelegramsDelivered.WithLabelValues("unroutable")), 1},
		{"pending", testutil.ToFloat64(c.TelegramsPending), 4},
		{"clamped", testutil.ToFloat64(c.SteeringClampedTotal), 1},
		{"missing seek", testutil.ToFloat64(c.SteeringMissing.WithLabelValues("seek")), 1},
		{"transitions", testutil.ToFloat64(c.Transitions), 1},
		{"invalid transitions", testutil.ToFloat64(c.InvalidTransitions), 1},
		{"grid moves", testutil.ToFloat64(c.GridMoves), 3},
		{"grid noops", testutil.ToFloat64(c.GridNoOps), 7},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Fatalf("%s = %v, want %v", ch.name, ch.got, ch.want)
		}
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *SimCollector
	c.ObserveTick(time.Millisecond)
	c.TelegramDelivered("handled")
	c.SteeringMissingInput(steering.Wander)
	c.AddGridStats(1, 1)
	if c.Gatherer() != nil {
		t.Fatal("nil collector returned a gatherer")
	}
}

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	c, reg := newCollector(t)

	interceptor := c.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err := interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}
	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	if got := testutil.ToFloat64(c.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("sim_rpc_requests_total OK = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RPCRequests.WithLabelValues("Health", "Check", "NotFound")); got != 1 {
		t.Fatalf("sim_rpc_requests_total NotFound = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "sim_rpc_request_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 2 {
		t.Fatalf("sim_rpc_request_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestMetricsHandlerExposesTickMetrics(t *testing.T) {
	c, reg := newCollector(t)
	c.ObserveTick(2 * time.Millisecond)
	c.SetAgents(12)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{"sim_ticks_total 1", "sim_agents 12", "sim_tick_duration_seconds_count 1"} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
	if count := histogramSampleCount(t, reg, "sim_tick_duration_seconds", nil); count != 1 {
		t.Fatalf("tick histogram count = %d", count)
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in                    string
		wantService, wantName string
	}{
		{"/grpc.health.v1.Health/Check", "Health", "Check"},
		{"Svc/Method", "Svc", "Method"},
		{"", "unknown", "unknown"},
		{"/onlyone", "unknown", "unknown"},
	}
	for _, tt := range tests {
		s, m := SplitMethod(tt.in)
		if s != tt.wantService || m != tt.wantName {
			t.Fatalf("SplitMethod(%q) = %q,%q", tt.in, s, m)
		}
	}
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "agentsim-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "sim.tick")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), "sim.tick") {
		t.Fatalf("span not exported: %s", buf.String())
	}

	// restore the noop provider for other tests
	if _, err := InitTracing(context.Background(), TracingConfig{}, nil); err != nil {
		t.Fatalf("InitTracing disabled: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
