package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowpbx/pushcall/internal/call"
)

type fixedPending int

func (f fixedPending) PendingCount() int { return int(f) }

type fixedRinger bool

func (f fixedRinger) Playing() bool { return bool(f) }

type fixedHistory int

func (f fixedHistory) Count(context.Context) int { return int(f) }

type fixedTray int

func (f fixedTray) Len() int { return int(f) }

func gather(t *testing.T, reg *prometheus.Registry) map[string][]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string][]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				out[mf.GetName()] = append(out[mf.GetName()], m.GetGauge().GetValue())
			case m.GetCounter() != nil:
				out[mf.GetName()] = append(out[mf.GetName()], m.GetCounter().GetValue())
			}
		}
	}
	return out
}

func TestCollectorAllProviders(t *testing.T) {
	outcomes := NewOutcomeCounter()
	ctx := context.Background()
	outcomes.CallResolved(ctx, call.Resolution{Outcome: call.Outcome{CallID: "c1", Action: call.Accepted, ResolvedBy: call.SourcePresenterUI}})
	outcomes.CallResolved(ctx, call.Resolution{Outcome: call.Outcome{CallID: "c2", Action: call.Accepted, ResolvedBy: call.SourcePresenterUI}})
	outcomes.CallResolved(ctx, call.Resolution{Outcome: call.Outcome{CallID: "c3", Action: call.TimedOut, ResolvedBy: call.SourceDeadline}})

	c := NewCollector(Providers{
		Pending:  fixedPending(2),
		Ringer:   fixedRinger(true),
		Outcomes: outcomes,
		History:  fixedHistory(7),
		Tray:     fixedTray(1),
	}, time.Now().Add(-time.Minute))

	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	got := gather(t, reg)

	tests := []struct {
		name string
		want []float64
	}{
		{"pushcall_pending_calls", []float64{2}},
		{"pushcall_ringer_playing", []float64{1}},
		{"pushcall_history_records", []float64{7}},
		{"pushcall_active_notifications", []float64{1}},
		{"pushcall_call_outcomes_total", []float64{2, 1}},
	}
	for _, tt := range tests {
		vals := got[tt.name]
		if len(vals) != len(tt.want) {
			t.Errorf("%s = %v, want %v", tt.name, vals, tt.want)
			continue
		}
		for i := range vals {
			if vals[i] != tt.want[i] {
				t.Errorf("%s[%d] = %v, want %v", tt.name, i, vals[i], tt.want[i])
			}
		}
	}

	if up := got["pushcall_uptime_seconds"]; len(up) != 1 || up[0] < 59 {
		t.Errorf("uptime = %v, want about 60s", up)
	}
}

func TestCollectorNilProviders(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(Providers{}, time.Now()))
	got := gather(t, reg)

	if len(got) != 1 {
		t.Errorf("families = %v, want only uptime", got)
	}
	if _, ok := got["pushcall_uptime_seconds"]; !ok {
		t.Error("uptime missing")
	}
}

func TestOutcomeCounterCountsCopy(t *testing.T) {
	o := NewOutcomeCounter()
	o.CallResolved(context.Background(), call.Resolution{Outcome: call.Outcome{Action: call.Rejected, ResolvedBy: call.SourceActionReceiver}})

	counts := o.Counts()
	counts[OutcomeKey{Action: call.Rejected, Source: call.SourceActionReceiver}] = 99

	if n := o.Counts()[OutcomeKey{Action: call.Rejected, Source: call.SourceActionReceiver}]; n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestHandlerExposition(t *testing.T) {
	reg := NewRegistry(NewCollector(Providers{Pending: fixedPending(3)}, time.Now()))
	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{"pushcall_pending_calls 3", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
