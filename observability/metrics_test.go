package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"yieldvault/core/events"
)

func TestAPIMetrics(t *testing.T) {
	m := API()
	m.Observe("/v1/deposit", "POST", 200, 10*time.Millisecond)
	m.Observe("/v1/deposit", "POST", 409, time.Millisecond)
	if got := testutil.ToFloat64(m.requests.WithLabelValues("/v1/deposit", "POST", "success")); got != 1 {
		t.Fatalf("unexpected success count %v", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("/v1/deposit", "POST", "409")); got != 1 {
		t.Fatalf("unexpected error count %v", got)
	}
	m.RecordThrottle("", "")
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("unknown", "unspecified")); got != 1 {
		t.Fatalf("unexpected throttle count %v", got)
	}
}

func TestEventMetrics(t *testing.T) {
	var emitter events.Emitter = Events()
	emitter.Emit(events.VaultShutdown{})
	emitter.Emit(nil)
	if got := testutil.ToFloat64(Events().emitted.WithLabelValues(events.TypeVaultShutdown)); got != 1 {
		t.Fatalf("unexpected event count %v", got)
	}
}
