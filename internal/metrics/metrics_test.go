package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordPolicy("rejected", "blocked")
	m.RecordPolicy("rejected", "blocked")
	m.RecordStage("allowed_with_escalation")
	m.RecordEscalationOpened("L3", "PAYMENT")
	m.RecordEscalationClosed("L3", "RESOLVED")
	m.RecordTrigger("proposal", "failed")
	m.RecordPublish("project.updated", 3)
	m.RecordDrop()
	m.RecordError("approvals", "conflict")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PolicyDecisions.WithLabelValues("rejected", "blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageTransitions.WithLabelValues("allowed_with_escalation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EscalationsOpened.WithLabelValues("L3", "PAYMENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EscalationsClosed.WithLabelValues("L3", "RESOLVED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TriggerDeliveries.WithLabelValues("proposal", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Subscribers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscribersDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("approvals", "conflict")))

	m.SetSubscribers(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Subscribers))
}

func TestHandler_ServesPrivateRegistry(t *testing.T) {
	m := New()
	m.RecordRequest("/api/v1/projects", "200", 0.01)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "opsdesk_http_requests_total")
	assert.NotContains(t, string(body), "go_goroutines", "default collectors stay off the private registry")
}

func TestWatchStoreSize(t *testing.T) {
	m := New()
	size := int64(4096)
	var fail error
	m.WatchStoreSize(func() (int64, error) { return size, fail })

	n, err := testutil.GatherAndCount(m.Registry(), "opsdesk_store_size_bytes")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "opsdesk_store_size_bytes 4096")

	fail = errors.New("disk gone")
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "opsdesk_store_size_bytes -1")
}
