package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("sepolia", "get_logs", "ok", 255, time.Second)
	m.SetCheckpoint("sepolia", 100)
	m.IncNotification("email", "sent")
	assert.NotNil(t, m.Handler())
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics("test")

	m.ObserveRequest("sepolia", "get_logs", "ok", 255, 10*time.Millisecond)
	m.ObserveRequest("sepolia", "get_last_block", "ok", 80, time.Millisecond)
	m.ObserveRequest("unknown", "get_last_block", "dropped", 80, 0)
	m.SetCheckpoint("sepolia", 105)
	m.IncDeadLetter("apply")

	assert.Equal(t, 255.0, testutil.ToFloat64(m.BrokerCredits.WithLabelValues("get_logs")))
	assert.Equal(t, 80.0, testutil.ToFloat64(m.BrokerCredits.WithLabelValues("get_last_block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BrokerRequests.WithLabelValues("unknown", "get_last_block", "dropped")))
	assert.Equal(t, 105.0, testutil.ToFloat64(m.Checkpoint.WithLabelValues("sepolia")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadLetters.WithLabelValues("apply")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_poller_checkpoint_block")
}
