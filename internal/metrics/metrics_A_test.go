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

func TestMetricsAreIndependentPerInstance(t *testing.T) { // A
	t.Parallel()
	a, b := New(), New()
	a.TransactionsSent.Inc()
	a.TransactionsSent.Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(a.TransactionsSent))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TransactionsSent))
}

func TestObserveTask(t *testing.T) { // A
	t.Parallel()
	m := New()
	m.ObserveTask("poll", nil)
	m.ObserveTask("poll", errors.New("x"))
	m.ObserveTask("poll", nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TaskRuns.WithLabelValues("poll", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskRuns.WithLabelValues("poll", "error")))
}

func TestHandlerExposesCollectors(t *testing.T) { // A
	t.Parallel()
	m := New()
	m.KnownRecipients.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "privacy_known_recipients 3")
}
