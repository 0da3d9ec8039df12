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

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()

	c.FileProcessed(OutcomeSuccess)
	c.FileProcessed(OutcomeSuccess)
	c.FileProcessed(OutcomeSkipped)
	c.RowsTransformed(3, 1)
	c.Failure("staging_copy_error")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.filesTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.filesTotal.WithLabelValues(OutcomeSkipped)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.rowsTotal.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rowsTotal.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failuresTotal.WithLabelValues("staging_copy_error")))
}

func TestCollector_ScanCompleted(t *testing.T) {
	c := NewCollector()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	c.ScanCompleted(at)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.scansTotal))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(c.lastScanUnixTime))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.FileProcessed(OutcomeFailed)
	c.ObserveRun(250 * time.Millisecond)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sensor_elt_files_total{outcome="failed"} 1`)
	assert.Contains(t, string(body), "sensor_elt_run_duration_seconds_count 1")
}
