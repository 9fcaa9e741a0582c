package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector(t *testing.T) {
	p := NewPrometheus("test")

	p.RecordActivation("open-editor", "Button")
	p.RecordActivation("open-editor", "Button")
	p.RecordActionExecution("Launch", "success", 20*time.Millisecond)
	p.RecordActionExecution("Close", "skipped", 0)
	p.RecordConditionError("ProcessRunning")
	p.RecordHookDrop()

	assert.Equal(t, 2.0, testutil.ToFloat64(p.Activations.WithLabelValues("open-editor", "Button")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ActionExecutions.WithLabelValues("Launch", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ActionExecutions.WithLabelValues("Close", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ConditionErrors.WithLabelValues("ProcessRunning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.HookDrops))
}

func TestPrometheusHandler(t *testing.T) {
	p := NewPrometheus("")
	p.RecordActivation("t", "Keybind")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "apptrigger_trigger_activations_total"))
}
