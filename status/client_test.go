package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/releasegate/gate"
)

// newTestClient points a client at ts with retry backoff collapsed to zero
// delay so transient-failure tests run instantly.
func newTestClient(ts *httptest.Server, token string) *Client {
	c := NewClient(ts.URL, token)
	c.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(3, retry.NewConstant(time.Nanosecond))
	}
	return c
}

func TestProductionStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status/production", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"production_active": true, "efficiency": 97.4}`))
	}))
	defer ts.Close()

	c := newTestClient(ts, "tok-1")

	active, err := c.ProductionActive(context.Background())
	require.NoError(t, err)
	assert.True(t, active)

	eff, err := c.Efficiency(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 97.4, eff)
}

func TestCriticalSensors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sensors", r.URL.Path)
		assert.Equal(t, "temperature", r.URL.Query().Get("category"))
		assert.Equal(t, "true", r.URL.Query().Get("critical"))
		w.Write([]byte(`{"sensors": [
			{"id": "temp-01", "category": "temperature", "critical": true},
			{"id": "temp-02", "category": "temperature", "critical": false}
		]}`))
	}))
	defer ts.Close()

	c := newTestClient(ts, "")

	ids, err := c.CriticalSensors(context.Background(), gate.SensorTemperature)
	require.NoError(t, err)
	assert.Equal(t, []string{"temp-01"}, ids)
}

func TestSensorReading(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sensors/temp-01/reading", r.URL.Path)
		w.Write([]byte(`{"sensor_id": "temp-01", "value": 21.5, "unit": "C"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts, "")

	value, err := c.SensorReading(context.Background(), "temp-01")
	require.NoError(t, err)
	assert.Equal(t, 21.5, value)
}

func TestBatchEndpoints(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/batches/active":
			w.Write([]byte(`{"batches": [{"id": "B-100"}, {"id": "B-101"}]}`))
		case "/api/v1/batches/B-100/integrity":
			w.Write([]byte(`{"batch_id": "B-100", "score": 100}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := newTestClient(ts, "")

	batches, err := c.ActiveBatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"B-100", "B-101"}, batches)

	score, err := c.IntegrityScore(context.Background(), "B-100")
	require.NoError(t, err)
	assert.Equal(t, 100, score)
}

func TestComponentHealth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health/components/database", r.URL.Path)
		w.Write([]byte(`{"component": "database", "status": "healthy"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts, "")

	health, err := c.ComponentHealth(context.Background(), "database")
	require.NoError(t, err)
	assert.Equal(t, "healthy", health)
}

func TestDeployedVersionAndReady(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/status/version":
			w.Write([]byte(`{"version": "v2.1.0"}`))
		case "/api/v1/health/ready":
			w.Write([]byte(`{"ready": true, "replicas_ready": 3, "replicas_desired": 3}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := newTestClient(ts, "")

	version, err := c.DeployedVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v2.1.0", version)

	ready, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestReadyPartialReplicas(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ready": true, "replicas_ready": 2, "replicas_desired": 3}`))
	}))
	defer ts.Close()

	c := newTestClient(ts, "")

	ready, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestAuditIntegrity(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected bool
	}{
		{"passed", `{"status": "passed"}`, true},
		{"failed", `{"status": "failed"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			c := newTestClient(ts, "")

			intact, err := c.AuditIntegrity(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, intact)
		})
	}
}

func TestRetriesTransientServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"production_active": false, "efficiency": 99.0}`))
	}))
	defer ts.Close()

	c := newTestClient(ts, "")

	active, err := c.ProductionActive(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer ts.Close()

	c := newTestClient(ts, "bad-token")

	_, err := c.ProductionActive(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newTestClient(ts, "")

	_, err := c.ProductionActive(context.Background())
	require.Error(t, err)
	// Initial attempt plus three retries.
	assert.Equal(t, int32(4), calls.Load())
}
