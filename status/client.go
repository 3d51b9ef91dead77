// Package status is a read-only HTTP client for the managed service's live
// status endpoints: production state, efficiency, sensors, batches,
// component health and the external audit-integrity attestation.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/opsgate/releasegate/gate"
)

// Client talks to one managed service's status API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	backoff func() retry.Backoff
}

// NewClient creates a status client. Transient failures (network errors and
// 5xx responses) are retried a bounded number of times before a check is
// declared failed.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewConstant(2*time.Second))
		},
	}
}

func (c *Client) joinURL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// get fetches path and decodes the JSON body into out, retrying transient
// failures.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.joinURL(path), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to reach status endpoint: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			body, _ := io.ReadAll(resp.Body)
			return retry.RetryableError(fmt.Errorf("status API returned %d: %s", resp.StatusCode, string(body)))
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("status API returned %d: %s", resp.StatusCode, string(body))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

type productionStatus struct {
	ProductionActive bool    `json:"production_active"`
	Efficiency       float64 `json:"efficiency"`
}

// ProductionActive reports whether the managed process is actively running.
func (c *Client) ProductionActive(ctx context.Context) (bool, error) {
	var ps productionStatus
	if err := c.get(ctx, "api/v1/status/production", &ps); err != nil {
		return false, err
	}
	return ps.ProductionActive, nil
}

// Efficiency returns the current efficiency percentage.
func (c *Client) Efficiency(ctx context.Context) (float64, error) {
	var ps productionStatus
	if err := c.get(ctx, "api/v1/status/production", &ps); err != nil {
		return 0, err
	}
	return ps.Efficiency, nil
}

type sensorList struct {
	Sensors []struct {
		ID       string `json:"id"`
		Category string `json:"category"`
		Critical bool   `json:"critical"`
	} `json:"sensors"`
}

// CriticalSensors returns the ids of sensors flagged critical in a category.
func (c *Client) CriticalSensors(ctx context.Context, category gate.SensorCategory) ([]string, error) {
	q := url.Values{}
	q.Set("category", string(category))
	q.Set("critical", "true")

	var list sensorList
	if err := c.get(ctx, "api/v1/sensors?"+q.Encode(), &list); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(list.Sensors))
	for _, s := range list.Sensors {
		if s.Critical {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

type sensorReading struct {
	SensorID string  `json:"sensor_id"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
}

// SensorReading returns the current reading for one sensor. A transport
// failure here means the sensor is unreachable, which is fatal upstream.
func (c *Client) SensorReading(ctx context.Context, sensorID string) (float64, error) {
	var sr sensorReading
	if err := c.get(ctx, fmt.Sprintf("api/v1/sensors/%s/reading", url.PathEscape(sensorID)), &sr); err != nil {
		return 0, err
	}
	return sr.Value, nil
}

type batchList struct {
	Batches []struct {
		ID string `json:"id"`
	} `json:"batches"`
}

// ActiveBatches returns the ids of currently active units of work.
func (c *Client) ActiveBatches(ctx context.Context) ([]string, error) {
	var list batchList
	if err := c.get(ctx, "api/v1/batches/active", &list); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(list.Batches))
	for _, b := range list.Batches {
		ids = append(ids, b.ID)
	}
	return ids, nil
}

type integrityScore struct {
	BatchID string `json:"batch_id"`
	Score   int    `json:"score"`
}

// IntegrityScore returns the integrity score for one batch.
func (c *Client) IntegrityScore(ctx context.Context, batchID string) (int, error) {
	var is integrityScore
	if err := c.get(ctx, fmt.Sprintf("api/v1/batches/%s/integrity", url.PathEscape(batchID)), &is); err != nil {
		return 0, err
	}
	return is.Score, nil
}

type componentHealth struct {
	Component string `json:"component"`
	Status    string `json:"status"`
}

// ComponentHealth returns the health string for a named subcomponent.
func (c *Client) ComponentHealth(ctx context.Context, component string) (string, error) {
	var ch componentHealth
	if err := c.get(ctx, fmt.Sprintf("api/v1/health/components/%s", url.PathEscape(component)), &ch); err != nil {
		return "", err
	}
	return ch.Status, nil
}

type versionStatus struct {
	Version string `json:"version"`
}

// DeployedVersion returns the version the managed service reports itself as
// running. Used by the gitops driver to observe rollout completion.
func (c *Client) DeployedVersion(ctx context.Context) (string, error) {
	var vs versionStatus
	if err := c.get(ctx, "api/v1/status/version", &vs); err != nil {
		return "", err
	}
	return vs.Version, nil
}

type readiness struct {
	Ready           bool `json:"ready"`
	ReplicasReady   int  `json:"replicas_ready"`
	ReplicasDesired int  `json:"replicas_desired"`
}

// Ready reports whether all replicas of the managed service are ready.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	var r readiness
	if err := c.get(ctx, "api/v1/health/ready", &r); err != nil {
		return false, err
	}
	return r.Ready && r.ReplicasReady == r.ReplicasDesired, nil
}

type auditIntegrity struct {
	Status string `json:"status"`
}

// AuditIntegrity reports whether the external audit-integrity attestation
// passed.
func (c *Client) AuditIntegrity(ctx context.Context) (bool, error) {
	var ai auditIntegrity
	if err := c.get(ctx, "api/v1/audit/integrity", &ai); err != nil {
		return false, err
	}
	return ai.Status == "passed", nil
}
