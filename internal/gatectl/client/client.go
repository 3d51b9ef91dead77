package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opsgate/releasegate/models"
	"github.com/opsgate/releasegate/registry"
)

// Client is a gated API client
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	// deploy runs the full gate pipeline synchronously, so its timeout must
	// cover rollout plus post-deployment validation.
	deployClient *http.Client
}

// NewClient creates a new gated API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		deployClient: &http.Client{
			Timeout: 45 * time.Minute,
		},
	}
}

// joinURL safely joins a base URL with a path, handling trailing slashes
func (c *Client) joinURL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Service represents a managed service
type Service struct {
	Name            string `json:"name"`
	Namespace       string `json:"namespace"`
	ImageRepository string `json:"image_repository"`
	CurrentVersion  string `json:"current_version,omitempty"`
}

// APIError is a non-2xx response from gated. For failed pipeline runs the
// compliance report is attached.
type APIError struct {
	StatusCode  int
	Message     string
	FailureKind string
	Report      *models.ComplianceReport
}

func (e *APIError) Error() string {
	if e.FailureKind != "" {
		return fmt.Sprintf("API returned status %d (%s): %s", e.StatusCode, e.FailureKind, e.Message)
	}
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(httpClient *http.Client, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, c.joinURL(path), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(raw)}

	// Failed pipeline runs return the full response body with the report.
	var deployResp models.DeployAPIResponse
	if err := json.Unmarshal(raw, &deployResp); err == nil && deployResp.Report != nil {
		apiErr.FailureKind = deployResp.FailureKind
		if apiErr.FailureKind == "" {
			apiErr.FailureKind = deployResp.Report.FailureKind
		}
		apiErr.Report = deployResp.Report
		apiErr.Message = deployResp.ComplianceStatus
		return apiErr
	}

	var errBody struct {
		Error       string `json:"error"`
		FailureKind string `json:"failure_kind"`
	}
	if err := json.Unmarshal(raw, &errBody); err == nil && errBody.Error != "" {
		apiErr.Message = errBody.Error
		apiErr.FailureKind = errBody.FailureKind
	}
	return apiErr
}

// ListServicesResponse is the response from listing services
type ListServicesResponse struct {
	Services []Service `json:"services"`
}

// ListServices lists all managed services
func (c *Client) ListServices() (*ListServicesResponse, error) {
	var resp ListServicesResponse
	if err := c.do(c.client, "GET", "api/v1/services", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListVersionsResponse is the response from listing versions
type ListVersionsResponse struct {
	Service  string                  `json:"service"`
	Versions []registry.ImageVersion `json:"versions"`
}

// ListVersions lists the available image versions for a service
func (c *Client) ListVersions(service string, limit int) (*ListVersionsResponse, error) {
	path := fmt.Sprintf("api/v1/services/%s/versions", url.PathEscape(service))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var resp ListVersionsResponse
	if err := c.do(c.client, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Deploy runs the gate pipeline for a deployment. On pipeline failure the
// returned error is an *APIError carrying the compliance report.
func (c *Client) Deploy(service string, req models.DeployAPIRequest) (*models.DeployAPIResponse, error) {
	path := fmt.Sprintf("api/v1/services/%s/deploy", url.PathEscape(service))

	var resp models.DeployAPIResponse
	if err := c.do(c.deployClient, "POST", path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rollback runs the rollback pipeline for a service
func (c *Client) Rollback(service string, req models.RollbackAPIRequest) (*models.DeployAPIResponse, error) {
	path := fmt.Sprintf("api/v1/services/%s/rollback", url.PathEscape(service))

	var resp models.DeployAPIResponse
	if err := c.do(c.deployClient, "POST", path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDeploymentsResponse is the response from listing deployments
type ListDeploymentsResponse struct {
	Service     string              `json:"service"`
	Deployments []models.Deployment `json:"deployments"`
	Total       int                 `json:"total"`
}

// ListDeployments lists the deployment history for a service
func (c *Client) ListDeployments(service string, limit, offset int) (*ListDeploymentsResponse, error) {
	path := fmt.Sprintf("api/v1/services/%s/deployments?%s", url.PathEscape(service), pageQuery(limit, offset))

	var resp ListDeploymentsResponse
	if err := c.do(c.client, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListReportsResponse is the response from listing compliance reports
type ListReportsResponse struct {
	Service string                    `json:"service"`
	Reports []models.ComplianceReport `json:"reports"`
	Total   int                       `json:"total"`
}

// ListReports lists the compliance reports for a service
func (c *Client) ListReports(service string, limit, offset int) (*ListReportsResponse, error) {
	path := fmt.Sprintf("api/v1/services/%s/reports?%s", url.PathEscape(service), pageQuery(limit, offset))

	var resp ListReportsResponse
	if err := c.do(c.client, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetReport fetches one compliance report by id
func (c *Client) GetReport(id string) (*models.ComplianceReport, error) {
	var report models.ComplianceReport
	if err := c.do(c.client, "GET", "api/v1/reports/"+url.PathEscape(id), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListAuditResponse is the response from listing audit entries
type ListAuditResponse struct {
	Entries []models.AuditEntry `json:"entries"`
	Total   int                 `json:"total"`
}

// ListAudit lists audit entries, optionally filtered by change control number
func (c *Client) ListAudit(changeControl string, limit, offset int) (*ListAuditResponse, error) {
	q := url.Values{}
	if changeControl != "" {
		q.Set("change_control", changeControl)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var resp ListAuditResponse
	if err := c.do(c.client, "GET", "api/v1/audit?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health fetches the server health status (no auth required)
func (c *Client) Health() (*models.HealthResponse, error) {
	var health models.HealthResponse
	if err := c.do(c.client, "GET", "health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func pageQuery(limit, offset int) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q.Encode()
}
