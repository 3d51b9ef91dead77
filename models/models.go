package models

import "time"

// Strategy is a deployment strategy.
type Strategy string

const (
	StrategyBlueGreen Strategy = "blue-green"
	StrategyRolling   Strategy = "rolling"
)

// Environment is a deployment target environment.
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
)

// Outcome classifies a single check result.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeWarn    Outcome = "warn"
	OutcomeSkipped Outcome = "skipped"
)

// DeploymentRequest describes one gated deployment invocation. It is
// immutable once constructed; the orchestrator never mutates it.
type DeploymentRequest struct {
	Service        string      `json:"service"`
	Version        string      `json:"version"`
	ChangeControl  string      `json:"change_control"`
	ValidatedBy    string      `json:"validated_by"`
	Strategy       Strategy    `json:"strategy"`
	Environment    Environment `json:"environment"`
	SkipValidation bool        `json:"skip_validation,omitempty"`
}

// CheckResult is the outcome of a single readiness check. Created per check
// invocation and consumed immediately by the orchestrator.
type CheckResult struct {
	Name      string  `json:"name"`
	Stage     string  `json:"stage"`
	Outcome   Outcome `json:"outcome"`
	Observed  string  `json:"observed,omitempty"`
	Threshold string  `json:"threshold,omitempty"`
	Detail    string  `json:"detail,omitempty"`
}

// Compliance statuses recorded on a report.
const (
	StatusCompliant    = "COMPLIANT"
	StatusNonCompliant = "NON_COMPLIANT"
	StatusRolledBack   = "ROLLED_BACK"
)

// ComplianceReport aggregates every CheckResult from one invocation plus the
// request metadata. Assembled once, after the pipeline finishes, then
// persisted.
type ComplianceReport struct {
	ID               string        `json:"id"`
	DeploymentID     string        `json:"deployment_id"`
	Service          string        `json:"service"`
	Version          string        `json:"version"`
	ChangeControl    string        `json:"change_control"`
	ValidatedBy      string        `json:"validated_by"`
	Strategy         Strategy      `json:"strategy"`
	Environment      Environment   `json:"environment"`
	ComplianceStatus string        `json:"compliance_status"`
	Checks           []CheckResult `json:"checks"`
	Warnings         []string      `json:"warnings,omitempty"`
	FailureKind      string        `json:"failure_kind,omitempty"`
	RolledBack       bool          `json:"rolled_back"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      time.Time     `json:"completed_at"`
}

// AuditEntry is an append-only record of one state-changing action.
// Immutable once emitted; the orchestrator is the sole writer.
type AuditEntry struct {
	ID            int64     `json:"id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Action        string    `json:"action"`
	Details       string    `json:"details,omitempty"`
	Actor         string    `json:"actor"`
	ChangeControl string    `json:"change_control"`
}

// Deployment is one row of deployment history.
type Deployment struct {
	ID            string      `json:"id"`
	Service       string      `json:"service"`
	Version       string      `json:"version"`
	Environment   Environment `json:"environment"`
	Strategy      Strategy    `json:"strategy"`
	ChangeControl string      `json:"change_control"`
	DeployedBy    string      `json:"deployed_by"`
	Status        string      `json:"status"` // pending, success, failed, rolled_back
	Type          string      `json:"type"`   // deploy, rollback
	ReportID      string      `json:"report_id,omitempty"`
	DeployedAt    time.Time   `json:"deployed_at"`
}

// DeployAPIRequest is the request body for POST /services/:service/deploy.
type DeployAPIRequest struct {
	Version        string `json:"version" binding:"required"`
	ChangeControl  string `json:"change_control" binding:"required,changecontrol"`
	ValidatedBy    string `json:"validated_by" binding:"required"`
	Strategy       string `json:"strategy" binding:"omitempty,oneof=blue-green rolling"`
	Environment    string `json:"environment" binding:"omitempty,oneof=production staging"`
	SkipValidation bool   `json:"skip_validation"`
}

// RollbackAPIRequest is the request body for POST /services/:service/rollback.
type RollbackAPIRequest struct {
	Version       string `json:"version"`
	ChangeControl string `json:"change_control" binding:"required,changecontrol"`
	ValidatedBy   string `json:"validated_by" binding:"required"`
	Environment   string `json:"environment" binding:"omitempty,oneof=production staging"`
}

// DeployAPIResponse is returned by the deploy and rollback endpoints.
type DeployAPIResponse struct {
	DeploymentID     string            `json:"deployment_id"`
	Service          string            `json:"service"`
	Version          string            `json:"version"`
	ComplianceStatus string            `json:"compliance_status"`
	FailureKind      string            `json:"failure_kind,omitempty"`
	Report           *ComplianceReport `json:"report,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	DatabaseAccessible bool   `json:"database_accessible"`
	PlatformAccessible bool   `json:"platform_accessible"`
}
