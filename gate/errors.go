package gate

import (
	"errors"
	"fmt"
)

// Stage identifies one step of the deployment gate pipeline. Stage names
// double as the audit-trail action prefix for that step.
type Stage string

const (
	StagePreconditions   Stage = "PRECONDITIONS"
	StageCompliance      Stage = "COMPLIANCE_VALIDATION"
	StageProductionState Stage = "PRODUCTION_STATE_CHECK"
	StageSensors         Stage = "SENSOR_VALIDATION"
	StageIntegrity       Stage = "BATCH_INTEGRITY_CHECK"
	StageExecution       Stage = "DEPLOYMENT_EXECUTION"
	StagePostValidation  Stage = "POST_DEPLOYMENT_VALIDATION"
	StageReport          Stage = "REPORT_GENERATION"
	StageRollback        Stage = "ROLLBACK"
)

// Kind names a gate failure. Every fatal pipeline outcome maps to exactly
// one kind so operators and tests can match on it.
type Kind string

const (
	KindMissingChangeControl             Kind = "MissingChangeControl"
	KindMissingValidator                 Kind = "MissingValidator"
	KindDeploymentInProgress             Kind = "DeploymentInProgress"
	KindLeaseUnavailable                 Kind = "LeaseUnavailable"
	KindComplianceCheckFailed            Kind = "ComplianceCheckFailed"
	KindProductionActiveBlocksDeployment Kind = "ProductionActiveBlocksDeployment"
	KindStatusUnreachable                Kind = "StatusUnreachable"
	KindSensorUnreachable                Kind = "SensorUnreachable"
	KindSensorOutOfRange                 Kind = "SensorOutOfRange"
	KindIntegrityViolation               Kind = "IntegrityViolation"
	KindVersionNotFound                  Kind = "VersionNotFound"
	KindApplyFailed                      Kind = "ApplyFailed"
	KindRolloutTimeout                   Kind = "RolloutTimeout"
	KindReadinessTimeout                 Kind = "ReadinessTimeout"
	KindEfficiencyThresholdNotMet        Kind = "EfficiencyThresholdNotMet"
	KindComponentUnhealthy               Kind = "ComponentUnhealthy"
	KindAuditIntegrityFailed             Kind = "AuditIntegrityFailed"
	KindRollbackFailed                   Kind = "RollbackFailed"
)

// Error is a gate failure tied to the stage in which it occurred.
type Error struct {
	Stage  Stage
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Kind, so callers can use
// errors.Is(err, gate.ErrMissingValidator) and the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Stage == "" || e.Stage == t.Stage)
}

// Precondition sentinels. These are returned before any side effect; a
// request failing here produces zero audit entries.
var (
	ErrMissingChangeControl = &Error{Stage: StagePreconditions, Kind: KindMissingChangeControl, Detail: "change control number is required"}
	ErrMissingValidator     = &Error{Stage: StagePreconditions, Kind: KindMissingValidator, Detail: "validator identity is required"}
)

func stageError(stage Stage, kind Kind, detail string, err error) *Error {
	return &Error{Stage: stage, Kind: kind, Detail: detail, Err: err}
}

// FailureKind extracts the failure kind from a pipeline error, or "" if the
// error did not originate in the gate.
func FailureKind(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// FailureStage extracts the stage a pipeline error originated in.
func FailureStage(err error) Stage {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Stage
	}
	return ""
}
