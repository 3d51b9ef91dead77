package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Value != "" {
		return fmt.Sprintf("%s: %s (value: %q)", ve.Field, ve.Message, ve.Value)
	}
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ves ValidationErrors) Error() string {
	if len(ves) == 0 {
		return ""
	}
	if len(ves) == 1 {
		return ves[0].Error()
	}

	var messages []string
	for _, ve := range ves {
		messages = append(messages, ve.Error())
	}
	return fmt.Sprintf("multiple validation errors: %s", strings.Join(messages, "; "))
}

// changeControlPattern matches change-control references as the
// change-management system issues them, e.g. CC-1001 or CHG0042117.
// Whitespace inside a reference is never valid.
var changeControlPattern = regexp.MustCompile(`^\S+$`)

// NewValidator creates a new validator with custom validation rules
func NewValidator() *validator.Validate {
	v := validator.New()

	v.RegisterValidation("changecontrol", validateChangeControl)

	return v
}

// RegisterCustomValidations registers the gate's custom rules on an existing
// validator engine (gin's binding validator).
func RegisterCustomValidations(v *validator.Validate) error {
	return v.RegisterValidation("changecontrol", validateChangeControl)
}

func validateChangeControl(fl validator.FieldLevel) bool {
	value := strings.TrimSpace(fl.Field().String())
	if value == "" {
		return false
	}
	return changeControlPattern.MatchString(value)
}

// ValidateRequest validates a deployment request with detailed error
// messages. The orchestrator runs its own precondition checks as well; this
// catches malformed input at the API boundary before any work starts.
func ValidateRequest(req *DeploymentRequest) error {
	var errs ValidationErrors

	if strings.TrimSpace(req.Service) == "" {
		errs = append(errs, ValidationError{Field: "service", Message: "service name is required"})
	}
	if strings.TrimSpace(req.ChangeControl) == "" {
		errs = append(errs, ValidationError{Field: "change_control", Message: "change control number is required"})
	}
	if strings.TrimSpace(req.ValidatedBy) == "" {
		errs = append(errs, ValidationError{Field: "validated_by", Message: "validator identity is required"})
	}
	switch req.Strategy {
	case StrategyBlueGreen, StrategyRolling:
	default:
		errs = append(errs, ValidationError{Field: "strategy", Message: "must be blue-green or rolling", Value: string(req.Strategy)})
	}
	switch req.Environment {
	case EnvironmentProduction, EnvironmentStaging:
	default:
		errs = append(errs, ValidationError{Field: "environment", Message: "must be production or staging", Value: string(req.Environment)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
