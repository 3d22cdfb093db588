package models

import "fmt"

// Code is a stable machine-readable reason surfaced to callers
type Code string

const (
	CodeInvalidInput             Code = "INVALID_INPUT"
	CodeRouteNotFound            Code = "ROUTE_NOT_FOUND"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeAlreadyExists            Code = "ALREADY_EXISTS"
	CodeRouteNotScoped           Code = "ROUTE_NOT_SCOPED"
	CodeBudgetExceeded           Code = "BUDGET_EXCEEDED"
	CodeRateLimited              Code = "RATE_LIMITED"
	CodeScopeDenied              Code = "SCOPE_DENIED"
	CodeNoFacilitatorAvailable   Code = "NO_FACILITATOR_AVAILABLE"
	CodeReplayDetected           Code = "REPLAY_DETECTED"
	CodeVerificationFailed       Code = "VERIFICATION_FAILED"
	CodeVerificationTimeout      Code = "VERIFICATION_TIMEOUT"
	CodeOracleUnavailable        Code = "ORACLE_UNAVAILABLE"
	CodeInvalidSignature         Code = "INVALID_SIGNATURE"
	CodeAuthorizationExpired     Code = "AUTHORIZATION_EXPIRED"
	CodeAuthorizationNotYetValid Code = "AUTHORIZATION_NOT_YET_VALID"
	CodeInternal                 Code = "INTERNAL"
)

// IsVerificationFailure reports codes produced by signature or chain checks
func (c Code) IsVerificationFailure() bool {
	switch c {
	case CodeVerificationFailed, CodeInvalidSignature, CodeAuthorizationExpired, CodeAuthorizationNotYetValid:
		return true
	}
	return false
}

// RouterError carries a code to the HTTP boundary
type RouterError struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewRouterError builds a RouterError
func NewRouterError(code Code, format string, args ...interface{}) *RouterError {
	return &RouterError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a detail entry and returns the error
func (e *RouterError) WithDetail(key string, value interface{}) *RouterError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}
