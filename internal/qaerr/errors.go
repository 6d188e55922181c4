// internal/qaerr/errors.go
package qaerr

import (
	"errors"
	"fmt"
)

// ErrorCode is a string type used for structured error reporting across the framework.
// Using a custom type ensures that only predefined constants can be used where an
// ErrorCode is expected.
type ErrorCode string

const (
	// -- General Framework Errors --
	ErrCodeFrameworkFailure  ErrorCode = "FRAMEWORK_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeConfiguration     ErrorCode = "CONFIGURATION_ERROR"

	// -- Browser/DOM Errors --
	ErrCodeNoLocators      ErrorCode = "NO_LOCATORS"
	ErrCodeElementNotFound ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeTimeoutError    ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNavigationError ErrorCode = "NAVIGATION_ERROR"
	ErrCodeSessionFailure  ErrorCode = "SESSION_FAILURE"

	// -- API Errors --
	ErrCodeRequestFailed    ErrorCode = "REQUEST_FAILED"
	ErrCodeUnknownTokenType ErrorCode = "UNKNOWN_TOKEN_TYPE"
	ErrCodeAuthFailed       ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeExtractionFailed ErrorCode = "EXTRACTION_FAILED"
)

// Kind places an error in the framework's small error hierarchy.
type Kind int

const (
	// KindFramework is the root of the hierarchy.
	KindFramework Kind = iota
	// KindAPI covers HTTP and authentication failures.
	KindAPI
	// KindPageObject covers element lookup and page interaction failures.
	KindPageObject
	// KindDriver covers browser process and session failures.
	KindDriver
)

func (k Kind) String() string {
	switch k {
	case KindAPI:
		return "api"
	case KindPageObject:
		return "page_object"
	case KindDriver:
		return "driver"
	default:
		return "framework"
	}
}

// FrameworkError is the single concrete error type of the framework. It is tagged with
// an error code and the component that raised it, and otherwise carries only a message
// and an optional cause.
type FrameworkError struct {
	Kind      Kind
	Code      ErrorCode
	Component string
	Message   string
	Err       error
}

func (e *FrameworkError) Error() string {
	prefix := fmt.Sprintf("[%s] %s", e.Code, e.Component)
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *FrameworkError) Unwrap() error { return e.Err }

// Is reports a match when target is a FrameworkError with the same code. A target
// without a code matches on Kind alone, which lets callers ask "is this any API error".
func (e *FrameworkError) Is(target error) bool {
	t, ok := target.(*FrameworkError)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Code == e.Code
}

// Framework creates a root-kind error.
func Framework(code ErrorCode, component, msg string, err error) *FrameworkError {
	return &FrameworkError{Kind: KindFramework, Code: code, Component: component, Message: msg, Err: err}
}

// API creates an API-kind error.
func API(code ErrorCode, component, msg string, err error) *FrameworkError {
	return &FrameworkError{Kind: KindAPI, Code: code, Component: component, Message: msg, Err: err}
}

// PageObject creates a page-object-kind error.
func PageObject(code ErrorCode, component, msg string, err error) *FrameworkError {
	return &FrameworkError{Kind: KindPageObject, Code: code, Component: component, Message: msg, Err: err}
}

// Driver creates a driver-kind error.
func Driver(code ErrorCode, component, msg string, err error) *FrameworkError {
	return &FrameworkError{Kind: KindDriver, Code: code, Component: component, Message: msg, Err: err}
}

// Kind-only targets for errors.Is.
var (
	AnyAPI        = &FrameworkError{Kind: KindAPI}
	AnyPageObject = &FrameworkError{Kind: KindPageObject}
	AnyDriver     = &FrameworkError{Kind: KindDriver}
)

// CodeOf extracts the ErrorCode from anywhere in the chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
