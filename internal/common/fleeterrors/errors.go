// Package fleeterrors contains generic errors returned by the head and the factories.
// The directive dispatcher and the campaign manager look for the error types defined in this file
// to decide how a failure surfaces: as a failed feedback, a rejected scenario or a dropped record.
//
// If multiple errors occur in some function (e.g., if several step hooks fail), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package fleeterrors

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "scenario" or "campaign"
	Value   string // Resource name, e.g., "checkout"
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
//
// See ErrAlreadyExists for more info.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "speedFactor"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	} else {
		return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
	}
}

// ErrSpecification is returned when a scenario graph is malformed: a cycle, a duplicate step name
// or a reference to a step that does not exist. Such errors are raised while the graph is built
// and never reach a running campaign.
type ErrSpecification struct {
	Scenario string
	Dag      string
	Step     string
	Message  string
}

func (err *ErrSpecification) Error() string {
	location := err.Scenario
	if err.Dag != "" {
		location += "/" + err.Dag
	}
	if err.Step != "" {
		location += "/" + err.Step
	}
	return fmt.Sprintf("invalid scenario specification at %s: %s", location, err.Message)
}

// ErrTimeout is returned when a suspended operation gave up waiting.
type ErrTimeout struct {
	Operation string
	Timeout   time.Duration
	Message   string
}

func (err *ErrTimeout) Error() string {
	s := fmt.Sprintf("%s timed out after %s", err.Operation, err.Timeout)
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// Category classifies an error along the lines the orchestration layer reacts to.
type Category string

const (
	CategoryNone          Category = ""
	CategorySpecification Category = "specification"
	CategoryTimeout       Category = "timeout"
	CategoryMisuse        Category = "misuse"
	CategoryNotFound      Category = "not-found"
	CategoryConflict      Category = "conflict"
	CategoryCoordination  Category = "coordination"
)

// CategoryFromError maps error types to their category.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func CategoryFromError(err error) Category {
	if err == nil {
		return CategoryNone
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrSpecification
		if errors.As(err, &e) {
			return CategorySpecification
		}
	}
	{
		var e *ErrTimeout
		if errors.As(err, &e) {
			return CategoryTimeout
		}
	}
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return CategoryMisuse
		}
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return CategoryNotFound
		}
	}
	{
		var e *ErrAlreadyExists
		if errors.As(err, &e) {
			return CategoryConflict
		}
	}

	return CategoryCoordination
}

// IsTimeout returns true if err is, or wraps, an *ErrTimeout.
func IsTimeout(err error) bool {
	return CategoryFromError(err) == CategoryTimeout
}

// IsSpecification returns true if err is, or wraps, an *ErrSpecification.
func IsSpecification(err error) bool {
	return CategoryFromError(err) == CategorySpecification
}

// IsNotFound returns true if err is, or wraps, an *ErrNotFound.
func IsNotFound(err error) bool {
	return CategoryFromError(err) == CategoryNotFound
}
