package logging

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	Stacktrace = "stacktrace"
	ErrorCount = "errorCount"
)

// Unexported but considered part of the stable interface of pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// WithStacktrace returns a new logrus.Entry obtained by adding error information and, if available, a stack trace
// as fields to the provided logrus.Entry. Aggregated errors also report how many errors they hold.
func WithStacktrace(logger *logrus.Entry, err error) *logrus.Entry {
	logger = logger.WithError(err)
	if merr, ok := err.(*multierror.Error); ok {
		logger = logger.WithField(ErrorCount, len(merr.Errors))
	}
	if stack := ExtractStack(err); stack != nil {
		logger = logger.WithField(Stacktrace, stack)
	}
	return logger
}

// ExtractStack walks down the chain of errors and retrieves the first errors.StackTrace it encounters.
// The first error of an aggregate is searched. If no stacktraces are found, it returns nil.
func ExtractStack(err error) errors.StackTrace {
	for err != nil {
		if stackErr, ok := err.(stackTracer); ok {
			return stackErr.StackTrace()
		}
		if merr, ok := err.(*multierror.Error); ok {
			if len(merr.Errors) == 0 {
				return nil
			}
			err = merr.Errors[0]
			continue
		}
		err = errors.Unwrap(err)
	}
	return nil
}
