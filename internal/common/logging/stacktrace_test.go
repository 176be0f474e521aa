package logging

import (
	"fmt"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestExtractStack(t *testing.T) {
	assert.Nil(t, ExtractStack(fmt.Errorf("plain")))
	assert.NotNil(t, ExtractStack(errors.New("with stack")))
	assert.NotNil(t, ExtractStack(fmt.Errorf("wrapped: %w", errors.New("with stack"))))
	assert.NotNil(t, ExtractStack(multierror.Append(nil, errors.New("first"), fmt.Errorf("second"))))
	assert.Nil(t, ExtractStack(nil))
}

func TestWithStacktrace(t *testing.T) {
	entry := logrus.NewEntry(logrus.New())
	err := multierror.Append(nil, errors.New("first"), fmt.Errorf("second"))

	logged := WithStacktrace(entry, err)

	assert.Equal(t, err, logged.Data[logrus.ErrorKey])
	assert.Equal(t, 2, logged.Data[ErrorCount])
	assert.Contains(t, logged.Data, Stacktrace)
}
