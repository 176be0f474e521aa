package fleeterrors

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCategoryFromError(t *testing.T) {
	tests := map[string]struct {
		err  error
		want Category
	}{
		"ErrSpecification":                {&ErrSpecification{}, CategorySpecification},
		"ErrTimeout":                      {&ErrTimeout{}, CategoryTimeout},
		"ErrInvalidArgument":              {&ErrInvalidArgument{}, CategoryMisuse},
		"ErrNotFound":                     {&ErrNotFound{}, CategoryNotFound},
		"ErrAlreadyExists":                {&ErrAlreadyExists{}, CategoryConflict},
		"pkg.Error => ErrSpecification":   {errors.WithMessage(&ErrSpecification{}, "foo"), CategorySpecification},
		"pkg.Error => ErrTimeout":         {errors.Wrap(&ErrTimeout{}, "foo"), CategoryTimeout},
		"pkg.Error => ErrInvalidArgument": {errors.WithMessage(&ErrInvalidArgument{}, "foo"), CategoryMisuse},
		"pkg.Error":                       {errors.New("foo"), CategoryCoordination},
		"nil":                             {nil, CategoryNone},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, CategoryFromError(tc.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t,
		`resource "checkout" of type "scenario" does not exist`,
		(&ErrNotFound{Type: "scenario", Value: "checkout"}).Error())
	assert.Equal(t,
		`resource "c1" already exists; started twice`,
		(&ErrAlreadyExists{Value: "c1", Message: "started twice"}).Error())
	assert.Equal(t,
		`value -1 is invalid for field "count"; latch does not allow negative values`,
		(&ErrInvalidArgument{Name: "count", Value: -1, Message: "latch does not allow negative values"}).Error())
	assert.Equal(t,
		"invalid scenario specification at s1/d1/step-3: cycle detected",
		(&ErrSpecification{Scenario: "s1", Dag: "d1", Step: "step-3", Message: "cycle detected"}).Error())
	assert.Equal(t,
		"find step timed out after 10s",
		(&ErrTimeout{Operation: "find step", Timeout: 10 * time.Second}).Error())
}

func TestIsHelpers(t *testing.T) {
	assert.True(t, IsTimeout(errors.WithStack(&ErrTimeout{})))
	assert.False(t, IsTimeout(errors.New("boom")))
	assert.True(t, IsSpecification(&ErrSpecification{}))
	assert.True(t, IsNotFound(errors.Wrap(&ErrNotFound{}, "lookup")))
}
