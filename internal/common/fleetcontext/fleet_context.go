// Package fleetcontext carries a logger tagged with the campaign, scenario or node being worked on alongside a Go
// context, so that every blocking operation of the fleet logs with the same fields.
package fleetcontext

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Log fields shared by the head and the factories.
const (
	CampaignField  = "campaign"
	ScenarioField  = "scenario"
	NodeField      = "node"
	DirectiveField = "directive"
)

type Context struct {
	context.Context
	Log *logrus.Entry
}

// Background creates an empty context logging to the standard logger.
func Background() *Context {
	return &Context{
		Context: context.Background(),
		Log:     logrus.NewEntry(logrus.StandardLogger()),
	}
}

func derive(parent *Context, ctx context.Context) *Context {
	return &Context{Context: ctx, Log: parent.Log}
}

func WithCancel(parent *Context) (*Context, context.CancelFunc) {
	c, cancel := context.WithCancel(parent.Context)
	return derive(parent, c), cancel
}

func WithTimeout(parent *Context, timeout time.Duration) (*Context, context.CancelFunc) {
	c, cancel := context.WithTimeout(parent.Context, timeout)
	return derive(parent, c), cancel
}

// WithLogField returns a copy of parent with the key-value added to the logger.
func WithLogField(parent *Context, key string, val interface{}) *Context {
	return &Context{Context: parent.Context, Log: parent.Log.WithField(key, val)}
}

func WithLogFields(parent *Context, fields logrus.Fields) *Context {
	return &Context{Context: parent.Context, Log: parent.Log.WithFields(fields)}
}

// ForCampaign tags the logger with the campaign key.
func ForCampaign(parent *Context, campaign string) *Context {
	return WithLogField(parent, CampaignField, campaign)
}

// ForNode tags the logger with the identifier of the head or factory the process runs.
func ForNode(parent *Context, node string) *Context {
	return WithLogField(parent, NodeField, node)
}

// ErrGroup returns a new errgroup.Group and a context cancelled when one of its functions fails.
func ErrGroup(ctx *Context) (*errgroup.Group, *Context) {
	group, goctx := errgroup.WithContext(ctx)
	return group, derive(ctx, goctx)
}
