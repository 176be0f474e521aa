package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewULID_IsSortable(t *testing.T) {
	previous := NewULID()
	for i := 0; i < 100; i++ {
		next := NewULID()
		assert.Less(t, previous, next)
		assert.Equal(t, strings.ToLower(next), next)
		previous = next
	}
}

func TestNewCampaignKey(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewCampaignKey(), "campaign-"))
	assert.NotEqual(t, NewMinionID(), NewMinionID())
}
