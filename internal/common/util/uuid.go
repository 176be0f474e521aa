package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

var (
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	m       sync.Mutex
)

// NewULID returns a lower-case, lexically sortable identifier. Identifiers created by one process are monotonic.
func NewULID() string {
	m.Lock()
	defer m.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

// NewCampaignKey returns the key of a new campaign. Keys sort by creation time.
func NewCampaignKey() string {
	return "campaign-" + NewULID()
}

// NewMinionID returns a random identifier of a minion.
func NewMinionID() string {
	return uuid.NewString()
}
