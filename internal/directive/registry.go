package directive

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Registry stores the payloads of the directives of each campaign.
//
// A queue hands out each value exactly once across all the nodes, a list returns the same values to every
// reader and a single-use value is returned to the first reader only.
type Registry interface {
	SaveQueue(ctx context.Context, campaign, key string, values []string) error
	// Pop returns false once the queue is exhausted.
	Pop(ctx context.Context, campaign, key string) (string, bool, error)
	SaveList(ctx context.Context, campaign, key string, values []string) error
	List(ctx context.Context, campaign, key string) ([]string, error)
	SaveSingleUse(ctx context.Context, campaign, key, value string) error
	// ReadSingleUse returns false if the value was already read or never saved.
	ReadSingleUse(ctx context.Context, campaign, key string) (string, bool, error)
	// SaveMinionIDs keeps the ids of the minions under load of a scenario for the ramp-up.
	SaveMinionIDs(ctx context.Context, campaign, scenario string, ids []string) error
	MinionIDs(ctx context.Context, campaign, scenario string) ([]string, error)
	// Clean forgets everything saved for campaign.
	Clean(ctx context.Context, campaign string) error
}

func minionIDsKey(scenario string) string {
	return "minion-ids:" + scenario
}

// SaveCount saves a count as a single-use value.
func SaveCount(ctx context.Context, r Registry, campaign, key string, count int) error {
	return r.SaveSingleUse(ctx, campaign, key, strconv.Itoa(count))
}

// ReadCount reads a count saved with SaveCount. It returns false when another reader took it first.
func ReadCount(ctx context.Context, r Registry, campaign, key string) (int, bool, error) {
	value, found, err := r.ReadSingleUse(ctx, campaign, key)
	if err != nil || !found {
		return 0, found, err
	}
	count, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, errors.Wrapf(err, "single-use value %s is not a count", key)
	}
	return count, true, nil
}

type rowKind int

const (
	queueRow rowKind = iota
	listRow
	singleUseRow
)

// row is the unit of locking of the memory registry.
type row struct {
	mu     sync.Mutex
	kind   rowKind
	values []string
}

// MemoryRegistry keeps the payloads in process memory, for single-process deployments. Each campaign has its own
// map of rows, and each row its own lock.
type MemoryRegistry struct {
	campaigns sync.Map // campaign -> *sync.Map of key -> *row
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{}
}

func (r *MemoryRegistry) rows(campaign string) *sync.Map {
	rows, _ := r.campaigns.LoadOrStore(campaign, &sync.Map{})
	return rows.(*sync.Map)
}

func (r *MemoryRegistry) save(campaign, key string, kind rowKind, values []string) {
	r.rows(campaign).Store(key, &row{kind: kind, values: append([]string(nil), values...)})
}

func (r *MemoryRegistry) load(campaign, key string, kind rowKind) (*row, error) {
	value, ok := r.rows(campaign).Load(key)
	if !ok {
		return nil, nil
	}
	row := value.(*row)
	if row.kind != kind {
		return nil, errors.Errorf("registry entry %s of campaign %s has another type", key, campaign)
	}
	return row, nil
}

func (r *MemoryRegistry) SaveQueue(_ context.Context, campaign, key string, values []string) error {
	r.save(campaign, key, queueRow, values)
	return nil
}

func (r *MemoryRegistry) Pop(_ context.Context, campaign, key string) (string, bool, error) {
	row, err := r.load(campaign, key, queueRow)
	if row == nil || err != nil {
		return "", false, err
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if len(row.values) == 0 {
		return "", false, nil
	}
	value := row.values[0]
	row.values = row.values[1:]
	return value, true, nil
}

func (r *MemoryRegistry) SaveList(_ context.Context, campaign, key string, values []string) error {
	r.save(campaign, key, listRow, values)
	return nil
}

func (r *MemoryRegistry) List(_ context.Context, campaign, key string) ([]string, error) {
	row, err := r.load(campaign, key, listRow)
	if row == nil || err != nil {
		return nil, err
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	return append([]string(nil), row.values...), nil
}

func (r *MemoryRegistry) SaveSingleUse(_ context.Context, campaign, key, value string) error {
	r.save(campaign, key, singleUseRow, []string{value})
	return nil
}

func (r *MemoryRegistry) ReadSingleUse(_ context.Context, campaign, key string) (string, bool, error) {
	value, ok := r.rows(campaign).LoadAndDelete(key)
	if !ok {
		return "", false, nil
	}
	row := value.(*row)
	if row.kind != singleUseRow {
		return "", false, errors.Errorf("registry entry %s of campaign %s is not a single-use value", key, campaign)
	}
	return row.values[0], true, nil
}

func (r *MemoryRegistry) SaveMinionIDs(ctx context.Context, campaign, scenario string, ids []string) error {
	return r.SaveList(ctx, campaign, minionIDsKey(scenario), ids)
}

func (r *MemoryRegistry) MinionIDs(ctx context.Context, campaign, scenario string) ([]string, error) {
	return r.List(ctx, campaign, minionIDsKey(scenario))
}

func (r *MemoryRegistry) Clean(_ context.Context, campaign string) error {
	r.campaigns.Delete(campaign)
	return nil
}
