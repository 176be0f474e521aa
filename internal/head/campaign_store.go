package head

import (
	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

const (
	campaignsTable = "campaigns"
	keyIndex       = "id"
	stateIndex     = "state"
)

// CampaignStore keeps the campaigns known to the head. It is implemented on top of go-memdb, so that readers get a
// consistent snapshot while the manager updates the campaigns.
type CampaignStore struct {
	db *memdb.MemDB
}

func NewCampaignStore() (*CampaignStore, error) {
	db, err := memdb.NewMemDB(campaignStoreSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &CampaignStore{db: db}, nil
}

// Upsert inserts a copy of the campaigns, or replaces the stored ones with the same key.
func (s *CampaignStore) Upsert(campaigns ...*RunningCampaign) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	for _, campaign := range campaigns {
		if err := txn.Insert(campaignsTable, campaign.DeepCopy()); err != nil {
			return errors.WithStack(err)
		}
	}
	txn.Commit()
	return nil
}

// Get returns the campaign with the given key or nil if no such campaign exists.
// The campaign returned by this function *must not* be subsequently modified.
func (s *CampaignStore) Get(key string) (*RunningCampaign, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	result, err := txn.First(campaignsTable, keyIndex, key)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if result == nil {
		return nil, nil
	}
	return result.(*RunningCampaign), nil
}

// All returns the campaigns sorted by key.
func (s *CampaignStore) All() ([]*RunningCampaign, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(campaignsTable, keyIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return collectCampaigns(iter), nil
}

// InState returns the campaigns in one of the states, sorted by state then key.
func (s *CampaignStore) InState(states ...CampaignState) ([]*RunningCampaign, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	var result []*RunningCampaign
	for _, state := range states {
		iter, err := txn.Get(campaignsTable, stateIndex, string(state))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		result = append(result, collectCampaigns(iter)...)
	}
	return result, nil
}

// Active returns the campaigns that are not over yet.
func (s *CampaignStore) Active() ([]*RunningCampaign, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	active := make([]*RunningCampaign, 0, len(all))
	for _, campaign := range all {
		if !campaign.State.IsFinal() {
			active = append(active, campaign)
		}
	}
	return active, nil
}

// Delete removes the campaign with the given key. Unknown keys are ignored.
func (s *CampaignStore) Delete(key string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(campaignsTable, keyIndex, key); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func collectCampaigns(iter memdb.ResultIterator) []*RunningCampaign {
	result := make([]*RunningCampaign, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		result = append(result, obj.(*RunningCampaign))
	}
	return result
}

func campaignStoreSchema() *memdb.DBSchema {
	indexes := make(map[string]*memdb.IndexSchema)
	indexes[keyIndex] = &memdb.IndexSchema{
		Name:    keyIndex,
		Unique:  true,
		Indexer: &memdb.StringFieldIndex{Field: "Key"},
	}
	indexes[stateIndex] = &memdb.IndexSchema{
		Name:    stateIndex,
		Unique:  false,
		Indexer: &memdb.StringFieldIndex{Field: "State"},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			campaignsTable: {
				Name:    campaignsTable,
				Indexes: indexes,
			},
		},
	}
}
