package aggregate

import "context"

// StateBackend is the slice of the Postgres store that keeps progress.
type StateBackend interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, ts uint64) error
}

// DBStateStore stores state in the indexer_state table.
type DBStateStore struct {
	Store StateBackend
	Name  string
}

func (s *DBStateStore) Load(ctx context.Context) (uint64, bool, error) {
	if s == nil || s.Store == nil {
		return 0, false, nil
	}
	return s.Store.LoadState(ctx, s.Name)
}

func (s *DBStateStore) Save(ctx context.Context, ts uint64) error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.SaveState(ctx, s.Name, ts)
}
