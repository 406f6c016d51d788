package repository

// Option applies a configuration option to the MemStore.
type Option func(*MemStore)

// WithMaxTxEntities sets the per-transaction ceiling on staged puts and deletes.
// Non-positive values disable the check.
func WithMaxTxEntities(n int) Option {
	return func(s *MemStore) {
		s.maxTxEntities = n
	}
}

// WithKeyNamer overrides the generator used for incomplete keys.
func WithKeyNamer(fn func() string) Option {
	return func(s *MemStore) {
		if fn != nil {
			s.newName = fn
		}
	}
}
