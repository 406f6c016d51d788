// Package repository defines the hierarchical storage gateway shared by the
// ingestion and read paths, together with an in-memory engine.
package repository

import "context"

// Entity is a keyed bag of properties.
type Entity struct {
	Key        *Key
	Properties map[string]any
}

// Filter is an equality predicate on one property.
type Filter struct {
	Field string
	Value any
}

// Order sorts by one property. Ties are broken by key path in the same direction.
type Order struct {
	Field string
	Desc  bool
}

// Query selects entities of Kind that descend from Ancestor.
type Query struct {
	Kind     string
	Ancestor *Key
	Filters  []Filter
	// Order is optional; without it results are sorted by key path.
	Order *Order
	// Projection limits the returned properties. Engines may return more.
	Projection []string
	KeysOnly   bool
	// Limit <= 0 returns every match in one page.
	Limit  int
	Cursor Cursor
}

// Page is one slice of query results. Next is empty iff no further entity matches.
type Page struct {
	Entities []Entity
	Next     Cursor
}

// Tx is the write surface available inside Gateway.RunInTx.
type Tx interface {
	// Exists reports whether an entity is stored at key, including writes staged by this Tx.
	Exists(ctx context.Context, key *Key) (bool, error)
	// PutAll stages entities and returns their complete keys. Incomplete keys receive a generated name.
	PutAll(ctx context.Context, entities []Entity) ([]*Key, error)
	// DeleteAll stages removal of keys. Missing keys are ignored.
	DeleteAll(ctx context.Context, keys []*Key) error
}

// Gateway provides transactional writes and ancestor-scoped paginated reads.
type Gateway interface {
	// RunInTx executes fn atomically. Nothing fn staged is visible unless fn returns nil
	// and the commit succeeds.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Query returns one page. It must not be called from inside RunInTx.
	Query(ctx context.Context, q Query) (Page, error)
	Close() error
}
