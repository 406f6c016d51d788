package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/okian/ladder/pkg/metrics"
)

// DefaultMaxTxEntities mirrors the write ceiling of hosted datastores.
const DefaultMaxTxEntities = 500

// MemStore is an in-memory Gateway. Transactions hold an exclusive lock for
// their whole duration, so they are fully serialized and never conflict.
type MemStore struct {
	mu       sync.RWMutex
	entities map[string]Entity // by encoded key path
	closed   bool

	maxTxEntities int
	newName       func() string
}

var _ Gateway = (*MemStore)(nil)

// NewMemStore constructs an empty store.
func NewMemStore(opts ...Option) *MemStore {
	s := &MemStore{
		entities:      make(map[string]Entity),
		maxTxEntities: DefaultMaxTxEntities,
		newName:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// memTx stages writes until the enclosing RunInTx commits. A nil entity Key marks a delete.
type memTx struct {
	s      *MemStore
	staged map[string]Entity
	order  []string
	count  int
}

func (t *memTx) stage(n int) error {
	t.count += n
	if t.s.maxTxEntities > 0 && t.count > t.s.maxTxEntities {
		return fmt.Errorf("%w: %d > %d", ErrTxTooLarge, t.count, t.s.maxTxEntities)
	}
	return nil
}

func (t *memTx) put(path string, e Entity) {
	if _, ok := t.staged[path]; !ok {
		t.order = append(t.order, path)
	}
	t.staged[path] = e
}

func (t *memTx) Exists(ctx context.Context, key *Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if key == nil || key.Incomplete() {
		return false, ErrIncompleteKey
	}
	path := key.Encode()
	if e, ok := t.staged[path]; ok {
		return e.Key != nil, nil
	}
	_, ok := t.s.entities[path]
	return ok, nil
}

func (t *memTx) PutAll(ctx context.Context, entities []Entity) ([]*Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.stage(len(entities)); err != nil {
		return nil, err
	}
	keys := make([]*Key, len(entities))
	for i, e := range entities {
		if e.Key == nil {
			return nil, ErrIncompleteKey
		}
		k := *e.Key
		if k.Incomplete() {
			k.Name = t.s.newName()
		}
		keys[i] = &k
		t.put(k.Encode(), Entity{Key: &k, Properties: maps.Clone(e.Properties)})
	}
	return keys, nil
}

func (t *memTx) DeleteAll(ctx context.Context, keys []*Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.stage(len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if k == nil || k.Incomplete() {
			return ErrIncompleteKey
		}
		t.put(k.Encode(), Entity{})
	}
	return nil
}

// RunInTx implements Gateway.
func (s *MemStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := &memTx{s: s, staged: make(map[string]Entity)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, path := range tx.order {
		if e := tx.staged[path]; e.Key != nil {
			s.entities[path] = e
		} else {
			delete(s.entities, path)
		}
	}
	metrics.UpdateStoreEntities(len(s.entities))
	return nil
}

// Query implements Gateway with a scan over all entities.
func (s *MemStore) Query(ctx context.Context, q Query) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	var after *Position
	var afterValue any
	if q.Cursor != "" {
		p, err := DecodeCursor(q.Cursor)
		if err != nil {
			return Page{}, err
		}
		if afterValue, err = p.DecodeValue(); err != nil {
			return Page{}, err
		}
		after = &p
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return Page{}, ErrClosed
	}
	prefix := ""
	if q.Ancestor != nil {
		prefix = q.Ancestor.Encode() + "/"
	}
	type row struct {
		path string
		e    Entity
	}
	var rows []row
	for path, e := range s.entities {
		if e.Key.Kind != q.Kind || !strings.HasPrefix(path, prefix) || !matches(e, q.Filters) {
			continue
		}
		rows = append(rows, row{path: path, e: e})
	}
	s.mu.RUnlock()

	dir := 1
	if q.Order != nil && q.Order.Desc {
		dir = -1
	}
	compare := func(v any, path string, w any, wpath string) int {
		c := 0
		if q.Order != nil {
			c = CompareValues(v, w)
		}
		if c == 0 {
			c = strings.Compare(path, wpath)
		}
		return c * dir
	}
	value := func(e Entity) any {
		if q.Order == nil {
			return nil
		}
		return e.Properties[q.Order.Field]
	}

	slices.SortFunc(rows, func(a, b row) int {
		return compare(value(a.e), a.path, value(b.e), b.path)
	})

	start := 0
	if after != nil {
		start, _ = slices.BinarySearchFunc(rows, after, func(r row, p *Position) int {
			if compare(value(r.e), r.path, afterValue, p.Path) <= 0 {
				return -1
			}
			return 1
		})
	}
	rows = rows[start:]

	var page Page
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
		last := rows[len(rows)-1]
		next, err := cursorFor(q, last.e, last.path)
		if err != nil {
			return Page{}, err
		}
		page.Next = next
	}

	page.Entities = make([]Entity, 0, len(rows))
	for _, r := range rows {
		page.Entities = append(page.Entities, project(r.e, q))
	}
	return page, nil
}

func cursorFor(q Query, e Entity, path string) (Cursor, error) {
	p := Position{Path: path}
	if q.Order != nil {
		raw, err := json.Marshal(e.Properties[q.Order.Field])
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrStorage, err)
		}
		p.Value = raw
	}
	return EncodeCursor(p)
}

func matches(e Entity, filters []Filter) bool {
	for _, f := range filters {
		v, ok := e.Properties[f.Field]
		if !ok || CompareValues(v, f.Value) != 0 {
			return false
		}
	}
	return true
}

func project(e Entity, q Query) Entity {
	key := *e.Key
	out := Entity{Key: &key}
	switch {
	case q.KeysOnly:
	case len(q.Projection) > 0:
		out.Properties = make(map[string]any, len(q.Projection))
		for _, f := range q.Projection {
			if v, ok := e.Properties[f]; ok {
				out.Properties[f] = v
			}
		}
	default:
		out.Properties = maps.Clone(e.Properties)
	}
	return out
}

// Len returns the number of stored entities.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// Close rejects further use. It is safe to call more than once.
func (s *MemStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
