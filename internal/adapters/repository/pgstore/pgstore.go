// Package pgstore implements the repository gateway on Postgres with bun,
// keeping every entity in one table keyed by its encoded ancestor path.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/okian/ladder/internal/adapters/repository"
)

type entityRow struct {
	bun.BaseModel `bun:"table:ladder_entities,alias:e"`

	Path       string         `bun:"path,pk"`
	Kind       string         `bun:"kind,notnull"`
	ParentPath string         `bun:"parent_path,notnull"`
	Properties map[string]any `bun:"properties,type:jsonb"`

	// OrderValue carries the sort key of query results for cursor building.
	OrderValue json.RawMessage `bun:"order_value,scanonly"`
}

// Store is a Postgres-backed repository.Gateway.
type Store struct {
	db      *bun.DB
	newName func() string
}

var _ repository.Gateway = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithKeyNamer overrides the generator used for incomplete keys.
func WithKeyNamer(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newName = fn
		}
	}
}

// Open connects with pgdriver. The connection is lazy; call EnsureSchema to verify it.
func Open(dsn string, opts ...Option) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return New(bun.NewDB(sqldb, pgdialect.New()), opts...)
}

// New wraps an existing bun database.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{db: db, newName: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the entity table and its indexes if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*entityRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return mapErr(err)
	}
	if _, err := s.db.NewCreateIndex().Model((*entityRow)(nil)).
		Index("ladder_entities_kind_path_idx").
		ColumnExpr("kind").
		ColumnExpr("path text_pattern_ops").
		IfNotExists().Exec(ctx); err != nil {
		return mapErr(err)
	}
	if _, err := s.db.NewCreateIndex().Model((*entityRow)(nil)).
		Index("ladder_entities_properties_idx").
		Using("GIN").
		Column("properties").
		IfNotExists().Exec(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

// mapErr classifies driver errors. Serialization failures, deadlocks and
// unique violations are conflicts; everything else is a storage failure.
func mapErr(err error) error {
	if err == nil || errors.Is(err, repository.ErrStorage) {
		return err
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Field('C') {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %w", repository.ErrConflict, err)
		}
	}
	return fmt.Errorf("%w: %w", repository.ErrStorage, err)
}

// RunInTx runs fn in a serializable transaction. Errors returned by fn pass through unchanged.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	var fnErr error
	err := s.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		fnErr = fn(ctx, &pgTx{tx: tx, newName: s.newName})
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return mapErr(err)
}

type pgTx struct {
	tx      bun.Tx
	newName func() string
}

func (t *pgTx) Exists(ctx context.Context, key *repository.Key) (bool, error) {
	if key == nil || key.Incomplete() {
		return false, repository.ErrIncompleteKey
	}
	ok, err := t.tx.NewSelect().Model((*entityRow)(nil)).Where("e.path = ?", key.Encode()).Exists(ctx)
	return ok, mapErr(err)
}

func (t *pgTx) PutAll(ctx context.Context, entities []repository.Entity) ([]*repository.Key, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	keys := make([]*repository.Key, len(entities))
	rows := make([]entityRow, len(entities))
	for i, e := range entities {
		if e.Key == nil {
			return nil, repository.ErrIncompleteKey
		}
		k := *e.Key
		if k.Incomplete() {
			k.Name = t.newName()
		}
		keys[i] = &k
		props := e.Properties
		if props == nil {
			props = map[string]any{}
		}
		rows[i] = entityRow{Path: k.Encode(), Kind: k.Kind, ParentPath: k.Parent.Encode(), Properties: props}
	}
	_, err := t.tx.NewInsert().Model(&rows).
		On("CONFLICT (path) DO UPDATE").
		Set("properties = EXCLUDED.properties").
		Exec(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return keys, nil
}

func (t *pgTx) DeleteAll(ctx context.Context, keys []*repository.Key) error {
	if len(keys) == 0 {
		return nil
	}
	paths := make([]string, len(keys))
	for i, k := range keys {
		if k == nil || k.Incomplete() {
			return repository.ErrIncompleteKey
		}
		paths[i] = k.Encode()
	}
	_, err := t.tx.NewDelete().Model((*entityRow)(nil)).Where("e.path IN (?)", bun.In(paths)).Exec(ctx)
	return mapErr(err)
}

const orderValueExpr = "COALESCE(e.properties->?, 'null'::jsonb)"

// Query implements repository.Gateway with keyset pagination over (order value, path).
func (s *Store) Query(ctx context.Context, q repository.Query) (repository.Page, error) {
	var rows []entityRow
	sq := s.db.NewSelect().Model(&rows).Column("path", "kind", "parent_path").Where("e.kind = ?", q.Kind)

	switch {
	case q.KeysOnly:
	case len(q.Projection) > 0:
		sq = sq.ColumnExpr("(SELECT jsonb_object_agg(p.key, p.value) FROM jsonb_each(e.properties) AS p WHERE p.key IN (?)) AS properties", bun.In(q.Projection))
	default:
		sq = sq.Column("properties")
	}

	if q.Ancestor != nil {
		sq = sq.Where("starts_with(e.path, ?)", q.Ancestor.Encode()+"/")
	}
	for _, f := range q.Filters {
		doc, err := json.Marshal(map[string]any{f.Field: f.Value})
		if err != nil {
			return repository.Page{}, fmt.Errorf("%w: filter %s: %w", repository.ErrStorage, f.Field, err)
		}
		sq = sq.Where("e.properties @> CAST(? AS jsonb)", string(doc))
	}

	dir, cmp := "ASC", ">"
	if q.Order != nil && q.Order.Desc {
		dir, cmp = "DESC", "<"
	}

	if q.Cursor != "" {
		pos, err := repository.DecodeCursor(q.Cursor)
		if err != nil {
			return repository.Page{}, err
		}
		if q.Order != nil {
			value := string(pos.Value)
			if value == "" {
				value = "null"
			}
			sq = sq.Where("("+orderValueExpr+", e.path) "+cmp+" (CAST(? AS jsonb), ?)", q.Order.Field, value, pos.Path)
		} else {
			sq = sq.Where("e.path "+cmp+" ?", pos.Path)
		}
	}

	if q.Order != nil {
		sq = sq.ColumnExpr(orderValueExpr+" AS order_value", q.Order.Field).
			OrderExpr(orderValueExpr+" "+dir+", e.path "+dir, q.Order.Field)
	} else {
		sq = sq.OrderExpr("e.path " + dir)
	}
	if q.Limit > 0 {
		sq = sq.Limit(q.Limit + 1)
	}

	if err := sq.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return repository.Page{}, mapErr(err)
	}

	var page repository.Page
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
		last := rows[len(rows)-1]
		next, err := repository.EncodeCursor(repository.Position{Value: last.OrderValue, Path: last.Path})
		if err != nil {
			return repository.Page{}, err
		}
		page.Next = next
	}

	page.Entities = make([]repository.Entity, 0, len(rows))
	for _, r := range rows {
		key, err := repository.ParseKey(r.Path)
		if err != nil {
			return repository.Page{}, fmt.Errorf("%w: %w", repository.ErrStorage, err)
		}
		e := repository.Entity{Key: key}
		if !q.KeysOnly {
			e.Properties = r.Properties
			if e.Properties == nil {
				e.Properties = map[string]any{}
			}
		}
		page.Entities = append(page.Entities, e)
	}
	return page, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Truncate removes every entity. Intended for tests and local resets.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.db.NewTruncateTable().Model((*entityRow)(nil)).Exec(ctx)
	return mapErr(err)
}
