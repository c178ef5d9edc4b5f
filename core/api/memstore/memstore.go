// Package memstore provides an in-memory storage driver. It implements the
// full storage contract including relationships and pagination, and is meant
// for tests and small tools; data does not survive a restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/distill-api/distill/core/api"
)

// Store is an in-memory implementation of the api storage contract. It is
// safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	models map[string]*api.Model
	tables map[string][]map[string]interface{}
	seq    map[string]int64
}

// New creates an empty store
func New() *Store {
	return &Store{
		models: map[string]*api.Model{},
		tables: map[string][]map[string]interface{}{},
		seq:    map[string]int64{},
	}
}

// Initialize registers the models and creates their empty tables
func (s *Store) Initialize(models []*api.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range models {
		s.models[m.Name()] = m
		if _, ok := s.tables[m.Name()]; !ok {
			s.tables[m.Name()] = []map[string]interface{}{}
		}
	}
	return nil
}

// FindByID returns the object whose identifier field equals id, or nil
func (s *Store) FindByID(ctx context.Context, m *api.Model, id interface{}) (*api.Object, error) {
	return s.Query(ctx, m).FilterEquals(m.IdentifierField(), id).First()
}

// Query starts a new query against the given model
func (s *Store) Query(ctx context.Context, m *api.Model) api.Query {
	return &query{store: s, model: m}
}

// Begin starts a new transaction. Mutations are buffered and applied
// atomically at commit.
func (s *Store) Begin(ctx context.Context) (api.Tx, error) {
	return &tx{store: s}, nil
}

func copyValues(values map[string]interface{}) map[string]interface{} {
	c := make(map[string]interface{}, len(values))
	for k, v := range values {
		c[k] = v
	}
	return c
}

// columnValues copies only the declared column values of an object; loaded
// relationships and other transients are not persisted
func columnValues(o *api.Object) map[string]interface{} {
	m := o.Model()
	c := map[string]interface{}{}
	for name, value := range o.Values() {
		if _, ok := m.ColumnSpec(name); ok {
			c[name] = value
		}
	}
	return c
}

// compareValues orders two field values of the same column; nil sorts first
func compareValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			if av == bv {
				return 0
			}
			if !av {
				return -1
			}
			return 1
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1
			case av.After(bv):
				return 1
			}
			return 0
		}
	}
	// mixed types, fall back to their printed representation
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func equalValues(a, b interface{}) bool {
	return compareValues(a, b) == 0
}

type filter struct {
	field   string
	values  []interface{}
	absent  bool
	present bool
}

type sortKey struct {
	field      string
	descending bool
}

type query struct {
	store   *Store
	model   *api.Model
	filters []filter
	sorts   []sortKey
	eager   []string
}

func (q *query) FilterEquals(field string, value interface{}) api.Query {
	q.filters = append(q.filters, filter{field: field, values: []interface{}{value}})
	return q
}

func (q *query) FilterIn(field string, values []interface{}) api.Query {
	q.filters = append(q.filters, filter{field: field, values: values})
	return q
}

func (q *query) FilterAbsent(field string) api.Query {
	q.filters = append(q.filters, filter{field: field, absent: true})
	return q
}

func (q *query) FilterPresent(field string) api.Query {
	q.filters = append(q.filters, filter{field: field, present: true})
	return q
}

func (q *query) OrderBy(field string, descending bool) api.Query {
	q.sorts = append(q.sorts, sortKey{field: field, descending: descending})
	return q
}

func (q *query) EagerLoad(relationship string) api.Query {
	q.eager = append(q.eager, relationship)
	return q
}

func (f filter) matches(row map[string]interface{}) bool {
	value := row[f.field]
	if f.absent {
		return value == nil
	}
	if f.present {
		return value != nil
	}
	for _, candidate := range f.values {
		if candidate == nil {
			if value == nil {
				return true
			}
			continue
		}
		if equalValues(value, candidate) {
			return true
		}
	}
	return false
}

// execute snapshots the matching rows under the read lock, in table order
// or sorted by the query's sort keys
func (q *query) execute() []map[string]interface{} {
	q.store.mu.RLock()
	defer q.store.mu.RUnlock()

	var matched []map[string]interface{}
	for _, row := range q.store.tables[q.model.Name()] {
		ok := true
		for _, f := range q.filters {
			if !f.matches(row) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, copyValues(row))
		}
	}

	if len(q.sorts) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, key := range q.sorts {
				c := compareValues(matched[i][key.field], matched[j][key.field])
				if c == 0 {
					continue
				}
				if key.descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	return matched
}

// materialize turns row snapshots into objects and loads the requested
// relationships one level deep
func (q *query) materialize(rows []map[string]interface{}) []*api.Object {
	objects := make([]*api.Object, 0, len(rows))
	for _, row := range rows {
		o := api.NewObjectWithValues(q.model, row)
		for _, name := range q.eager {
			q.loadRelationship(o, name)
		}
		objects = append(objects, o)
	}
	return objects
}

func (q *query) loadRelationship(o *api.Object, name string) {
	rel, ok := q.model.RelationshipSpec(name)
	if !ok {
		return
	}
	target := q.store.models[rel.Target]
	if target == nil {
		return
	}
	related := &query{store: q.store, model: target}
	related.FilterEquals(rel.ForeignField, o.Get(rel.LocalField))
	if rel.OrderBy != "" {
		related.OrderBy(strings.TrimPrefix(rel.OrderBy, "-"),
			strings.HasPrefix(rel.OrderBy, "-"))
	}
	objects := related.materialize(related.execute())
	if rel.Many {
		o.Set(name, objects)
		return
	}
	if len(objects) > 0 {
		o.Set(name, objects[0])
	} else {
		o.Set(name, nil)
	}
}

func (q *query) Paginate(page, perPage int) (api.Page, error) {
	rows := q.execute()
	total := len(rows)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return api.Page{
		Items:   q.materialize(rows[start:end]),
		Total:   total,
		HasNext: end < total,
	}, nil
}

func (q *query) All() ([]*api.Object, error) {
	return q.materialize(q.execute()), nil
}

func (q *query) First() (*api.Object, error) {
	objects := q.materialize(q.execute())
	if len(objects) == 0 {
		return nil, nil
	}
	return objects[0], nil
}

type tx struct {
	store *Store
	ops   []func()
	done  bool
}

// primaryColumn returns the name and declaration of the model's primary
// column, falling back to the identifier field
func primaryColumn(m *api.Model) (string, api.Column) {
	for _, name := range m.Columns() {
		c, _ := m.ColumnSpec(name)
		if c.Primary {
			return name, c
		}
	}
	c, _ := m.ColumnSpec(m.IdentifierField())
	return m.IdentifierField(), c
}

// Add assigns a fresh primary value if the object has none and buffers the
// insert for commit
func (t *tx) Add(o *api.Object) error {
	m := o.Model()
	primary, spec := primaryColumn(m)
	if o.Get(primary) == nil {
		switch spec.Type {
		case api.Integer:
			t.store.mu.Lock()
			t.store.seq[m.Name()]++
			o.Set(primary, t.store.seq[m.Name()])
			t.store.mu.Unlock()
		default:
			o.Set(primary, uuid.New().String())
		}
	}
	row := columnValues(o)
	t.ops = append(t.ops, func() {
		t.store.tables[m.Name()] = append(t.store.tables[m.Name()], row)
	})
	return nil
}

// Update buffers replacing the stored row with the object's current values.
// The row is matched by the primary column, which cannot change, so an
// update may rename the identifier field.
func (t *tx) Update(o *api.Object) error {
	m := o.Model()
	primary, _ := primaryColumn(m)
	key := o.Get(primary)
	if key == nil {
		return fmt.Errorf("cannot update %s without primary value", m.Name())
	}
	row := columnValues(o)
	t.ops = append(t.ops, func() {
		table := t.store.tables[m.Name()]
		for i, existing := range table {
			if equalValues(existing[primary], key) {
				table[i] = row
				return
			}
		}
	})
	return nil
}

// Delete buffers removing the stored row
func (t *tx) Delete(o *api.Object) error {
	m := o.Model()
	primary, _ := primaryColumn(m)
	key := o.Get(primary)
	if key == nil {
		return fmt.Errorf("cannot delete %s without primary value", m.Name())
	}
	t.ops = append(t.ops, func() {
		table := t.store.tables[m.Name()]
		for i, existing := range table {
			if equalValues(existing[primary], key) {
				t.store.tables[m.Name()] = append(table[:i], table[i+1:]...)
				return
			}
		}
	})
	return nil
}

// Commit applies all buffered mutations atomically
func (t *tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, op := range t.ops {
		op()
	}
	t.ops = nil
	return nil
}

// Rollback discards all buffered mutations
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.ops = nil
	return nil
}
