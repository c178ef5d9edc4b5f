// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package sqlstore provides the Postgres storage driver. Primary and indexed
// columns become real SQL columns so they can carry indexes and serve filter
// and sort queries; all other stored fields live in a dynamic jsonb
// properties object.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/distill-api/distill/core/api"
	"github.com/distill-api/distill/core/csql"
	"github.com/distill-api/distill/core/logger"
)

// Store is the Postgres implementation of the api storage contract
type Store struct {
	db     *csql.DB
	models map[string]*api.Model
}

// New creates a store on the given database
func New(db *csql.DB) *Store {
	return &Store{db: db, models: map[string]*api.Model{}}
}

// realColumns returns the names of the columns stored as real SQL columns,
// the primary column first
func realColumns(m *api.Model) []string {
	var names []string
	for _, name := range m.Columns() {
		c, _ := m.ColumnSpec(name)
		if c.Primary {
			names = append(names, name)
		}
	}
	for _, name := range m.Columns() {
		c, _ := m.ColumnSpec(name)
		if !c.Primary && c.Indexed {
			names = append(names, name)
		}
	}
	return names
}

func isRealColumn(m *api.Model, name string) bool {
	c, ok := m.ColumnSpec(name)
	return ok && (c.Primary || c.Indexed)
}

func sqlType(c api.Column) string {
	var t string
	switch c.Type {
	case api.String:
		t = "varchar"
	case api.Text:
		t = "text"
	case api.Integer:
		t = "bigint"
	case api.Float:
		t = "double precision"
	case api.Boolean:
		t = "boolean"
	case api.DateTime:
		t = "timestamptz"
	default:
		t = "jsonb"
	}
	if c.Primary {
		if c.Type == api.Integer {
			return "bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
		}
		return t + " NOT NULL PRIMARY KEY"
	}
	return t
}

// Initialize creates the model tables and indexes. Tables evolve by adding
// columns; dropped declarations leave their columns behind.
func (s *Store) Initialize(models []*api.Model) error {
	schema := s.db.Schema
	for _, m := range models {
		s.models[m.Name()] = m
		table := m.TableName()

		var createColumns []string
		for _, name := range realColumns(m) {
			c, _ := m.ColumnSpec(name)
			createColumns = append(createColumns, fmt.Sprintf("\"%s\" %s", name, sqlType(c)))
		}
		createColumns = append(createColumns, "properties jsonb NOT NULL DEFAULT'{}'::jsonb")

		createQuery := fmt.Sprintf("CREATE table IF NOT EXISTS %s.\"%s\" (%s);",
			schema, table, strings.Join(createColumns, ", "))
		logger.Default().Debugln("create table:", table)
		if _, err := s.db.Exec(createQuery); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}

		for _, name := range realColumns(m) {
			c, _ := m.ColumnSpec(name)
			if c.Primary {
				continue
			}
			alterQuery := fmt.Sprintf("ALTER table %s.\"%s\" ADD column IF NOT EXISTS \"%s\" %s;",
				schema, table, name, sqlType(c))
			if _, err := s.db.Exec(alterQuery); err != nil {
				return fmt.Errorf("add column %s.%s: %w", table, name, err)
			}
			indexQuery := fmt.Sprintf("CREATE index IF NOT EXISTS \"index_%s_%s\" ON %s.\"%s\" (\"%s\");",
				table, name, schema, table, name)
			if _, err := s.db.Exec(indexQuery); err != nil {
				return fmt.Errorf("create index %s.%s: %w", table, name, err)
			}
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
	return &query{store: s, ctx: ctx, model: m}
}

// Begin starts a database transaction
func (s *Store) Begin(ctx context.Context) (api.Tx, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &tx{store: s, dbTx: dbTx}, nil
}

type query struct {
	store      *Store
	ctx        context.Context
	model      *api.Model
	conditions []string
	arguments  []interface{}
	orderBy    []string
	eager      []string
}

// column returns the SQL expression addressing a field, either the real
// column or a cast extraction from the properties object
func (q *query) column(field string) string {
	if isRealColumn(q.model, field) {
		return "\"" + field + "\""
	}
	expr := "(properties->>'" + field + "')"
	c, _ := q.model.ColumnSpec(field)
	switch c.Type {
	case api.Integer:
		return expr + "::bigint"
	case api.Float:
		return expr + "::double precision"
	case api.Boolean:
		return expr + "::boolean"
	case api.DateTime:
		return expr + "::timestamptz"
	}
	return expr
}

func (q *query) placeholder(value interface{}) string {
	q.arguments = append(q.arguments, value)
	return "$" + strconv.Itoa(len(q.arguments))
}

func (q *query) FilterEquals(field string, value interface{}) api.Query {
	q.conditions = append(q.conditions, q.column(field)+" = "+q.placeholder(value))
	return q
}

func (q *query) FilterIn(field string, values []interface{}) api.Query {
	withNull := false
	var present []interface{}
	for _, value := range values {
		if value == nil {
			withNull = true
		} else {
			present = append(present, value)
		}
	}
	condition := q.column(field) + " = ANY(" + q.placeholder(pq.Array(present)) + ")"
	if withNull {
		condition = "(" + condition + " OR " + q.column(field) + " IS NULL)"
	}
	q.conditions = append(q.conditions, condition)
	return q
}

func (q *query) FilterAbsent(field string) api.Query {
	q.conditions = append(q.conditions, q.column(field)+" IS NULL")
	return q
}

func (q *query) FilterPresent(field string) api.Query {
	q.conditions = append(q.conditions, q.column(field)+" IS NOT NULL")
	return q
}

func (q *query) OrderBy(field string, descending bool) api.Query {
	direction := " ASC"
	if descending {
		direction = " DESC"
	}
	q.orderBy = append(q.orderBy, q.column(field)+direction)
	return q
}

func (q *query) EagerLoad(relationship string) api.Query {
	q.eager = append(q.eager, relationship)
	return q
}

func (q *query) selectQuery(limitOffset string) string {
	var selectors []string
	for _, name := range realColumns(q.model) {
		selectors = append(selectors, "\""+name+"\"")
	}
	selectors = append(selectors, "properties", "count(*) OVER() AS full_count")
	sqlQuery := fmt.Sprintf("SELECT %s FROM %s.\"%s\"",
		strings.Join(selectors, ", "), q.store.db.Schema, q.model.TableName())
	if len(q.conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(q.conditions, " AND ")
	}
	if len(q.orderBy) > 0 {
		sqlQuery += " ORDER BY " + strings.Join(q.orderBy, ", ")
	}
	return sqlQuery + limitOffset + ";"
}

// scanTarget returns a null-tolerant scan destination for the column type
func scanTarget(t api.ColumnType) interface{} {
	switch t {
	case api.Integer:
		return &sql.NullInt64{}
	case api.Float:
		return &sql.NullFloat64{}
	case api.Boolean:
		return &sql.NullBool{}
	case api.DateTime:
		return &sql.NullTime{}
	}
	return &sql.NullString{}
}

func scannedValue(target interface{}) interface{} {
	switch v := target.(type) {
	case *sql.NullInt64:
		if v.Valid {
			return v.Int64
		}
	case *sql.NullFloat64:
		if v.Valid {
			return v.Float64
		}
	case *sql.NullBool:
		if v.Valid {
			return v.Bool
		}
	case *sql.NullTime:
		if v.Valid {
			return v.Time
		}
	case *sql.NullString:
		if v.Valid {
			return v.String
		}
	}
	return nil
}

func (q *query) execute(limitOffset string) ([]*api.Object, int, error) {
	rows, err := q.store.db.QueryContext(q.ctx, q.selectQuery(limitOffset), q.arguments...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	names := realColumns(q.model)
	total := 0
	var objects []*api.Object
	for rows.Next() {
		targets := make([]interface{}, 0, len(names)+2)
		for _, name := range names {
			c, _ := q.model.ColumnSpec(name)
			targets = append(targets, scanTarget(c.Type))
		}
		var propertiesJSON []byte
		targets = append(targets, &propertiesJSON, &total)
		if err := rows.Scan(targets...); err != nil {
			return nil, 0, err
		}
		values := map[string]interface{}{}
		json.Unmarshal(propertiesJSON, &values)
		for i, name := range names {
			values[name] = scannedValue(targets[i])
		}
		objects = append(objects, api.NewObjectWithValues(q.model, values))
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := q.loadRelationships(objects); err != nil {
		return nil, 0, err
	}
	return objects, total, nil
}

// loadRelationships loads every requested relationship for the whole result
// set with one follow-up query per relationship
func (q *query) loadRelationships(objects []*api.Object) error {
	for _, name := range q.eager {
		rel, ok := q.model.RelationshipSpec(name)
		if !ok {
			continue
		}
		target := q.store.models[rel.Target]
		if target == nil {
			continue
		}
		var locals []interface{}
		for _, o := range objects {
			if value := o.Get(rel.LocalField); value != nil {
				locals = append(locals, value)
			}
		}
		related := &query{store: q.store, ctx: q.ctx, model: target}
		related.FilterIn(rel.ForeignField, locals)
		if rel.OrderBy != "" {
			related.OrderBy(strings.TrimPrefix(rel.OrderBy, "-"),
				strings.HasPrefix(rel.OrderBy, "-"))
		}
		relatedObjects, _, err := related.execute("")
		if err != nil {
			return err
		}
		byForeign := map[string][]*api.Object{}
		for _, r := range relatedObjects {
			key := fmt.Sprint(r.Get(rel.ForeignField))
			byForeign[key] = append(byForeign[key], r)
		}
		for _, o := range objects {
			matches := byForeign[fmt.Sprint(o.Get(rel.LocalField))]
			if rel.Many {
				o.Set(name, matches)
			} else if len(matches) > 0 {
				o.Set(name, matches[0])
			} else {
				o.Set(name, nil)
			}
		}
	}
	return nil
}

func (q *query) Paginate(page, perPage int) (api.Page, error) {
	limitOffset := fmt.Sprintf(" LIMIT %d OFFSET %d", perPage, (page-1)*perPage)
	objects, total, err := q.execute(limitOffset)
	if err != nil {
		return api.Page{}, err
	}
	return api.Page{
		Items:   objects,
		Total:   total,
		HasNext: (page-1)*perPage+len(objects) < total,
	}, nil
}

func (q *query) All() ([]*api.Object, error) {
	objects, _, err := q.execute("")
	return objects, err
}

func (q *query) First() (*api.Object, error) {
	objects, _, err := q.execute(" LIMIT 1")
	if err != nil || len(objects) == 0 {
		return nil, err
	}
	return objects[0], nil
}

type tx struct {
	store *Store
	dbTx  *sql.Tx
}

// split separates an object's values into real column values and the
// dynamic properties JSON
func split(m *api.Model, o *api.Object) ([]interface{}, []byte) {
	real := map[string]bool{}
	var values []interface{}
	for _, name := range realColumns(m) {
		real[name] = true
		values = append(values, toDriverValue(o.Get(name)))
	}
	properties := map[string]interface{}{}
	for name, value := range o.Values() {
		if real[name] {
			continue
		}
		if _, ok := m.ColumnSpec(name); !ok {
			// loaded relationships and other transients are not persisted
			continue
		}
		properties[name] = value
	}
	propertiesJSON, _ := json.Marshal(properties)
	return values, propertiesJSON
}

func toDriverValue(value interface{}) interface{} {
	if t, ok := value.(time.Time); ok {
		return t
	}
	return value
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

// Add inserts the object. A missing integer primary value is assigned by
// the database, a missing string primary value becomes a fresh UUID.
func (t *tx) Add(o *api.Object) error {
	m := o.Model()
	primary, primarySpec := primaryColumn(m)
	if o.Get(primary) == nil && primarySpec.Type != api.Integer {
		o.Set(primary, uuid.New().String())
	}

	names := realColumns(m)
	values, propertiesJSON := split(m, o)

	var insertColumns, placeholders []string
	var arguments []interface{}
	generated := o.Get(primary) == nil
	for i, name := range names {
		if name == primary && generated {
			continue
		}
		insertColumns = append(insertColumns, "\""+name+"\"")
		arguments = append(arguments, values[i])
		placeholders = append(placeholders, "$"+strconv.Itoa(len(arguments)))
	}
	insertColumns = append(insertColumns, "properties")
	arguments = append(arguments, propertiesJSON)
	placeholders = append(placeholders, "$"+strconv.Itoa(len(arguments)))

	insertQuery := fmt.Sprintf("INSERT INTO %s.\"%s\" (%s) VALUES(%s) RETURNING \"%s\";",
		t.store.db.Schema, m.TableName(),
		strings.Join(insertColumns, ", "), strings.Join(placeholders, ", "), primary)

	target := scanTarget(primarySpec.Type)
	if err := t.dbTx.QueryRow(insertQuery, arguments...).Scan(target); err != nil {
		return err
	}
	o.Set(primary, scannedValue(target))
	return nil
}

// Update writes the object back, replacing the properties object entirely.
// The row is matched by the primary column, which cannot change, so an
// update may rename the identifier field.
func (t *tx) Update(o *api.Object) error {
	m := o.Model()
	primary, _ := primaryColumn(m)
	names := realColumns(m)
	values, propertiesJSON := split(m, o)

	var assignments []string
	var arguments []interface{}
	for i, name := range names {
		if name == primary {
			continue
		}
		arguments = append(arguments, values[i])
		assignments = append(assignments, fmt.Sprintf("\"%s\" = $%d", name, len(arguments)))
	}
	arguments = append(arguments, propertiesJSON)
	assignments = append(assignments, "properties = $"+strconv.Itoa(len(arguments)))
	arguments = append(arguments, toDriverValue(o.Get(primary)))

	updateQuery := fmt.Sprintf("UPDATE %s.\"%s\" SET %s WHERE \"%s\" = $%d;",
		t.store.db.Schema, m.TableName(),
		strings.Join(assignments, ", "), primary, len(arguments))
	result, err := t.dbTx.Exec(updateQuery, arguments...)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err == nil && count != 1 {
		return fmt.Errorf("update %s %v: no such row", m.Name(), o.ID())
	}
	return err
}

// Delete removes the object's row
func (t *tx) Delete(o *api.Object) error {
	m := o.Model()
	primary, _ := primaryColumn(m)
	deleteQuery := fmt.Sprintf("DELETE FROM %s.\"%s\" WHERE \"%s\" = $1;",
		t.store.db.Schema, m.TableName(), primary)
	_, err := t.dbTx.Exec(deleteQuery, toDriverValue(o.Get(primary)))
	return err
}

func (t *tx) Commit() error {
	return t.dbTx.Commit()
}

func (t *tx) Rollback() error {
	return t.dbTx.Rollback()
}
