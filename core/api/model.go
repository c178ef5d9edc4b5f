// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"net/http"

	"github.com/distill-api/distill/core"
)

// ColumnType is the storage type of a column. It drives value coercion,
// input type prediction for the metadata endpoint, and the SQL column type
// chosen by the sqlstore driver.
type ColumnType string

// all supported column types
const (
	String   ColumnType = "string"
	Text     ColumnType = "text"
	Integer  ColumnType = "integer"
	Float    ColumnType = "float"
	Boolean  ColumnType = "boolean"
	DateTime ColumnType = "datetime"
	JSON     ColumnType = "json"
)

// Origin says where a field's value may come from. Fields without origin
// can never be written through the API.
type Origin string

// all supported origins
const (
	// SetByNone marks a field that is never written through the API
	SetByNone Origin = ""
	// SetByPayload marks a field written from the client JSON payload
	SetByPayload Origin = "payload"
	// SetByPath marks a field written from a URL path segment
	SetByPath Origin = "path"
	// SetByServer marks a field that is always written by a declared
	// setter, ignoring any client value
	SetByServer Origin = "server"
)

// Column declares one stored column of a model.
//
// Columns are public and not deferred unless declared otherwise.
type Column struct {
	Type ColumnType
	// Primary marks the column as primary key. Primary columns are indexed.
	Primary bool
	// Indexed columns can be used as filter and sort keys
	Indexed bool
	// NotNull makes an editable column required in the metadata endpoint
	NotNull bool
	// Private hides the column from all responses
	Private bool
	// Deferred excludes the column from default responses; it can still be
	// requested with the include parameter
	Deferred bool
	SetBy    Origin
	// InputType overrides the predicted input type hint
	InputType string
	// Priority orders this column during mutation; lower values are applied
	// first, ties keep declaration order
	Priority int
}

// Relationship declares a link to another model.
//
// Unlike columns, relationships are private and deferred unless declared
// otherwise, to avoid huge serialization chains.
type Relationship struct {
	// Target is the name of the related model
	Target string
	// LocalField is the field on this model holding the join value
	LocalField string
	// ForeignField is the field on the target model matched against LocalField
	ForeignField string
	// Many makes this a to-many relationship, serialized as a list
	Many bool
	// OrderBy sorts a to-many relationship by the given target field,
	// with a leading '-' for descending order
	OrderBy string
	// Eager loads the relationship with every query, not only when it is
	// included in the response field set
	Eager bool
	// Public makes the relationship visible in responses
	Public bool
	// Undeferred includes a public relationship in default responses
	Undeferred bool
}

// Extra declares a computed field backed by a getter function. Extra fields
// are never editable and never indexed.
type Extra struct {
	Private  bool
	Deferred bool
}

// SetterFunc validates and sets one field on an object. A setter that
// rejects the value calls rc.Fail with a user message; the pipeline checks
// the failure after mutation and before persistence.
type SetterFunc func(rc *Context, o *Object, name string, value interface{})

// GetterFunc returns a transformed value for one field of an object
type GetterFunc func(rc *Context, o *Object, name string) interface{}

// CheckFunc performs an authorization check for a route. The resource is nil
// for collection-level routes. All checks bound to a route must return true.
type CheckFunc func(rc *Context, resource *Object) bool

// HookFunc runs before a route returns. The resource is the resolved or
// created object, a []*Object slice for index, or nil for index and meta.
type HookFunc func(rc *Context, resource interface{})

// AdjusterFunc narrows or reshapes a query before it is executed
type AdjusterFunc func(rc *Context, q Query) Query

// MoreFunc returns additional key/value pairs merged into every serialized
// object of the model; its keys win on conflict.
type MoreFunc func(rc *Context, o *Object) map[string]interface{}

// RouteFunc handles a custom route
type RouteFunc func(rc *Context, w http.ResponseWriter, r *http.Request)

// RouteOptions are the options of a custom route declaration
type RouteOptions struct {
	// Methods defaults to GET
	Methods []string
	// Endpoint overrides the generated endpoint name
	Endpoint string
	// Subdomain restricts the route to a subdomain; requires the Domain
	// builder option
	Subdomain string
}

type customRoute struct {
	name     string
	fragment string
	options  RouteOptions
	handler  RouteFunc
}

// Model is the descriptor of one registered entity type. It is built with
// NewModel and the declaration methods below, passed to New as part of the
// Builder, and immutable afterwards.
type Model struct {
	name        string
	table       string
	idField     string
	maxPageSize int
	defaultSort string
	schemaID    string
	autoRoutes  []core.Operation
	routeBase   string
	subdomain   string

	columnOrder []string
	columns     map[string]Column
	relOrder    []string
	rels        map[string]Relationship
	extraOrder  []string
	extras      map[string]Extra
	extraFuncs  map[string]GetterFunc

	customRoutes []customRoute
	authorizers  map[string][]CheckFunc
	hooks        map[string][]HookFunc
	adjusters    map[string][]AdjusterFunc
	setters      map[string]SetterFunc
	getters      map[string]GetterFunc
	moreJSON     MoreFunc

	// resolved by the field introspector
	fields        map[string]FieldMeta
	fieldOrder    []string
	defaultFields map[string]bool
	indexedFields map[string]bool
	lazyRels      []string
	eagerRels     []string
	metas         map[string]map[string]interface{}

	basePath string
	sealed   bool
}

// NewModel creates a new model descriptor with the given name
func NewModel(name string) *Model {
	return &Model{
		name:        name,
		idField:     "id",
		columns:     map[string]Column{},
		rels:        map[string]Relationship{},
		extras:      map[string]Extra{},
		extraFuncs:  map[string]GetterFunc{},
		authorizers: map[string][]CheckFunc{},
		hooks:       map[string][]HookFunc{},
		adjusters:   map[string][]AdjusterFunc{},
		setters:     map[string]SetterFunc{},
		getters:     map[string]GetterFunc{},
	}
}

// Name returns the model name
func (m *Model) Name() string {
	return m.name
}

// Table sets the storage table name, which doubles as the default route base
func (m *Model) Table(table string) *Model {
	m.mustBeOpen()
	m.table = table
	return m
}

// TableName returns the storage table name, falling back to the model name
func (m *Model) TableName() string {
	if m.table != "" {
		return m.table
	}
	return m.name
}

// IDField overrides the identifier field used by the get, put and delete
// routes. It defaults to "id".
func (m *Model) IDField(name string) *Model {
	m.mustBeOpen()
	m.idField = name
	return m
}

// IdentifierField returns the identifier field name
func (m *Model) IdentifierField() string {
	return m.idField
}

// MaxPageSize caps the per_page request parameter for the index route.
// Zero means no cap.
func (m *Model) MaxPageSize(n int) *Model {
	m.mustBeOpen()
	m.maxPageSize = n
	return m
}

// DefaultSort sets the sort rule applied when the index request does not
// supply one. Same format as the sort parameter: comma-separated indexed
// fields, each with an optional leading '-' for descending order.
func (m *Model) DefaultSort(sort string) *Model {
	m.mustBeOpen()
	m.defaultSort = sort
	return m
}

// SchemaID attaches a JSON schema to the model; payloads of the post route
// are validated against it. The schema document itself is passed to New
// with the Schemas builder option.
func (m *Model) SchemaID(id string) *Model {
	m.mustBeOpen()
	m.schemaID = id
	return m
}

// AutoRoutes opts the model into the given generated routes
func (m *Model) AutoRoutes(ops ...core.Operation) *Model {
	m.mustBeOpen()
	m.autoRoutes = ops
	return m
}

// RouteBase overrides the route base path, which otherwise defaults to the
// table name, respectively the lower-cased model name
func (m *Model) RouteBase(base string) *Model {
	m.mustBeOpen()
	m.routeBase = base
	return m
}

// Subdomain restricts all of the model's routes to a subdomain; requires
// the Domain builder option
func (m *Model) Subdomain(subdomain string) *Model {
	m.mustBeOpen()
	m.subdomain = subdomain
	return m
}

// Column declares a stored column
func (m *Model) Column(name string, spec Column) *Model {
	m.mustBeOpen()
	if _, ok := m.columns[name]; ok {
		panic("model " + m.name + ": duplicate column " + name)
	}
	m.columnOrder = append(m.columnOrder, name)
	m.columns[name] = spec
	return m
}

// Relationship declares a relationship to another model
func (m *Model) Relationship(name string, spec Relationship) *Model {
	m.mustBeOpen()
	if _, ok := m.rels[name]; ok {
		panic("model " + m.name + ": duplicate relationship " + name)
	}
	m.relOrder = append(m.relOrder, name)
	m.rels[name] = spec
	return m
}

// ExtraField declares a computed field backed by the given getter
func (m *Model) ExtraField(name string, spec Extra, fn GetterFunc) *Model {
	m.mustBeOpen()
	if _, ok := m.extras[name]; ok {
		panic("model " + m.name + ": duplicate extra field " + name)
	}
	m.extraOrder = append(m.extraOrder, name)
	m.extras[name] = spec
	m.extraFuncs[name] = fn
	return m
}

// Authorize binds an authorization check to any number of routes. A route
// passes authorization only if every bound check returns true.
func (m *Model) Authorize(check CheckFunc, routes ...string) *Model {
	m.mustBeOpen()
	for _, route := range routes {
		m.authorizers[route] = append(m.authorizers[route], check)
	}
	return m
}

// BeforeReturn binds a hook to any number of routes. Hooks run in
// declaration order after mutation and before the validation check.
func (m *Model) BeforeReturn(hook HookFunc, routes ...string) *Model {
	m.mustBeOpen()
	for _, route := range routes {
		m.hooks[route] = append(m.hooks[route], hook)
	}
	return m
}

// AdjustQuery binds a query adjuster to any number of routes. Adjusters are
// applied last during query construction, so they can further narrow or
// reshape the query.
func (m *Model) AdjustQuery(adjuster AdjusterFunc, routes ...string) *Model {
	m.mustBeOpen()
	for _, route := range routes {
		m.adjusters[route] = append(m.adjusters[route], adjuster)
	}
	return m
}

// Setter binds a custom setter to any number of fields, replacing the
// default coerce-and-assign behavior
func (m *Model) Setter(fn SetterFunc, fields ...string) *Model {
	m.mustBeOpen()
	for _, field := range fields {
		if _, ok := m.setters[field]; ok {
			panic("model " + m.name + ": duplicate setter for " + field)
		}
		m.setters[field] = fn
	}
	return m
}

// Getter binds a custom getter to any number of fields, replacing the raw
// attribute value during serialization
func (m *Model) Getter(fn GetterFunc, fields ...string) *Model {
	m.mustBeOpen()
	for _, field := range fields {
		if _, ok := m.getters[field]; ok {
			panic("model " + m.name + ": duplicate getter for " + field)
		}
		m.getters[field] = fn
	}
	return m
}

// MoreJSON sets a hook whose result is merged into every serialized object
// of this model, its keys winning on conflict
func (m *Model) MoreJSON(fn MoreFunc) *Model {
	m.mustBeOpen()
	m.moreJSON = fn
	return m
}

// Route declares a custom route. The name groups several rules of the same
// logical route for endpoint naming; it must not collide with one of the
// generated route names.
func (m *Model) Route(name, fragment string, options RouteOptions, handler RouteFunc) *Model {
	m.mustBeOpen()
	m.customRoutes = append(m.customRoutes, customRoute{
		name:     name,
		fragment: fragment,
		options:  options,
		handler:  handler,
	})
	return m
}

// Columns returns the declared column names in declaration order
func (m *Model) Columns() []string {
	return m.columnOrder
}

// ColumnSpec returns the declaration of the named column
func (m *Model) ColumnSpec(name string) (Column, bool) {
	c, ok := m.columns[name]
	return c, ok
}

// Relationships returns the declared relationship names in declaration order
func (m *Model) Relationships() []string {
	return m.relOrder
}

// RelationshipSpec returns the declaration of the named relationship
func (m *Model) RelationshipSpec(name string) (Relationship, bool) {
	r, ok := m.rels[name]
	return r, ok
}

// Field returns the resolved descriptor of the named field
func (m *Model) Field(name string) (FieldMeta, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// Fields returns the resolved field names in declaration order
func (m *Model) Fields() []string {
	return m.fieldOrder
}

// DefaultFields returns the set of fields included in default responses
func (m *Model) DefaultFields() map[string]bool {
	return m.defaultFields
}

// IndexedFields returns the set of fields usable as filter and sort keys
func (m *Model) IndexedFields() map[string]bool {
	return m.indexedFields
}

// BasePath returns the full base path of the model's routes, including the
// global route prefix. It is only valid after the model was registered.
func (m *Model) BasePath() string {
	return m.basePath
}

// Location returns the canonical URL path of the given object
func (m *Model) Location(o *Object) string {
	return m.basePath + "/" + plainString(o.Get(m.idField))
}

func (m *Model) mustBeOpen() {
	if m.sealed {
		panic("model " + m.name + " is already registered and immutable")
	}
}

func (m *Model) hasAutoRoute(op core.Operation) bool {
	for _, o := range m.autoRoutes {
		if o == op {
			return true
		}
	}
	return false
}

// authorize evaluates all checks bound to the route, in declaration order
func (m *Model) authorize(rc *Context, route string, resource *Object) bool {
	for _, check := range m.authorizers[route] {
		if !check(rc, resource) {
			return false
		}
	}
	return true
}

// runHooks invokes all hooks bound to the route, in declaration order
func (m *Model) runHooks(rc *Context, route string, resource interface{}) {
	for _, hook := range m.hooks[route] {
		hook(rc, resource)
	}
}

// adjustQuery applies all query adjusters bound to the route, in
// declaration order
func (m *Model) adjustQuery(rc *Context, route string, q Query) Query {
	for _, adjuster := range m.adjusters[route] {
		q = adjuster(rc, q)
	}
	return q
}
