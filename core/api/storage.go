package api

import "context"

// Page is one page of a paginated query result
type Page struct {
	Items   []*Object
	Total   int
	HasNext bool
}

// Query is a lazily built storage query against one model. All filter and
// order calls return the query itself so calls can be chained; nothing is
// executed before one of Paginate, All or First is called.
type Query interface {
	// FilterEquals restricts the result to rows where field equals value
	FilterEquals(field string, value interface{}) Query
	// FilterIn restricts the result to rows where field equals one of the
	// given values; a nil value matches rows where the field is absent
	FilterIn(field string, values []interface{}) Query
	// FilterAbsent restricts the result to rows where the field has no value
	FilterAbsent(field string) Query
	// FilterPresent restricts the result to rows where the field has a value
	FilterPresent(field string) Query
	// OrderBy adds a sort key, later calls are subordinate sort keys
	OrderBy(field string, descending bool) Query
	// EagerLoad requests the named relationship to be loaded into every
	// returned object
	EagerLoad(relationship string) Query
	// Paginate executes the query and returns the requested 1-based page
	Paginate(page, perPage int) (Page, error)
	// All executes the query and returns all matching objects
	All() ([]*Object, error)
	// First executes the query and returns the first matching object,
	// or nil if there is no match
	First() (*Object, error)
}

// Tx is a per-request storage transaction. All mutations of one request
// either commit together or not at all.
type Tx interface {
	// Add inserts a new object. If the model's primary field has no value
	// yet, the driver assigns one.
	Add(o *Object) error
	// Update writes a previously fetched object back
	Update(o *Object) error
	// Delete removes a previously fetched object
	Delete(o *Object) error
	Commit() error
	Rollback() error
}

// Storage is the data-access contract the engine requires. Implementations
// are provided by the memstore and sqlstore packages.
type Storage interface {
	// Initialize is called once during API construction with all registered
	// models, before any route is installed
	Initialize(models []*Model) error
	// FindByID returns the object whose identifier field equals id, or nil
	FindByID(ctx context.Context, m *Model, id interface{}) (*Object, error)
	// Query starts a new query against the given model
	Query(ctx context.Context, m *Model) Query
	// Begin starts a new transaction
	Begin(ctx context.Context) (Tx, error)
}
