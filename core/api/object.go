package api

// Object is one instance of a registered model. Field values live in a plain
// map keyed by field name; relationship values, once loaded, are stored as
// *Object or []*Object under the relationship's field name.
//
// An object is exclusively owned by the request that created or fetched it.
type Object struct {
	model  *Model
	values map[string]interface{}
}

// NewObject creates a new empty object for the given model
func NewObject(m *Model) *Object {
	return &Object{model: m, values: map[string]interface{}{}}
}

// NewObjectWithValues creates an object for the given model with the given
// value map. The object takes ownership of the map. This is meant for storage
// drivers materializing query results.
func NewObjectWithValues(m *Model, values map[string]interface{}) *Object {
	if values == nil {
		values = map[string]interface{}{}
	}
	return &Object{model: m, values: values}
}

// Model returns the model this object is an instance of
func (o *Object) Model() *Model {
	return o.model
}

// Get returns the raw value of the named field, or nil
func (o *Object) Get(name string) interface{} {
	return o.values[name]
}

// Set assigns a raw value to the named field
func (o *Object) Set(name string, value interface{}) {
	o.values[name] = value
}

// ID returns the value of the model's identifier field
func (o *Object) ID() interface{} {
	return o.values[o.model.idField]
}

// Values returns the live value map of the object. Storage drivers must copy
// it before keeping a reference beyond the current request.
func (o *Object) Values() map[string]interface{} {
	return o.values
}
