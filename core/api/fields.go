// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// FieldKind classifies a resolved field
type FieldKind string

// all field kinds
const (
	KindColumn       FieldKind = "column"
	KindRelationship FieldKind = "relationship"
	KindExtra        FieldKind = "extra"
)

// FieldMeta is the resolved, immutable per-field descriptor produced during
// model registration. It feeds both the serializer (what to present) and the
// request pipeline (what is settable, and from where).
type FieldMeta struct {
	Name      string
	Kind      FieldKind
	Type      ColumnType
	Public    bool
	Deferred  bool
	SetBy     Origin
	Indexed   bool
	Editable  bool
	InputType string
	Required  bool
	Priority  int
}

// predictInputType returns the input type hint for an editable column. An
// explicit declaration wins, otherwise the hint is derived from the storage
// type; unrecognized types yield no hint.
func predictInputType(c Column) string {
	if c.InputType != "" {
		return c.InputType
	}
	switch c.Type {
	case String:
		return "text"
	case Text:
		return "textarea"
	case Integer, Float:
		return "number"
	case DateTime:
		return "datetime"
	case Boolean:
		return "checkbox"
	}
	return ""
}

// resolveFields walks the model's declared columns, relationships and extra
// fields and produces the resolved field descriptor map plus the derived
// sets: default-visible fields, indexed fields, and the split of
// relationships into eagerly and lazily loaded ones.
//
// Malformed declarations are a programming error and panic; this runs
// exactly once per model at startup.
func (m *Model) resolveFields() {
	m.fields = map[string]FieldMeta{}
	m.defaultFields = map[string]bool{}
	m.indexedFields = map[string]bool{}
	m.metas = map[string]map[string]interface{}{}

	addField := func(f FieldMeta) {
		if _, ok := m.fields[f.Name]; ok {
			panic("model " + m.name + ": duplicate field " + f.Name)
		}
		m.fields[f.Name] = f
		m.fieldOrder = append(m.fieldOrder, f.Name)
		if f.Public && !f.Deferred {
			m.defaultFields[f.Name] = true
		}
		if f.Indexed {
			m.indexedFields[f.Name] = true
		}
	}

	for _, name := range m.columnOrder {
		c := m.columns[name]
		f := FieldMeta{
			Name:     name,
			Kind:     KindColumn,
			Type:     c.Type,
			Public:   !c.Private,
			Deferred: c.Deferred,
			SetBy:    c.SetBy,
			Indexed:  c.Primary || c.Indexed,
			Editable: c.SetBy == SetByPayload,
			Priority: c.Priority,
		}
		meta := map[string]interface{}{
			"indexed":  f.Indexed,
			"editable": f.Editable,
		}
		if f.Editable {
			f.InputType = predictInputType(c)
			f.Required = c.NotNull
			if f.InputType != "" {
				meta["input_type"] = f.InputType
			}
			meta["required"] = f.Required
		}
		addField(f)
		m.metas[name] = meta
	}

	for _, name := range m.relOrder {
		r := m.rels[name]
		f := FieldMeta{
			Name:     name,
			Kind:     KindRelationship,
			Public:   r.Public,
			Deferred: !r.Undeferred,
		}
		addField(f)
		m.metas[name] = map[string]interface{}{
			"indexed":  false,
			"editable": false,
		}
		if r.Eager {
			m.eagerRels = append(m.eagerRels, name)
		} else {
			m.lazyRels = append(m.lazyRels, name)
		}
	}

	for _, name := range m.extraOrder {
		e := m.extras[name]
		if e.Private {
			// private extra fields are dropped entirely
			continue
		}
		addField(FieldMeta{
			Name:     name,
			Kind:     KindExtra,
			Public:   true,
			Deferred: e.Deferred,
		})
		m.getters[name] = m.extraFuncs[name]
		m.metas[name] = map[string]interface{}{
			"indexed":  false,
			"editable": false,
		}
	}
}

// settableColumns returns the column names with an origin, ordered by
// ascending priority; ties keep declaration order.
func (m *Model) settableColumns() []string {
	var names []string
	for _, name := range m.columnOrder {
		if m.columns[name].SetBy != SetByNone {
			names = append(names, name)
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		return m.columns[names[i]].Priority < m.columns[names[j]].Priority
	})
	return names
}

// coerceValue converts a raw payload, path or filter value into the Go
// representation of the given column type. Path segments and filter values
// arrive as strings and are parsed; JSON payload numbers arrive as float64.
func coerceValue(t ColumnType, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch t {
	case String, Text:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case Integer:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, nil
			}
		}
	case Float:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, nil
			}
		}
	case Boolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, nil
			}
		}
	case DateTime:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				return ts, nil
			}
		}
	case JSON:
		return value, nil
	}
	return nil, fmt.Errorf("cannot interpret %v as %s", value, t)
}

// plainString renders an identifier value for use in a URL path
func plainString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
