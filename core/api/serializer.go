// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import "strings"

// includedFields resolves the set of fields to include in this response for
// the given model, memoized once per model per request context.
//
// Resolution: an explicit "only" whitelist is used exactly, intersected with
// the known fields. Otherwise the model's default-visible set is the
// starting point, extended by explicitly requested "include" fields and
// reduced by explicitly requested "defer" fields.
func (rc *Context) includedFields(m *Model) map[string]bool {
	if fields, ok := rc.included[m.name]; ok {
		return fields
	}

	var fields map[string]bool
	if only := rc.Param("only"); only != "" {
		fields = map[string]bool{}
		for _, name := range strings.Split(only, ",") {
			if f, ok := m.fields[name]; ok && f.Public {
				fields[name] = true
			}
		}
	} else {
		fields = map[string]bool{}
		for name := range m.defaultFields {
			fields[name] = true
		}
		if include := rc.Param("include"); include != "" {
			for _, name := range strings.Split(include, ",") {
				if f, ok := m.fields[name]; ok && f.Public {
					fields[name] = true
				}
			}
		}
		if deferred := rc.Param("defer"); deferred != "" {
			for _, name := range strings.Split(deferred, ",") {
				delete(fields, name)
			}
		}
	}
	rc.included[m.name] = fields
	return fields
}

// serialize maps an object to a plain key/value structure restricted to a
// field set: the model's default-visible fields, or the per-request resolved
// set. Additional pairs from the model's MoreJSON hook are merged last and
// win on conflict.
func (a *API) serialize(rc *Context, o *Object, useDefaults bool) map[string]interface{} {
	m := o.model
	var fields map[string]bool
	if useDefaults {
		fields = m.defaultFields
	} else {
		fields = rc.includedFields(m)
	}

	result := map[string]interface{}{}
	for name := range fields {
		result[name] = a.fieldValue(rc, o, name)
	}
	if m.moreJSON != nil {
		for key, value := range m.moreJSON(rc, o) {
			result[key] = value
		}
	}
	return result
}

// fieldValue returns the presentation value of one field: the custom getter
// if one is declared, else the raw attribute value. Values that are model
// instances, or ordered collections of model instances, are recursively
// serialized with their own default-visible sets.
func (a *API) fieldValue(rc *Context, o *Object, name string) interface{} {
	if getter, ok := o.model.getters[name]; ok {
		return getter(rc, o, name)
	}
	value := o.Get(name)
	switch v := value.(type) {
	case *Object:
		if v == nil {
			return nil
		}
		return a.serialize(rc, v, true)
	case []*Object:
		list := make([]map[string]interface{}, 0, len(v))
		for _, child := range v {
			list = append(list, a.serialize(rc, child, true))
		}
		return list
	}
	return value
}
