// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/distill-api/distill/core"
	"github.com/distill-api/distill/core/logger"
)

func (a *API) writeJSON(w http.ResponseWriter, status int, value interface{}) {
	jsonData, _ := json.MarshalWithOption(value, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

// writeMessages finalizes a failure response with the accumulated user
// messages plus the configured default error message
func (a *API) writeMessages(rc *Context, w http.ResponseWriter, status int) {
	a.writeJSON(w, status, map[string]interface{}{"messages": rc.apiMessages()})
}

// setField applies one field value: the custom setter if declared, else the
// default coerce-and-assign. Coercion failures count as validation failures.
func (a *API) setField(rc *Context, o *Object, name string, value interface{}) {
	m := o.model
	if setter, ok := m.setters[name]; ok {
		setter(rc, o, name, value)
		return
	}
	coerced, err := coerceValue(m.columns[name].Type, value)
	if err != nil {
		rc.Fail("invalid value for " + name)
		return
	}
	o.Set(name, coerced)
}

// mutate applies the payload to the object: every stored field with origin
// payload is set from the request body if present, path fields are pulled
// from the route's path parameters, and server-only fields always invoke
// their declared setter with no client value. Columns are applied in
// ascending priority, ties keep declaration order.
func (a *API) mutate(rc *Context, o *Object) {
	m := o.model
	if m.schemaID != "" && a.validator.HasSchema(m.schemaID) {
		jsonData, _ := json.Marshal(rc.Payload())
		if err := a.validator.ValidateString(string(jsonData), m.schemaID); err != nil {
			rc.Fail(err.Error())
		}
	}
	for _, name := range m.settableColumns() {
		switch m.columns[name].SetBy {
		case SetByPayload:
			if value, ok := rc.PayloadValue(name); ok {
				a.setField(rc, o, name, value)
			}
		case SetByPath:
			if value, ok := rc.vars[name]; ok {
				a.setField(rc, o, name, value)
			}
		case SetByServer:
			// always invokes the declared setter, never a client value;
			// the setter's existence is verified at registration time
			m.setters[name](rc, o, name, nil)
		}
	}
}

// resolveObject looks up the target object of a get, put or delete request
// by the model's identifier field. Eager-load directives and the route's
// query adjusters apply, so adjusters can hide objects from a route
// entirely. Returns nil when there is no match.
func (a *API) resolveObject(rc *Context, m *Model, route string) (*Object, error) {
	identifier := rc.vars["identifier"]
	value, err := coerceValue(m.columns[m.idField].Type, identifier)
	if err != nil {
		// an identifier that cannot be interpreted cannot match anything
		return nil, nil
	}
	q := a.store.Query(rc.r.Context(), m).FilterEquals(m.idField, value)
	q = a.eagerLoads(rc, m, q)
	q = m.adjustQuery(rc, route, q)
	return q.First()
}

// eagerLoads adds load directives for every always-eager relationship and
// for every lazy relationship currently included in the response field set
func (a *API) eagerLoads(rc *Context, m *Model, q Query) Query {
	for _, rel := range m.eagerRels {
		q = q.EagerLoad(rel)
	}
	included := rc.includedFields(m)
	for _, rel := range m.lazyRels {
		if included[rel] {
			q = q.EagerLoad(rel)
		}
	}
	return q
}

// badRequestError carries a user-facing message for a 400 response
type badRequestError struct{ message string }

func (e badRequestError) Error() string { return e.message }

// getResults builds and executes the collection query for the index route:
// filters on indexed fields, the sort rule, eager loads, the route's query
// adjusters, and pagination, in that order.
func (a *API) getResults(rc *Context, m *Model, route string) ([]*Object, int, bool, error) {
	q := a.store.Query(rc.r.Context(), m)

	// equality and membership filters for every indexed field present in
	// the query parameters; the literal token "null" maps to an absence test
	for _, name := range m.fieldOrder {
		if !m.indexedFields[name] {
			continue
		}
		raw := rc.Param(name)
		if raw == "" {
			continue
		}
		colType := m.columns[name].Type
		parts := strings.Split(raw, ",")
		values := make([]interface{}, 0, len(parts))
		for _, part := range parts {
			if part == "null" {
				values = append(values, nil)
				continue
			}
			value, err := coerceValue(colType, part)
			if err != nil {
				return nil, 0, false, badRequestError{"invalid value for " + name}
			}
			values = append(values, value)
		}
		if len(values) > 1 {
			q = q.FilterIn(name, values)
		} else if values[0] == nil {
			q = q.FilterAbsent(name)
		} else {
			q = q.FilterEquals(name, values[0])
		}
	}

	// request-supplied sort, or the model default; every sort key must be
	// an indexed field
	sortRules := rc.Param("sort")
	if sortRules == "" {
		sortRules = m.defaultSort
	}
	if sortRules != "" {
		for _, rule := range strings.Split(sortRules, ",") {
			descending := strings.HasPrefix(rule, "-")
			name := strings.TrimPrefix(rule, "-")
			if !m.indexedFields[name] {
				return nil, 0, false, badRequestError{"cannot sort by " + name}
			}
			q = q.OrderBy(name, descending)
		}
	}

	q = a.eagerLoads(rc, m, q)
	q = m.adjustQuery(rc, route, q)

	perPageParam := rc.Param("per_page")
	if perPageParam == "" {
		objects, err := q.All()
		if err != nil {
			return nil, 0, false, err
		}
		return objects, len(objects), false, nil
	}

	perPage, err := strconv.Atoi(perPageParam)
	if err != nil || perPage < 1 {
		return nil, 0, false, badRequestError{"per_page out of range"}
	}
	if m.maxPageSize > 0 && perPage > m.maxPageSize {
		return nil, 0, false, badRequestError{"per_page exceeds maximum of " + strconv.Itoa(m.maxPageSize)}
	}
	page := 1
	if pageParam := rc.Param("page"); pageParam != "" {
		page, err = strconv.Atoi(pageParam)
		if err != nil || page < 1 {
			return nil, 0, false, badRequestError{"page out of range"}
		}
	}
	result, err := q.Paginate(page, perPage)
	if err != nil {
		return nil, 0, false, err
	}
	return result.Items, result.Total, result.HasNext, nil
}

// commit runs the given mutation inside a single transaction and notifies
// the configured notifier after a successful commit
func (a *API) commit(rc *Context, m *Model, op core.Operation, o *Object,
	mutation func(tx Tx) error) error {
	tx, err := a.store.Begin(rc.r.Context())
	if err != nil {
		return err
	}
	if err := mutation(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if a.notifier != nil {
		jsonData, _ := json.MarshalWithOption(a.serialize(rc, o, true), json.DisableHTMLEscape())
		a.notifier.Notify(m.name, op, jsonData)
	}
	return nil
}

func (a *API) indexHandler(m *Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := a.newContext(r)
		if !m.authorize(rc, "index", nil) {
			a.writeMessages(rc, w, http.StatusForbidden)
			return
		}
		objects, total, hasNext, err := a.getResults(rc, m, "index")
		if err != nil {
			if bad, ok := err.(badRequestError); ok {
				rc.Fail(bad.message)
				a.writeMessages(rc, w, http.StatusBadRequest)
				return
			}
			logger.FromContext(r.Context()).WithError(err).Errorf("Error 2301: cannot query %s", m.name)
			http.Error(w, "Error 2301", http.StatusInternalServerError)
			return
		}
		m.runHooks(rc, "index", objects)
		if rc.Failed() {
			a.writeMessages(rc, w, http.StatusBadRequest)
			return
		}
		results := make([]map[string]interface{}, 0, len(objects))
		for _, o := range objects {
			results = append(results, a.serialize(rc, o, false))
		}
		a.writeJSON(w, http.StatusOK, map[string]interface{}{
			"results":  results,
			"total":    total,
			"has_next": hasNext,
		})
	}
}

func (a *API) getHandler(m *Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := a.newContext(r)
		o, err := a.resolveObject(rc, m, "get")
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorf("Error 2302: cannot query %s", m.name)
			http.Error(w, "Error 2302", http.StatusInternalServerError)
			return
		}
		if o == nil {
			a.writeMessages(rc, w, http.StatusNotFound)
			return
		}
		if !m.authorize(rc, "get", o) {
			a.writeMessages(rc, w, http.StatusForbidden)
			return
		}
		m.runHooks(rc, "get", o)
		if rc.Failed() {
			a.writeMessages(rc, w, http.StatusBadRequest)
			return
		}
		a.writeJSON(w, http.StatusOK, a.serialize(rc, o, false))
	}
}

func (a *API) postHandler(m *Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := a.newContext(r)
		if !m.authorize(rc, "post", nil) {
			a.writeMessages(rc, w, http.StatusForbidden)
			return
		}
		o := NewObject(m)
		a.mutate(rc, o)
		m.runHooks(rc, "post", o)
		if rc.Failed() {
			a.writeMessages(rc, w, http.StatusBadRequest)
			return
		}
		err := a.commit(rc, m, core.OperationPost, o, func(tx Tx) error {
			return tx.Add(o)
		})
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorf("Error 2303: cannot create %s", m.name)
			http.Error(w, "Error 2303", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Location", m.Location(o))
		a.writeJSON(w, http.StatusCreated, a.serialize(rc, o, false))
	}
}

func (a *API) putHandler(m *Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := a.newContext(r)
		o, err := a.resolveObject(rc, m, "put")
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorf("Error 2304: cannot query %s", m.name)
			http.Error(w, "Error 2304", http.StatusInternalServerError)
			return
		}
		if o == nil {
			a.writeMessages(rc, w, http.StatusNotFound)
			return
		}
		if !m.authorize(rc, "put", o) {
			a.writeMessages(rc, w, http.StatusForbidden)
			return
		}
		// pragmatic put, the client does not have to send the whole object
		a.mutate(rc, o)
		m.runHooks(rc, "put", o)
		if rc.Failed() {
			a.writeMessages(rc, w, http.StatusBadRequest)
			return
		}
		err = a.commit(rc, m, core.OperationPut, o, func(tx Tx) error {
			return tx.Update(o)
		})
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorf("Error 2305: cannot update %s", m.name)
			http.Error(w, "Error 2305", http.StatusInternalServerError)
			return
		}
		a.writeJSON(w, http.StatusOK, a.serialize(rc, o, false))
	}
}

func (a *API) deleteHandler(m *Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := a.newContext(r)
		o, err := a.resolveObject(rc, m, "delete")
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorf("Error 2306: cannot query %s", m.name)
			http.Error(w, "Error 2306", http.StatusInternalServerError)
			return
		}
		if o == nil {
			a.writeMessages(rc, w, http.StatusNotFound)
			return
		}
		if !m.authorize(rc, "delete", o) {
			a.writeMessages(rc, w, http.StatusForbidden)
			return
		}
		m.runHooks(rc, "delete", o)
		if rc.Failed() {
			a.writeMessages(rc, w, http.StatusBadRequest)
			return
		}
		err = a.commit(rc, m, core.OperationDelete, o, func(tx Tx) error {
			return tx.Delete(o)
		})
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorf("Error 2307: cannot delete %s", m.name)
			http.Error(w, "Error 2307", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
