package api

import (
	"net/http"
)

// metaHandler serves the field catalog of a model: every externally visible
// field with its indexed and editable flags, plus input type and required
// flag for editable columns. Clients use this to build forms without
// hardcoding the model's shape.
func (a *API) metaHandler(m *Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := a.newContext(r)
		if !m.authorize(rc, "meta", nil) {
			a.writeMessages(rc, w, http.StatusForbidden)
			return
		}
		m.runHooks(rc, "meta", nil)
		if rc.Failed() {
			a.writeMessages(rc, w, http.StatusBadRequest)
			return
		}
		a.writeJSON(w, http.StatusOK, m.metas)
	}
}

// apiMetaHandler serves the catalog of all installed routes with their
// methods, under {prefix}/meta
func (a *API) apiMetaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules := make([][]interface{}, 0, len(a.rules))
		for _, rule := range a.rules {
			rules = append(rules, []interface{}{rule.Path, rule.Methods})
		}
		a.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
	}
}
