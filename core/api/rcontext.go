package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/distill-api/distill/core/access"
	"github.com/distill-api/distill/core/logger"
)

// Context is the per-request scope threaded through all pipeline stages:
// the parsed payload, the validation failure flag with its accumulated user
// messages, and the memoized per-model response field sets.
//
// A context is created at the start of request handling and discarded at the
// end; it is exclusively owned by its request.
type Context struct {
	api        *API
	r          *http.Request
	vars       map[string]string
	payload    map[string]interface{}
	hasPayload bool
	failed     bool
	messages   []string
	included   map[string]map[string]bool
}

func (a *API) newContext(r *http.Request) *Context {
	return &Context{
		api:      a,
		r:        r,
		vars:     mux.Vars(r),
		included: map[string]map[string]bool{},
	}
}

// Request returns the underlying http request
func (rc *Context) Request() *http.Request {
	return rc.r
}

// Param returns the named query parameter, or the empty string
func (rc *Context) Param(name string) string {
	return rc.r.URL.Query().Get(name)
}

// Vars returns the path parameters of the matched route
func (rc *Context) Vars() map[string]string {
	return rc.vars
}

// Payload returns the parsed request payload. The payload is parsed lazily
// on first access; a missing or empty body yields an empty map, a malformed
// body records a validation failure.
func (rc *Context) Payload() map[string]interface{} {
	if !rc.hasPayload {
		rc.hasPayload = true
		rc.payload = map[string]interface{}{}
		if rc.r.Body != nil && rc.r.ContentLength != 0 {
			if err := json.NewDecoder(rc.r.Body).Decode(&rc.payload); err != nil {
				rc.Fail("invalid json data: " + err.Error())
			}
		}
	}
	return rc.payload
}

// PayloadValue returns the named payload value and whether the payload
// contains the key at all
func (rc *Context) PayloadValue(name string) (interface{}, bool) {
	v, ok := rc.Payload()[name]
	return v, ok
}

// Fail records a validation failure with a user message. The pipeline checks
// the flag once, after mutation and before-return hooks; a set flag turns the
// response into a 400 and prevents persistence.
func (rc *Context) Fail(message string) {
	rc.failed = true
	if message != "" {
		rc.messages = append(rc.messages, message)
	}
}

// Failed returns true if any setter or validator rejected a value
func (rc *Context) Failed() bool {
	return rc.failed
}

// Access returns the access object of the caller, or nil for anonymous
// requests
func (rc *Context) Access() *access.Access {
	return access.FromContext(rc.r.Context())
}

// Logger returns the request logger
func (rc *Context) Logger() *logrus.Entry {
	return logger.FromContext(rc.r.Context())
}

// Query starts a storage query against the named model, for use in custom
// setters and route handlers. Unknown model names are a programming error.
func (rc *Context) Query(model string) Query {
	m, ok := rc.api.models[model]
	if !ok {
		panic("query for unknown model " + model)
	}
	return rc.api.store.Query(rc.r.Context(), m)
}

// Serialize maps an object to a plain key/value structure. With useDefaults
// the model's default-visible field set is used, otherwise the per-request
// resolved include set.
func (rc *Context) Serialize(o *Object, useDefaults bool) map[string]interface{} {
	return rc.api.serialize(rc, o, useDefaults)
}

// messages plus the configured default error message, for failure responses
func (rc *Context) apiMessages() []string {
	messages := rc.messages
	if rc.api.errorMessage != "" {
		messages = append(messages, rc.api.errorMessage)
	}
	if messages == nil {
		messages = []string{}
	}
	return messages
}
