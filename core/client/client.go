// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to a generated REST api

Instead of marshalling HTTP, the client talks directly to the mux router. It
is perfectly suited for unit tests and for request handlers that need to call
other routes to fulfill their task.
*/
package client

import (
	"bytes"
	"fmt"
	"net/http/httptest"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/distill-api/distill/core/access"
)

// Client provides easy access to the generated REST routes
type Client struct {
	router *mux.Router
	access *access.Access
	token  string
}

// NewWithRouter creates a client making pseudo-REST requests directly
// through the mux router
func NewWithRouter(router *mux.Router) Client {
	return Client{router: router}
}

// WithAccess returns a new client whose requests carry the given access
// object, bypassing token parsing
func (c Client) WithAccess(a *access.Access) Client {
	c.access = a
	return c
}

// WithAdminAccess returns a new client with the admin role
func (c Client) WithAdminAccess() Client {
	return c.WithAccess(&access.Access{Roles: []string{"admin"}})
}

// WithToken returns a new client sending the given bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// Error is a failure response status with the returned user messages
type Error struct {
	Status   int
	Messages []string
}

func (e Error) Error() string {
	return fmt.Sprintf("status %d: %v", e.Status, e.Messages)
}

// StatusCode returns the HTTP status of an error response, or 0
func StatusCode(err error) int {
	if clientError, ok := err.(Error); ok {
		return clientError.Status
	}
	return 0
}

func (c Client) do(method, path string, body []byte) (*httptest.ResponseRecorder, error) {
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.access != nil {
		r = r.WithContext(c.access.ContextWithAccess(r.Context()))
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, r)

	if w.Code >= 300 {
		clientError := Error{Status: w.Code}
		var envelope struct {
			Messages []string `json:"messages"`
		}
		if json.Unmarshal(w.Body.Bytes(), &envelope) == nil {
			clientError.Messages = envelope.Messages
		}
		return w, clientError
	}
	return w, nil
}

// RawGet gets the resource at path and returns the raw response body
func (c Client) RawGet(path string) (int, []byte, error) {
	w, err := c.do("GET", path, nil)
	return w.Code, w.Body.Bytes(), err
}

// Get gets the resource at path and unmarshals the response into result
func (c Client) Get(path string, result interface{}) (int, error) {
	w, err := c.do("GET", path, nil)
	if err != nil {
		return w.Code, err
	}
	if result != nil {
		if err := json.Unmarshal(w.Body.Bytes(), result); err != nil {
			return w.Code, err
		}
	}
	return w.Code, nil
}

// Post creates a resource and unmarshals the response into result. It
// returns the Location header of the created resource.
func (c Client) Post(path string, body interface{}, result interface{}) (string, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	w, err := c.do("POST", path, jsonData)
	if err != nil {
		return "", err
	}
	if result != nil {
		if err := json.Unmarshal(w.Body.Bytes(), result); err != nil {
			return "", err
		}
	}
	return w.Header().Get("Location"), nil
}

// Put updates the resource at path and unmarshals the response into result
func (c Client) Put(path string, body interface{}, result interface{}) (int, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	w, err := c.do("PUT", path, jsonData)
	if err != nil {
		return w.Code, err
	}
	if result != nil {
		if err := json.Unmarshal(w.Body.Bytes(), result); err != nil {
			return w.Code, err
		}
	}
	return w.Code, nil
}

// Delete deletes the resource at path
func (c Client) Delete(path string) (int, error) {
	w, err := c.do("DELETE", path, nil)
	return w.Code, err
}
