/*Package access provides the identity and role information for the user
who is currently making a request.

An access object is added to a request context with

  ctx = acc.ContextWithAccess(ctx)

and retrieved with

  acc := access.FromContext(ctx)

Authorizer checks registered with a model use the access object for role
based decisions. Requests without a bearer token carry no access object;
FromContext then returns nil, which behaves like an anonymous guest:
it has no identity and no roles.
*/
package access

import (
	"context"
	"sync"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyAccess contextKey = "_access_"

// Access carries the identity and roles of the caller of the current request.
type Access struct {
	// Identity is an opaque identifier of the caller, typically an email address
	Identity string   `json:"identity"`
	Roles    []string `json:"roles"`
}

// HasRole returns true if the access contains the requested role;
// otherwise it returns false. A nil access has no roles.
func (a *Access) HasRole(role string) bool {
	if a == nil || a.Roles == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// ContextWithAccess returns a new context with this access object added to it
func (a *Access) ContextWithAccess(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAccess, a)
}

// FromContext retrieves an access object from the context, or nil
func FromContext(ctx context.Context) *Access {
	a, ok := ctx.Value(contextKeyAccess).(*Access)
	if ok {
		return a
	}
	return nil
}

// Cache is an in-memory cache for access objects. It is used by the jwt
// middleware to avoid re-parsing bearer tokens on every single request.
type Cache struct {
	mutex sync.RWMutex
	cache map[string]*Access
}

// NewCache creates a new access cache
func NewCache() *Cache {
	return &Cache{cache: make(map[string]*Access)}
}

// Read returns an access object from the in-process cache. Token should be
// the bearer token the access was derived from. This function is go-routine safe.
func (c *Cache) Read(token string) *Access {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.cache[token]
}

// Write stores an access object in the in-process cache.
// This function is go-routine safe.
func (c *Cache) Write(token string, a *Access) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[token] = a
}
