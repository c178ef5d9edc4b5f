package client

import (
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distill-api/distill/core"
	"github.com/distill-api/distill/core/api"
	"github.com/distill-api/distill/core/api/memstore"
)

func newTestRouter() *mux.Router {
	router := mux.NewRouter()
	note := api.NewModel("Note").
		Table("notes").
		AutoRoutes(core.Operations()...).
		Column("id", api.Column{Type: api.Integer, Primary: true}).
		Column("text", api.Column{Type: api.String, NotNull: true, SetBy: api.SetByPayload}).
		Authorize(func(rc *api.Context, resource *api.Object) bool {
			return rc.Access().HasRole("admin")
		}, "post", "delete")
	api.New(&api.Builder{
		Router:  router,
		Storage: memstore.New(),
		Models:  []*api.Model{note},
	})
	return router
}

func TestClientRoundTrip(t *testing.T) {
	c := NewWithRouter(newTestRouter()).WithAdminAccess()

	var created map[string]interface{}
	location, err := c.Post("/notes", map[string]interface{}{"text": "hello"}, &created)
	require.NoError(t, err)
	assert.Equal(t, "/notes/1", location)
	assert.Equal(t, "hello", created["text"])

	var fetched map[string]interface{}
	status, err := c.Get(location, &fetched)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "hello", fetched["text"])

	status, err = c.Put(location, map[string]interface{}{"text": "changed"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, status)

	status, err = c.Delete(location)
	require.NoError(t, err)
	assert.Equal(t, 204, status)
}

func TestClientErrorCarriesMessages(t *testing.T) {
	c := NewWithRouter(newTestRouter())

	_, err := c.Post("/notes", map[string]interface{}{"text": "no"}, nil)
	require.Error(t, err)
	assert.Equal(t, 403, StatusCode(err))
}
