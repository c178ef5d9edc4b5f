/*
Package api derives a complete RESTful interface from declared data models.

A model declares stored columns, relationships to other models and computed
extra fields, plus behaviors: custom setters and getters, authorization
checks, query adjusters and before-return hooks. From those declarations the
API generates the routes the model opts into.

Example:

	user := api.NewModel("User").
		Table("users").
		AutoRoutes(core.OperationIndex, core.OperationGet,
			core.OperationPost, core.OperationPut, core.OperationMeta).
		Column("id", api.Column{Type: api.Integer, Primary: true}).
		Column("name", api.Column{Type: api.String, NotNull: true,
			Indexed: true, SetBy: api.SetByPayload}).
		Column("password", api.Column{Type: api.String, Private: true,
			SetBy: api.SetByPayload}).
		Column("bio", api.Column{Type: api.Text, Deferred: true,
			SetBy: api.SetByPayload})

	a := api.New(&api.Builder{
		Router:      router,
		Storage:     store,
		Models:      []*api.Model{user},
		RoutePrefix: "/api",
	})

The example installs these routes:

	GET    /api/users               collection index with filtering,
	                                sorting and pagination
	GET    /api/users/{identifier}  single object
	POST   /api/users               create, returns 201 with Location
	PUT    /api/users/{identifier}  update
	GET    /api/users/meta          field catalog for form generation
	GET    /api/meta                catalog of all installed routes

Responses contain the public, non-deferred fields by default. Clients reshape
the field set per request with the only, include and defer query parameters.
The index route accepts equality filters on any indexed field, with comma
for membership and the literal token "null" for absence, plus sort, page and
per_page parameters.

Validation failures are collected on the request context rather than aborting
immediately, so a response can report all problems at once. A failed request
is never persisted and answers 400 with a messages array.

Persistence is pluggable through the Storage interface; the memstore and
sqlstore packages provide an in-memory driver for tests and a Postgres
driver for production.
*/
package api
