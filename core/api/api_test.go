package api_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distill-api/distill/core"
	"github.com/distill-api/distill/core/access"
	"github.com/distill-api/distill/core/api"
	"github.com/distill-api/distill/core/api/memstore"
)

var testSecret = []byte("testsecret12345")

const urlChars = "abcdefghijklmnopqrstuvwxyz0123456789_-"

func urlSafeString(s string) string {
	var b strings.Builder
	for _, char := range strings.ReplaceAll(strings.ToLower(s), " ", "_") {
		if strings.ContainsRune(urlChars, char) {
			b.WriteRune(char)
		}
	}
	return b.String()
}

func slugSetter(rc *api.Context, o *api.Object, name string, value interface{}) {
	source, _ := rc.PayloadValue(name)
	raw, _ := source.(string)
	if raw == "" {
		if title, ok := rc.PayloadValue("title"); ok {
			raw, _ = title.(string)
		}
	}
	if raw == "" {
		if existing, ok := o.Get(name).(string); ok && existing != "" {
			return
		}
		rc.Fail("This resource needs a slug")
		return
	}
	slug := urlSafeString(raw)
	if slug == o.Get(name) {
		return
	}
	other, err := rc.Query(o.Model().Name()).FilterEquals(name, slug).First()
	if err != nil {
		rc.Fail("This slug cannot be verified")
		return
	}
	if other != nil {
		rc.Fail("This slug is not unique")
		return
	}
	o.Set(name, slug)
}

func isAdmin(rc *api.Context, resource *api.Object) bool {
	return rc.Access().HasRole("admin")
}

func articleModel() *api.Model {
	return api.NewModel("Article").
		Table("articles").
		IDField("slug").
		AutoRoutes(core.Operations()...).
		MaxPageSize(2).
		DefaultSort("id").
		Column("id", api.Column{Type: api.Integer, Primary: true}).
		Column("title", api.Column{Type: api.String, NotNull: true, SetBy: api.SetByPayload}).
		Column("slug", api.Column{Type: api.String, NotNull: true, Indexed: true, SetBy: api.SetByServer, Priority: 1}).
		Column("body", api.Column{Type: api.Text, Deferred: true, SetBy: api.SetByPayload}).
		Column("category", api.Column{Type: api.String, Indexed: true, SetBy: api.SetByPayload}).
		Column("published", api.Column{Type: api.Boolean, Indexed: true, SetBy: api.SetByPayload}).
		Column("secret", api.Column{Type: api.String, Private: true, SetBy: api.SetByPayload}).
		Relationship("comments", api.Relationship{
			Target:       "Comment",
			LocalField:   "id",
			ForeignField: "article_id",
			Many:         true,
			OrderBy:      "id",
			Public:       true,
		}).
		ExtraField("shouting_title", api.Extra{Deferred: true}, func(rc *api.Context, o *api.Object, name string) interface{} {
			title, _ := o.Get("title").(string)
			return strings.ToUpper(title)
		}).
		Setter(slugSetter, "slug").
		Authorize(isAdmin, "post", "put", "delete").
		AdjustQuery(func(rc *api.Context, q api.Query) api.Query {
			if !rc.Access().HasRole("admin") {
				q = q.FilterEquals("published", true)
			}
			return q
		}, "index")
}

func commentModel() *api.Model {
	return api.NewModel("Comment").
		Table("comments").
		AutoRoutes(core.OperationIndex, core.OperationPost).
		Column("id", api.Column{Type: api.Integer, Primary: true}).
		Column("article_id", api.Column{Type: api.Integer, Indexed: true, SetBy: api.SetByPayload}).
		Column("message", api.Column{Type: api.String, NotNull: true, SetBy: api.SetByPayload})
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	router := mux.NewRouter()
	router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{Secret: testSecret}))
	api.New(&api.Builder{
		Router:       router,
		Storage:      memstore.New(),
		Models:       []*api.Model{articleModel(), commentModel()},
		RoutePrefix:  "/api",
		ErrorMessage: "Please ask for help",
	})
	return router
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := access.NewToken(testSecret, "admin@example.com", "admin")
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, router *mux.Router, method, path, token string,
	payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(jsonData)
	} else {
		body = &bytes.Buffer{}
	}
	r := httptest.NewRequest(method, path, body)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	result := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

func createArticle(t *testing.T, router *mux.Router, token string,
	payload map[string]interface{}) map[string]interface{} {
	t.Helper()
	w := doRequest(t, router, "POST", "/api/articles", token, payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)
}

func TestPostCreatesWithLocation(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)

	w := doRequest(t, router, "POST", "/api/articles", token, map[string]interface{}{
		"title":     "Hello World",
		"body":      "a longer text",
		"published": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/api/articles/hello_world", w.Header().Get("Location"))

	result := decode(t, w)
	assert.Equal(t, "hello_world", result["slug"])
	assert.Equal(t, "Hello World", result["title"])
	// deferred and private fields stay out of the default response
	assert.NotContains(t, result, "body")
	assert.NotContains(t, result, "secret")

	w = doRequest(t, router, "GET", "/api/articles/hello_world", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello_world", decode(t, w)["slug"])
}

func TestPostUnauthorized(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "POST", "/api/articles", "", map[string]interface{}{
		"title": "Hello",
	})
	require.Equal(t, http.StatusForbidden, w.Code)
	messages := decode(t, w)["messages"].([]interface{})
	assert.Contains(t, messages, "Please ask for help")
}

func TestResolutionBeforeAuthorization(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)
	createArticle(t, router, token, map[string]interface{}{
		"title": "Existing", "published": true,
	})

	// a miss answers 404 even though the caller would not be authorized
	w := doRequest(t, router, "PUT", "/api/articles/missing", "", map[string]interface{}{})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// a hit answers 403
	w = doRequest(t, router, "PUT", "/api/articles/existing", "", map[string]interface{}{})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestValidationPreventsPersistence(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)
	createArticle(t, router, token, map[string]interface{}{
		"title": "Twice", "published": true,
	})

	w := doRequest(t, router, "POST", "/api/articles", token, map[string]interface{}{
		"title": "Twice", "published": true,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	messages := decode(t, w)["messages"].([]interface{})
	assert.Contains(t, messages, "This slug is not unique")

	w = doRequest(t, router, "GET", "/api/articles", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])
}

func TestPutUpdatesAndIgnoresUnknownKeys(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)
	createArticle(t, router, token, map[string]interface{}{
		"title": "Original", "published": true, "category": "news",
	})

	w := doRequest(t, router, "PUT", "/api/articles/original", token, map[string]interface{}{
		"category": "opinion",
		"id":       999,
		"unknown":  "ignored",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode(t, w)
	assert.Equal(t, "opinion", result["category"])
	// the primary value has no payload origin and cannot be overwritten
	assert.Equal(t, float64(1), result["id"])
	assert.NotContains(t, result, "unknown")

	// absent payload keys keep their values
	assert.Equal(t, "Original", result["title"])
}

func TestPutSamePayloadIsStable(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)
	createArticle(t, router, token, map[string]interface{}{
		"title": "First Draft", "published": true,
	})

	payload := map[string]interface{}{"title": "Final Title", "category": "news"}
	w := doRequest(t, router, "PUT", "/api/articles/first_draft", token, payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode(t, w)
	assert.Equal(t, "final_title", first["slug"])

	// repeating the identical payload, now under the re-derived slug, must
	// return the identical object
	w = doRequest(t, router, "PUT", "/api/articles/final_title", token, payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, first, decode(t, w))
}

func TestDelete(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)
	createArticle(t, router, token, map[string]interface{}{
		"title": "Doomed", "published": true,
	})

	w := doRequest(t, router, "DELETE", "/api/articles/doomed", token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = doRequest(t, router, "GET", "/api/articles/doomed", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIndexFiltersAndSort(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)
	createArticle(t, router, token, map[string]interface{}{
		"title": "A", "published": true, "category": "news",
	})
	createArticle(t, router, token, map[string]interface{}{
		"title": "B", "published": true, "category": "opinion",
	})
	createArticle(t, router, token, map[string]interface{}{
		"title": "C", "published": false,
	})

	w := doRequest(t, router, "GET", "/api/articles?category=news", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	// comma means membership
	w = doRequest(t, router, "GET", "/api/articles?category=news,opinion", token, nil)
	assert.Equal(t, float64(2), decode(t, w)["total"])

	// the null token matches absent values
	w = doRequest(t, router, "GET", "/api/articles?category=null", token, nil)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = doRequest(t, router, "GET", "/api/articles?sort=-slug", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	results := decode(t, w)["results"].([]interface{})
	first := results[0].(map[string]interface{})
	assert.Equal(t, "c", first["slug"])

	// sort keys must be indexed fields
	w = doRequest(t, router, "GET", "/api/articles?sort=title", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// filters on non-indexed fields are not recognized and change nothing
	w = doRequest(t, router, "GET", "/api/articles?title=A", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["total"])
}

func TestIndexPagination(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)
	for _, title := range []string{"One", "Two", "Three"} {
		createArticle(t, router, token, map[string]interface{}{
			"title": title, "published": true,
		})
	}

	// without per_page everything comes back at once
	w := doRequest(t, router, "GET", "/api/articles", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w)
	assert.Equal(t, float64(3), result["total"])
	assert.Equal(t, false, result["has_next"])
	assert.Len(t, result["results"], 3)

	w = doRequest(t, router, "GET", "/api/articles?per_page=2", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result = decode(t, w)
	assert.Equal(t, float64(3), result["total"])
	assert.Equal(t, true, result["has_next"])
	assert.Len(t, result["results"], 2)

	w = doRequest(t, router, "GET", "/api/articles?per_page=2&page=2", token, nil)
	result = decode(t, w)
	assert.Equal(t, false, result["has_next"])
	assert.Len(t, result["results"], 1)

	// the page size cap is a hard limit
	w = doRequest(t, router, "GET", "/api/articles?per_page=5", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIndexQueryAdjuster(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)
	createArticle(t, router, token, map[string]interface{}{
		"title": "Public", "published": true,
	})
	createArticle(t, router, token, map[string]interface{}{
		"title": "Draft", "published": false,
	})

	// guests only see published articles
	w := doRequest(t, router, "GET", "/api/articles", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = doRequest(t, router, "GET", "/api/articles", token, nil)
	assert.Equal(t, float64(2), decode(t, w)["total"])
}

func TestFieldSelection(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)
	createArticle(t, router, token, map[string]interface{}{
		"title": "Fields", "body": "the article body", "published": true,
		"secret": "hidden",
	})

	w := doRequest(t, router, "GET", "/api/articles/fields?only=title,slug", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w)
	assert.Len(t, result, 2)
	assert.Equal(t, "Fields", result["title"])

	w = doRequest(t, router, "GET", "/api/articles/fields?include=body,shouting_title", token, nil)
	result = decode(t, w)
	assert.Equal(t, "the article body", result["body"])
	assert.Equal(t, "FIELDS", result["shouting_title"])

	w = doRequest(t, router, "GET", "/api/articles/fields?defer=title", token, nil)
	result = decode(t, w)
	assert.NotContains(t, result, "title")
	assert.Contains(t, result, "slug")

	// private fields cannot be requested
	w = doRequest(t, router, "GET", "/api/articles/fields?only=secret", token, nil)
	result = decode(t, w)
	assert.NotContains(t, result, "secret")
	w = doRequest(t, router, "GET", "/api/articles/fields?include=secret", token, nil)
	result = decode(t, w)
	assert.NotContains(t, result, "secret")
}

func TestRelationshipInclude(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)
	article := createArticle(t, router, token, map[string]interface{}{
		"title": "Discussed", "published": true,
	})

	for _, message := range []string{"first", "second"} {
		w := doRequest(t, router, "POST", "/api/comments", token, map[string]interface{}{
			"article_id": article["id"],
			"message":    message,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	// relationships are deferred unless requested
	w := doRequest(t, router, "GET", "/api/articles/discussed", token, nil)
	assert.NotContains(t, decode(t, w), "comments")

	w = doRequest(t, router, "GET", "/api/articles/discussed?include=comments", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	comments := decode(t, w)["comments"].([]interface{})
	require.Len(t, comments, 2)
	first := comments[0].(map[string]interface{})
	assert.Equal(t, "first", first["message"])
}

func TestModelMeta(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "GET", "/api/articles/meta", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w)

	title := result["title"].(map[string]interface{})
	assert.Equal(t, true, title["editable"])
	assert.Equal(t, true, title["required"])
	assert.Equal(t, "text", title["input_type"])
	assert.Equal(t, false, title["indexed"])

	slug := result["slug"].(map[string]interface{})
	assert.Equal(t, false, slug["editable"])
	assert.Equal(t, true, slug["indexed"])

	// private fields do not appear
	assert.NotContains(t, result, "secret")
}

// Static paths share the collection base with the {identifier} variable and
// must stay reachable for models that serve single objects.
func TestStaticRoutesCoexistWithIdentifier(t *testing.T) {
	router := mux.NewRouter()
	model := api.NewModel("Page").
		AutoRoutes(core.OperationGet, core.OperationPost, core.OperationMeta).
		Column("id", api.Column{Type: api.Integer, Primary: true}).
		Column("title", api.Column{Type: api.String, SetBy: api.SetByPayload}).
		Route("drafts", "/drafts", api.RouteOptions{}, func(rc *api.Context, w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	api.New(&api.Builder{
		Router:  router,
		Storage: memstore.New(),
		Models:  []*api.Model{model},
	})

	created := decode(t, doRequest(t, router, "POST", "/page", "", map[string]interface{}{
		"title": "a page",
	}))

	w := doRequest(t, router, "GET", "/page/meta", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, decode(t, w), "title")

	w = doRequest(t, router, "GET", "/page/drafts", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, router, "GET", "/page/1", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, created["id"], decode(t, w)["id"])
}

func TestAPIMeta(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "GET", "/api/meta", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rules := decode(t, w)["rules"].([]interface{})

	var paths []string
	for _, rule := range rules {
		paths = append(paths, rule.([]interface{})[0].(string))
	}
	assert.Contains(t, paths, "/api/articles")
	assert.Contains(t, paths, "/api/articles/{identifier}")
	assert.Contains(t, paths, "/api/comments")
	assert.Contains(t, paths, "/api/meta")
}

func TestMalformedPayload(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)

	r := httptest.NewRequest("POST", "/api/articles", strings.NewReader("{not json"))
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownIdentifier(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)

	w := doRequest(t, router, "GET", "/api/articles/%20", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
