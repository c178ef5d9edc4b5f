package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distill-api/distill/core/api"
)

func newTestStore(t *testing.T) (*Store, *api.Model, *api.Model) {
	t.Helper()
	project := api.NewModel("Project").
		Column("id", api.Column{Type: api.Integer, Primary: true}).
		Column("title", api.Column{Type: api.String, Indexed: true}).
		Relationship("posts", api.Relationship{
			Target:       "Post",
			LocalField:   "id",
			ForeignField: "project_id",
			Many:         true,
			OrderBy:      "-rank",
		})
	post := api.NewModel("Post").
		Column("id", api.Column{Type: api.Integer, Primary: true}).
		Column("project_id", api.Column{Type: api.Integer, Indexed: true}).
		Column("rank", api.Column{Type: api.Integer, Indexed: true}).
		Column("title", api.Column{Type: api.String}).
		Relationship("project", api.Relationship{
			Target:       "Project",
			LocalField:   "project_id",
			ForeignField: "id",
		})
	store := New()
	require.NoError(t, store.Initialize([]*api.Model{project, post}))
	return store, project, post
}

func add(t *testing.T, store *Store, m *api.Model, values map[string]interface{}) *api.Object {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	o := api.NewObjectWithValues(m, values)
	require.NoError(t, tx.Add(o))
	require.NoError(t, tx.Commit())
	return o
}

func TestAddAssignsPrimary(t *testing.T) {
	store, project, _ := newTestStore(t)

	first := add(t, store, project, map[string]interface{}{"title": "one"})
	second := add(t, store, project, map[string]interface{}{"title": "two"})
	assert.Equal(t, int64(1), first.Get("id"))
	assert.Equal(t, int64(2), second.Get("id"))

	found, err := store.FindByID(context.Background(), project, int64(2))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "two", found.Get("title"))
}

func TestAddAssignsUUIDForStringPrimary(t *testing.T) {
	tag := api.NewModel("Tag").
		Column("id", api.Column{Type: api.String, Primary: true}).
		Column("label", api.Column{Type: api.String})
	store := New()
	require.NoError(t, store.Initialize([]*api.Model{tag}))

	o := add(t, store, tag, map[string]interface{}{"label": "go"})
	id, ok := o.Get("id").(string)
	require.True(t, ok)
	assert.NotEmpty(t, id)
}

func TestFilters(t *testing.T) {
	store, project, _ := newTestStore(t)
	add(t, store, project, map[string]interface{}{"title": "alpha"})
	add(t, store, project, map[string]interface{}{"title": "beta"})
	add(t, store, project, map[string]interface{}{})

	ctx := context.Background()

	objects, err := store.Query(ctx, project).FilterEquals("title", "alpha").All()
	require.NoError(t, err)
	assert.Len(t, objects, 1)

	objects, err = store.Query(ctx, project).
		FilterIn("title", []interface{}{"alpha", "beta"}).All()
	require.NoError(t, err)
	assert.Len(t, objects, 2)

	// nil inside an in-filter matches absent values
	objects, err = store.Query(ctx, project).
		FilterIn("title", []interface{}{"alpha", nil}).All()
	require.NoError(t, err)
	assert.Len(t, objects, 2)

	objects, err = store.Query(ctx, project).FilterAbsent("title").All()
	require.NoError(t, err)
	assert.Len(t, objects, 1)

	objects, err = store.Query(ctx, project).FilterPresent("title").All()
	require.NoError(t, err)
	assert.Len(t, objects, 2)
}

func TestOrderByMultipleKeys(t *testing.T) {
	store, _, post := newTestStore(t)
	add(t, store, post, map[string]interface{}{"rank": int64(1), "title": "b"})
	add(t, store, post, map[string]interface{}{"rank": int64(2), "title": "a"})
	add(t, store, post, map[string]interface{}{"rank": int64(1), "title": "a"})

	objects, err := store.Query(context.Background(), post).
		OrderBy("rank", false).
		OrderBy("id", true).
		All()
	require.NoError(t, err)
	require.Len(t, objects, 3)
	// rank ascending, id descending within equal ranks
	assert.Equal(t, int64(3), objects[0].Get("id"))
	assert.Equal(t, int64(1), objects[1].Get("id"))
	assert.Equal(t, int64(2), objects[2].Get("id"))
}

func TestPaginate(t *testing.T) {
	store, project, _ := newTestStore(t)
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		add(t, store, project, map[string]interface{}{"title": title})
	}

	page, err := store.Query(context.Background(), project).
		OrderBy("id", false).Paginate(2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasNext)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0].Get("title"))

	page, err = store.Query(context.Background(), project).
		OrderBy("id", false).Paginate(3, 2)
	require.NoError(t, err)
	assert.False(t, page.HasNext)
	assert.Len(t, page.Items, 1)

	// pages beyond the end are empty, not an error
	page, err = store.Query(context.Background(), project).Paginate(9, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestEagerLoad(t *testing.T) {
	store, project, post := newTestStore(t)
	p := add(t, store, project, map[string]interface{}{"title": "home"})
	add(t, store, post, map[string]interface{}{
		"project_id": p.Get("id"), "rank": int64(1), "title": "low",
	})
	add(t, store, post, map[string]interface{}{
		"project_id": p.Get("id"), "rank": int64(2), "title": "high",
	})

	ctx := context.Background()

	loaded, err := store.Query(ctx, project).EagerLoad("posts").First()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	posts, ok := loaded.Get("posts").([]*api.Object)
	require.True(t, ok)
	require.Len(t, posts, 2)
	// ordered by rank descending per the relationship declaration
	assert.Equal(t, "high", posts[0].Get("title"))

	loadedPost, err := store.Query(ctx, post).EagerLoad("project").First()
	require.NoError(t, err)
	parent, ok := loadedPost.Get("project").(*api.Object)
	require.True(t, ok)
	assert.Equal(t, "home", parent.Get("title"))
}

func TestUpdate(t *testing.T) {
	store, project, _ := newTestStore(t)
	o := add(t, store, project, map[string]interface{}{"title": "before"})

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	o.Set("title", "after")
	require.NoError(t, tx.Update(o))
	require.NoError(t, tx.Commit())

	found, err := store.FindByID(ctx, project, o.Get("id"))
	require.NoError(t, err)
	assert.Equal(t, "after", found.Get("title"))
}

func TestDelete(t *testing.T) {
	store, project, _ := newTestStore(t)
	o := add(t, store, project, map[string]interface{}{"title": "doomed"})

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Delete(o))
	require.NoError(t, tx.Commit())

	found, err := store.FindByID(ctx, project, o.Get("id"))
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRollback(t *testing.T) {
	store, project, _ := newTestStore(t)

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Add(api.NewObjectWithValues(project,
		map[string]interface{}{"title": "never"})))
	require.NoError(t, tx.Rollback())

	objects, err := store.Query(ctx, project).All()
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestQuerySnapshotIsolation(t *testing.T) {
	store, project, _ := newTestStore(t)
	o := add(t, store, project, map[string]interface{}{"title": "stable"})

	ctx := context.Background()
	found, err := store.FindByID(ctx, project, o.Get("id"))
	require.NoError(t, err)

	// mutating a fetched object does not touch the stored row
	found.Set("title", "changed")
	again, err := store.FindByID(ctx, project, o.Get("id"))
	require.NoError(t, err)
	assert.Equal(t, "stable", again.Get("title"))
}
