package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildRule(t *testing.T) {
	assert.Equal(t, "/api/articles", buildRule("/api", "articles", ""))
	assert.Equal(t, "/api/articles/meta", buildRule("/api", "articles", "/meta"))
	assert.Equal(t, "/articles", buildRule("", "articles", ""))
	assert.Equal(t, "/", buildRule("", "", ""))
	// sloppy separators collapse
	assert.Equal(t, "/api/articles/me", buildRule("/api/", "/articles/", "//me/"))
}

func TestRouteBasePath(t *testing.T) {
	m := NewModel("Article")
	assert.Equal(t, "article", m.routeBasePath())
	m.Table("articles")
	assert.Equal(t, "articles", m.routeBasePath())
	m.RouteBase("/writings/")
	assert.Equal(t, "writings", m.routeBasePath())
}

func TestEndpointName(t *testing.T) {
	assert.Equal(t, "Article:index", endpointName("Article", "index", "", 0, 1))
	assert.Equal(t, "Article:media_0", endpointName("Article", "media", "", 0, 2))
	assert.Equal(t, "Article:media_1", endpointName("Article", "media", "", 1, 2))
	assert.Equal(t, "custom", endpointName("Article", "media", "custom", 0, 2))
}
