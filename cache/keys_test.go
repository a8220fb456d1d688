package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Khoshtrip/backend/types"
)

func newKeyBuilder() *KeyBuilder {
	return NewKeyBuilder("view_cache", []string{"page", "per_page"})
}

func TestBuildIsDeterministic(t *testing.T) {
	kb := newKeyBuilder()

	a := types.RequestDescriptor{
		Method: "GET",
		Path:   "/products/",
		Query:  map[string][]string{"category": {"flight"}, "sort": {"price"}},
	}
	b := types.RequestDescriptor{
		Method: "GET",
		Path:   "/products/",
		Query:  map[string][]string{"sort": {"price"}, "category": {"flight"}},
	}

	assert.Equal(t, kb.Build("product_list", a), kb.Build("product_list", b))
}

func TestBuildLayout(t *testing.T) {
	key := newKeyBuilder().Build("product_detail", types.RequestDescriptor{
		Method:    "GET",
		Path:      "/products/42/",
		NamedArgs: map[string]string{"product_id": "42"},
	})

	assert.True(t, strings.HasPrefix(key, "view_cache:product_detail:"))
	digest := strings.TrimPrefix(key, "view_cache:product_detail:")
	assert.Len(t, digest, 32)
	assert.Regexp(t, "^[0-9a-f]+$", digest)
}

func TestBuildIsSensitive(t *testing.T) {
	kb := newKeyBuilder()
	base := types.RequestDescriptor{
		Method:    "GET",
		Path:      "/products/",
		Query:     map[string][]string{"category": {"flight"}},
		Args:      []string{"a"},
		NamedArgs: map[string]string{"product_id": "1"},
	}
	baseKey := kb.Build("product_list", base)

	variants := map[string]types.RequestDescriptor{
		"path": func() types.RequestDescriptor {
			r := base
			r.Path = "/packages/"
			return r
		}(),
		"query value": func() types.RequestDescriptor {
			r := base
			r.Query = map[string][]string{"category": {"hotel"}}
			return r
		}(),
		"extra query": func() types.RequestDescriptor {
			r := base
			r.Query = map[string][]string{"category": {"flight"}, "city": {"Tehran"}}
			return r
		}(),
		"user": func() types.RequestDescriptor {
			r := base
			r.UserID = "9"
			return r
		}(),
		"args": func() types.RequestDescriptor {
			r := base
			r.Args = []string{"b"}
			return r
		}(),
		"named args": func() types.RequestDescriptor {
			r := base
			r.NamedArgs = map[string]string{"product_id": "2"}
			return r
		}(),
	}

	for name, variant := range variants {
		t.Run(name, func(t *testing.T) {
			assert.NotEqual(t, baseKey, kb.Build("product_list", variant))
		})
	}

	assert.NotEqual(t, baseKey, kb.Build("all_products_list", base))
}

func TestBuildSharesAnonymousEntries(t *testing.T) {
	kb := newKeyBuilder()
	req := types.RequestDescriptor{Method: "GET", Path: "/products/"}

	assert.Equal(t, kb.Build("product_list", req), kb.Build("product_list", req))

	alice, bob := req, req
	alice.UserID = "1"
	bob.UserID = "2"
	assert.NotEqual(t, kb.Build("product_list", alice), kb.Build("product_list", bob))
}

// Pagination params are dropped from the key, so different pages of the same
// listing share one entry. Kept on purpose; see excluded_params.
func TestBuildPaginationCollision(t *testing.T) {
	kb := newKeyBuilder()

	page1 := types.RequestDescriptor{Method: "GET", Path: "/products/", Query: map[string][]string{"page": {"1"}}}
	page2 := types.RequestDescriptor{Method: "GET", Path: "/products/", Query: map[string][]string{"page": {"2"}, "per_page": {"50"}}}

	assert.Equal(t, kb.Build("product_list", page1), kb.Build("product_list", page2))

	distinct := NewKeyBuilder("view_cache", nil)
	assert.NotEqual(t, distinct.Build("product_list", page1), distinct.Build("product_list", page2))
}

func TestBuildNormalizesPath(t *testing.T) {
	kb := newKeyBuilder()

	a := kb.Build("product_list", types.RequestDescriptor{Method: "GET", Path: "/products/"})
	b := kb.Build("product_list", types.RequestDescriptor{Method: "GET", Path: "/products"})

	assert.Equal(t, a, b)
	assert.Equal(t, "view_cache:*", kb.NamespacePattern())
}

func TestBuildKeepsDelimitersInsideValues(t *testing.T) {
	kb := newKeyBuilder()
	build := func(query map[string][]string) string {
		return kb.Build("all_products_list", types.RequestDescriptor{
			Method: "GET",
			Path:   "/products/all/",
			Query:  query,
		})
	}

	assert.NotEqual(t,
		build(map[string][]string{"category": {"flight"}, "search": {"tehran"}}),
		build(map[string][]string{"category": {"flight:query:search:tehran"}}))

	assert.NotEqual(t,
		build(map[string][]string{"tag": {"a", "b"}}),
		build(map[string][]string{"tag": {"a,b"}}))

	assert.NotEqual(t,
		kb.Build("product_detail", types.RequestDescriptor{Method: "GET", Path: "/p/", Args: []string{"a:b"}}),
		kb.Build("product_detail", types.RequestDescriptor{Method: "GET", Path: "/p/", Args: []string{"a", "b"}}))

	assert.NotEqual(t,
		kb.Build("product_detail", types.RequestDescriptor{Method: "GET", Path: "/p/", UserID: "7", Args: []string{"x"}}),
		kb.Build("product_detail", types.RequestDescriptor{Method: "GET", Path: "/p/", Args: []string{"user:7", "x"}}))
}

func TestBuildTreatsEmptyArgsAsAbsent(t *testing.T) {
	kb := newKeyBuilder()

	assert.Equal(t,
		kb.Build("product_list", types.RequestDescriptor{Method: "GET", Path: "/products/"}),
		kb.Build("product_list", types.RequestDescriptor{Method: "GET", Path: "/products/", Args: []string{}}))
}
