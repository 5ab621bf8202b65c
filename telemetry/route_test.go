package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"numeric ids erased", "/users/42/orders/7", "/users/orders"},
		{"trailing slash stripped", "/health/", "/health"},
		{"sentence is not a url", "not a url", UnknownRoute},
		{"root", "/", "/"},
		{"empty resolves to origin root", "", "/"},
		{"query and fragment ignored", "/api/items/9?page=2#top", "/api/items"},
		{"cross origin absolute", "http://localhost:8080/api/fastapi-msc-test/rolldice", "/api/fastapi-msc-test/rolldice"},
		{"relative without slash", "api/hello", "/api/hello"},
		{"only digits", "/1/2/3", "/"},
		{"mixed segment kept", "/v1/orders/7a", "/v1/orders/7a"},
		{"repeated slashes collapse", "/a//b///c", "/a/b/c"},
		{"dot segments resolved", "http://example.com/a/../b/./c", "/b/c"},
		{"bad escape", "/a/%zz", UnknownRoute},
		{"control character", "/a\x00b", UnknownRoute},
		{"tab", "/a\tb", UnknownRoute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRoute(tt.in))
		})
	}
}

func TestNormalizeRoute_Idempotent(t *testing.T) {
	inputs := []string{
		"/users/42/orders/7",
		"/health/",
		"https://api.example.com/v2/accounts/123/statements/2024?x=1",
		"/a%20b/12",
		"/a%2Fb/c",
		"relative/path/5/",
		"http://example.com/a/../b",
		"/",
	}
	for _, in := range inputs {
		once := NormalizeRoute(in)
		assert.Equal(t, once, NormalizeRoute(once), "input %q", in)
		assert.Equal(t, once, NormalizeRoute(in), "determinism for %q", in)
	}
}

func TestRouteNormalizer_Origin(t *testing.T) {
	n := NewRouteNormalizer("https://shop.example.com/app/")
	// Relative references resolve against the origin's path.
	assert.Equal(t, "/app/cart", n.Normalize("cart/3"))
	assert.Equal(t, "/cart", n.Normalize("/cart/3"))

	broken := NewRouteNormalizer("::not an origin::")
	assert.Equal(t, "/x", broken.Normalize("/x/1"))

	var nilNormalizer *RouteNormalizer
	assert.Equal(t, "/x", nilNormalizer.Normalize("/x/1"))
}
