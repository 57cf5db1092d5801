package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Task
	}{
		{"lowercases scheme and host", "HTTP://Example.COM/Path", "http://example.com/Path"},
		{"strips http default port", "http://example.com:80/foo", "http://example.com/foo"},
		{"strips https default port", "https://example.com:443/foo", "https://example.com/foo"},
		{"strips port 443 on http", "http://example.com:443/x", "http://example.com/x"},
		{"strips port 80 on https", "https://example.com:80/x", "https://example.com/x"},
		{"strips web port on ipv6 host", "http://[::1]:443/x", "http://[::1]/x"},
		{"keeps other ports", "http://example.com:8080/foo", "http://example.com:8080/foo"},
		{"drops fragment", "http://example.com/foo#section", "http://example.com/foo"},
		{"empty path becomes root", "http://example.com", "http://example.com/"},
		{"root keeps its slash", "http://example.com/", "http://example.com/"},
		{"trailing slash removed", "http://example.com/foo/", "http://example.com/foo"},
		{"only one trailing slash removed", "http://example.com/foo//", "http://example.com/foo/"},
		{"query kept verbatim", "http://example.com/s?b=2&a=1", "http://example.com/s?b=2&a=1"},
		{"query kept after trailing slash", "http://example.com/s/?q=x", "http://example.com/s?q=x"},
		{"surrounding whitespace", "  http://example.com/a \n", "http://example.com/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"not a url",
		"/relative/path",
		"mailto:someone@example.com",
		"http://%zz",
		"http:///nohost",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := Normalize(raw)
			require.ErrorIs(t, err, ErrMalformedInput)
		})
	}
}

func TestKeyCanonicalRoundTrip(t *testing.T) {
	a, err := Normalize("HTTP://Example.com:80/foo/")
	require.NoError(t, err)
	b, err := Normalize("http://example.com/foo")
	require.NoError(t, err)

	assert.Equal(t, a.Key(), b.Key())
	assert.Len(t, string(a.Key()), 64)
	assert.Equal(t, a.Key(), KeyOf(a))
}

func TestKeyDistinguishesPages(t *testing.T) {
	base, err := Normalize("http://example.com/foo")
	require.NoError(t, err)

	for _, other := range []string{
		"http://example.com/bar",
		"http://example.com/foo?x=1",
		"http://www.example.com/foo",
		"http://example.com:8080/foo",
	} {
		o, err := Normalize(other)
		require.NoError(t, err)
		assert.NotEqual(t, base.Key(), o.Key(), other)
	}
}

func TestKeyIgnoresScheme(t *testing.T) {
	plain, err := Normalize("http://example.com/page")
	require.NoError(t, err)
	secure, err := Normalize("https://example.com/page")
	require.NoError(t, err)

	assert.Equal(t, plain.Key(), secure.Key())
}

func TestKeyIgnoresWebPorts(t *testing.T) {
	variants := []string{
		"http://example.com/x",
		"http://example.com:80/x",
		"http://example.com:443/x",
		"https://example.com:80/x",
		"https://example.com:443/x",
	}

	want, err := Normalize(variants[0])
	require.NoError(t, err)
	for _, raw := range variants[1:] {
		got, err := Normalize(raw)
		require.NoError(t, err)
		assert.Equal(t, want.Key(), got.Key(), raw)
	}

	other, err := Normalize("http://example.com:8080/x")
	require.NoError(t, err)
	assert.NotEqual(t, want.Key(), other.Key())
}

func TestDomain(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"http://A.test/x", "a.test"},
		{"https://a.test:443/", "a.test"},
		{"http://a.test:8080/", "a.test:8080"},
	}
	for _, tt := range tests {
		tk, err := Normalize(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, tk.Domain(), tt.raw)
	}
}
