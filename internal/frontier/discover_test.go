package frontier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscoverLinksResolvesRelativeHrefs(t *testing.T) {
	html := `<html><body>
		<a href="/a">A</a>
		<a href="https://other.example/b">B</a>
		<a href="#frag">skip</a>
		<a href="javascript:void(0)">skip</a>
		<a href="/a">dup</a>
	</body></html>`

	links := DiscoverLinks("https://example.com/start", html)
	assert.ElementsMatch(t, []string{"https://example.com/a", "https://other.example/b"}, links)
}

func TestSameDomainIgnoresWWW(t *testing.T) {
	assert.True(t, SameDomain("https://www.example.com/x", "https://example.com/y"))
	assert.False(t, SameDomain("https://example.com/x", "https://other.example/y"))
}
