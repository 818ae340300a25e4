package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

func TestHeuristic_NeedsRender_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.Equal(t, ReasonEmpty, h.Reason(crawler.Page{StatusCode: 200}))
}

func TestHeuristic_NeedsRender_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.NeedsRender(crawler.Page{StatusCode: 200, Body: []byte(`<div id="__nuxt"></div>`)}))
	require.Equal(t, ReasonSPAShell, h.Reason(crawler.Page{StatusCode: 200, Body: []byte(`<div id="app"></div>`)}))
}

func TestHeuristic_NeedsRender_Challenge(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10)
	body := `<html><body>` + strings.Repeat("<p>x</p>", 20) + `<script>var arg1='acw_sc__v2';</script></body></html>`
	page := crawler.Page{StatusCode: 200, Body: []byte(body)}
	require.True(t, h.NeedsRender(page))
	require.Equal(t, ReasonChallenge, h.Reason(page))
}

func TestHeuristic_NeedsRender_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	page := crawler.Page{
		StatusCode: 200,
		Body:       []byte(`<html><script>var a=1;</script><p>t</p></html>`),
	}
	require.True(t, h.NeedsRender(page))
	require.Equal(t, ReasonScriptHeavy, h.Reason(page))

	long := crawler.Page{
		StatusCode: 200,
		Body:       []byte(`<html><script>var a=1;</script>` + strings.Repeat("<p>text</p>", 300) + `</html>`),
	}
	require.False(t, NewHeuristic(100).NeedsRender(long))
}

func TestHeuristic_NeedsRender_StaticArticle(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	body := `<html><body><article>` + strings.Repeat("<p>paragraph text</p>", 200) +
		`<span class="read-count">1024</span></article></body></html>`
	require.False(t, h.NeedsRender(crawler.Page{StatusCode: 200, Body: []byte(body)}))
}

func TestHeuristic_NeedsRender_DisabledForNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.False(t, h.NeedsRender(crawler.Page{StatusCode: 404, Body: []byte("not found")}))
}
