package headless

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artatlas/venue-crawler/internal/core"
)

func probeResponse(body string) core.FetchResponse {
	return core.FetchResponse{StatusCode: 200, Body: []byte(body)}
}

func TestShouldPromoteEmptyBody(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)
	require.True(t, d.ShouldPromote(probeResponse("")))
}

func TestShouldPromoteFrameworkMarkers(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)
	padding := strings.Repeat("<p>plenty of server-rendered text here</p>", 100)
	for _, marker := range []string{
		`<div id="__next"></div>`,
		`<div id="root"></div>`,
		`<div data-reactroot></div>`,
		`<app-root ng-version="17.0.0"></app-root>`,
	} {
		require.True(t, d.ShouldPromote(probeResponse(padding+marker)), marker)
	}
}

func TestShouldPromoteSmallScriptHeavyPage(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)
	shell := `<html><body><div></div><script>` + strings.Repeat("window.x=1;", 50) + `</script></body></html>`
	require.Less(t, len(shell), 2048)
	require.True(t, d.ShouldPromote(probeResponse(shell)))
}

func TestShouldNotPromoteServerRenderedPage(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)
	page := strings.Repeat("<p>Opening hours, program notes and directions.</p>", 120)
	require.False(t, d.ShouldPromote(probeResponse(page)))
}

func TestShouldNotPromoteSmallPlainPage(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)
	require.False(t, d.ShouldPromote(probeResponse("<html><body><p>Closed for summer.</p></body></html>")))
}

func TestShouldNotPromoteNon200OrAlreadyRendered(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)
	require.False(t, d.ShouldPromote(core.FetchResponse{StatusCode: 404}))
	require.False(t, d.ShouldPromote(core.FetchResponse{StatusCode: 200, UsedHeadless: true}))
}

func TestCustomThreshold(t *testing.T) {
	t.Parallel()

	// Below a larger threshold the same script-heavy page still promotes; a
	// tiny threshold turns the size rule off for it.
	shell := `<script>` + strings.Repeat("a", 400) + `</script><p>x</p>`
	require.True(t, NewDetector(4096).ShouldPromote(probeResponse(shell)))
	require.False(t, NewDetector(10).ShouldPromote(probeResponse(shell)))
}
