package headless

import (
	"bytes"
	"strings"

	"github.com/artatlas/venue-crawler/internal/core"
)

// Detector implements rule-based headless promotion. Venue sites built on
// client-side frameworks serve skeleton HTML to plain fetchers; these rules
// catch the common shapes.
type Detector struct {
	BodyLengthThreshold int
}

// NewDetector creates a detector. A zero threshold means 2048 bytes.
func NewDetector(threshold int) *Detector {
	if threshold == 0 {
		threshold = 2048
	}
	return &Detector{BodyLengthThreshold: threshold}
}

var frameworkMarkers = [][]byte{
	[]byte("__next"),
	[]byte("__nuxt"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether the probe response warrants a headless render.
func (d *Detector) ShouldPromote(resp core.FetchResponse) bool {
	if resp.StatusCode != 200 || resp.UsedHeadless {
		return false
	}
	if len(resp.Body) == 0 {
		return true
	}
	if len(resp.Body) < d.BodyLengthThreshold && scriptHeavy(resp.Body) {
		return true
	}
	for _, marker := range frameworkMarkers {
		if bytes.Contains(resp.Body, marker) {
			return true
		}
	}
	return false
}

// scriptHeavy reports whether script tags cover at least a quarter of the
// document.
func scriptHeavy(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	covered := 0
	pos := 0
	for {
		start := strings.Index(lower[pos:], "<script")
		if start == -1 {
			break
		}
		start += pos
		end := strings.Index(lower[start:], "</script>")
		if end == -1 {
			// Unclosed script tag; count the remainder.
			covered += total - start
			break
		}
		end += start + len("</script>")
		covered += end - start
		pos = end
	}
	return covered*100/total >= 25
}
