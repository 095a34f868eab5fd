// Package markdown converts fetched HTML into the markdown-ish text the
// extraction gateway consumes. Readability strips chrome and boilerplate;
// goquery pulls structural elements readability tends to drop.
package markdown

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// FromHTML renders page HTML as plain markdown text. The page URL resolves
// relative links inside the article body.
func FromHTML(html []byte, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	article, err := readability.FromReader(bytes.NewReader(html), u)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}

	var b strings.Builder
	if title := strings.TrimSpace(article.Title); title != "" {
		b.WriteString("# ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(article.TextContent))
	text := collapseBlankLines(b.String())
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no readable content at %s", pageURL)
	}
	return text, nil
}

// Links extracts same-host anchor targets from HTML, resolved against the
// base URL, in document order and deduplicated.
func Links(html []byte, baseURL string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if !strings.EqualFold(resolved.Host, base.Host) {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
