package rss

import (
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractPageImage finds a representative image on an article page, trying
// og:image, then twitter:image, then the first usable <img>. The result is
// absolute, resolved against pageURL, or "" if nothing qualifies.
func ExtractPageImage(r io.Reader, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}

	candidates := []string{
		metaContent(doc, `meta[property="og:image"]`, `meta[name="og:image"]`),
		metaContent(doc, `meta[name="twitter:image"]`, `meta[property="twitter:image"]`),
		firstContentImage(doc),
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if abs := absoluteHTTP(c, pageURL); abs != "" {
			return abs, nil
		}
	}
	return "", nil
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", "")); v != "" {
			return v
		}
	}
	return ""
}

func firstContentImage(doc *goquery.Document) string {
	var src string
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v := strings.TrimSpace(s.AttrOr("src", ""))
		if v == "" || strings.HasPrefix(strings.ToLower(v), "data:") {
			return true
		}
		if u, err := url.Parse(v); err == nil {
			switch strings.ToLower(path.Ext(u.Path)) {
			case ".svg", ".ico":
				return true
			}
		}
		src = v
		return false
	})
	return src
}

// absoluteHTTP resolves ref against base and keeps it only if it is an
// http(s) URL.
func absoluteHTTP(ref, base string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if !u.IsAbs() {
		b, err := url.Parse(base)
		if err != nil {
			return ""
		}
		u = b.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
