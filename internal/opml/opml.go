// Package opml handles importing and exporting OPML files.
package opml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/bryan-buckman/feedtrak/internal/model"
)

// ErrInvalidOPML is returned for documents that cannot be imported at all.
var ErrInvalidOPML = errors.New("invalid OPML")

// Fallback names for outlines without a title or text.
const (
	UncategorizedName = "Uncategorized"
	UntitledFeedName  = "Untitled Feed"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    *Body    `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or feed).
type Outline struct {
	Text        string    `xml:"text,attr"`
	Title       string    `xml:"title,attr,omitempty"`
	Type        string    `xml:"type,attr,omitempty"`
	XMLURL      string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL     string    `xml:"htmlUrl,attr,omitempty"`
	Description string    `xml:"description,attr,omitempty"`
	Outlines    []Outline `xml:"outline,omitempty"`
}

// Feed is a feed outline with the name of its nearest enclosing category.
type Feed struct {
	Title       string
	FeedURL     string
	SiteURL     string
	Description string
	Category    string // "" when the feed sits at the top level
}

// Category is a folder outline and the feeds directly inside it.
type Category struct {
	Name  string
	Feeds []Feed
}

// Document is a parsed subscription list. Categories keep document order
// and are unique by name; Feeds lists every feed in document order.
type Document struct {
	Title      string
	Categories []Category
	Feeds      []Feed
}

// Parse reads an OPML document. Legacy single-byte encodings are converted
// to UTF-8 first. Unparseable XML and a missing <body> wrap ErrInvalidOPML.
func Parse(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read opml: %w", err)
	}

	dec := xml.NewDecoder(bytes.NewReader(Normalize(data)))
	// Content is UTF-8 by now, whatever the prolog declares.
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	var doc OPML
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOPML, err)
	}
	if doc.Body == nil {
		return nil, fmt.Errorf("%w: missing body element", ErrInvalidOPML)
	}

	out := &Document{Title: doc.Head.Title}
	index := make(map[string]int)
	var walk func(outlines []Outline, category string)
	walk = func(outlines []Outline, category string) {
		for _, o := range outlines {
			switch {
			case o.XMLURL != "":
				// It's a feed.
				f := Feed{
					Title:       firstNonEmpty(o.Title, o.Text, UntitledFeedName),
					FeedURL:     strings.TrimSpace(o.XMLURL),
					SiteURL:     strings.TrimSpace(o.HTMLURL),
					Description: o.Description,
					Category:    category,
				}
				out.Feeds = append(out.Feeds, f)
				if category != "" {
					i := index[category]
					out.Categories[i].Feeds = append(out.Categories[i].Feeds, f)
				}
			case len(o.Outlines) > 0:
				// It's a folder.
				name := firstNonEmpty(o.Title, o.Text, UncategorizedName)
				if _, ok := index[name]; !ok {
					index[name] = len(out.Categories)
					out.Categories = append(out.Categories, Category{Name: name})
				}
				walk(o.Outlines, name)
			}
		}
	}
	walk(doc.Body.Outlines, "")
	return out, nil
}

// Normalize converts data to UTF-8 and strips a byte-order mark and control
// characters other than tab, newline and carriage return. Invalid UTF-8 is
// decoded as Windows-1252, or ISO-8859-1 if that leaves unmapped bytes.
func Normalize(data []byte) []byte {
	if !utf8.Valid(data) {
		data = transcode(data, charmap.Windows1252, charmap.ISO8859_1)
	}
	data = bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
	return bytes.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, data)
}

func transcode(data []byte, candidates ...encoding.Encoding) []byte {
	for _, enc := range candidates {
		out, err := enc.NewDecoder().Bytes(data)
		if err == nil && !bytes.ContainsRune(out, utf8.RuneError) {
			return out
		}
	}
	return bytes.ToValidUTF8(data, []byte("�"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// Export renders the user's subscriptions as OPML 2.0. Feeds are grouped
// into one folder per category, in the order categories first appear;
// uncategorized feeds sit at the top level.
func Export(title string, feeds []model.SubscribedFeed, now time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: now.Format(time.RFC1123Z),
		},
		Body: &Body{},
	}

	folders := make(map[string]int)
	for _, f := range feeds {
		name := f.Title
		if name == "" {
			name = f.FeedURL
		}
		feedOutline := Outline{
			Text:        name,
			Title:       name,
			Type:        "rss",
			XMLURL:      f.FeedURL,
			HTMLURL:     f.SiteURL,
			Description: f.Description,
		}
		if f.CategoryName == "" {
			doc.Body.Outlines = append(doc.Body.Outlines, feedOutline)
			continue
		}
		i, ok := folders[f.CategoryName]
		if !ok {
			i = len(doc.Body.Outlines)
			folders[f.CategoryName] = i
			doc.Body.Outlines = append(doc.Body.Outlines, Outline{
				Text:  f.CategoryName,
				Title: f.CategoryName,
			})
		}
		doc.Body.Outlines[i].Outlines = append(doc.Body.Outlines[i].Outlines, feedOutline)
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
