package rss

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedtrak/internal/model"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	return &Normalizer{now: func() time.Time { return fixedNow }}
}

func TestParseRSSScenario(t *testing.T) {
	doc := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Example</title>
<item><title>A</title><link>http://x/a</link><pubDate>Mon, 01 Jan 2024 00:00:00 GMT</pubDate></item>
</channel></rss>`

	feed := testNormalizer().Parse([]byte(doc), "http://x/feed")
	require.NotNil(t, feed)
	assert.Equal(t, "Example", feed.Title)
	assert.Equal(t, model.FeedTypeRSS, feed.Type)
	assert.Equal(t, "http://x/feed", feed.FeedURL)

	require.Len(t, feed.Entries, 1)
	e := feed.Entries[0]
	assert.Equal(t, "A", e.Title)
	assert.Equal(t, "http://x/a", e.GUID)
	assert.Equal(t, "http://x/a", e.URL)
	assert.True(t, e.Dated)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), e.PublishedAt)
}

func TestParseRSSFields(t *testing.T) {
	doc := `<?xml version="1.0"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
  <title> Blog </title>
  <description>Notes</description>
  <link>https://blog.example.com/</link>
  <image><url>https://blog.example.com/logo.png</url><title>Blog</title><link>https://blog.example.com/</link></image>
  <item>
    <title>First</title>
    <guid>tag:blog,1</guid>
    <link>/posts/first</link>
    <description>&lt;p&gt;Hello &lt;b&gt;world&lt;/b&gt;&lt;/p&gt;</description>
    <content:encoded><![CDATA[<p>Full body</p>]]></content:encoded>
    <dc:creator>Ann</dc:creator>
    <dc:date>2024-02-03T04:05:06Z</dc:date>
  </item>
  <item>
    <title>Undated</title>
    <link>https://blog.example.com/posts/undated</link>
  </item>
  <item>
    <title>Also undated</title>
    <link>https://blog.example.com/posts/undated-2</link>
  </item>
</channel></rss>`

	feed := testNormalizer().Parse([]byte(doc), "https://blog.example.com/feed.xml")
	require.NotNil(t, feed)
	assert.Equal(t, "Blog", feed.Title)
	assert.Equal(t, "Notes", feed.Description)
	assert.Equal(t, "https://blog.example.com/", feed.SiteURL)
	assert.Equal(t, "https://blog.example.com/logo.png", feed.IconURL)
	require.Len(t, feed.Entries, 3)

	first := feed.Entries[0]
	assert.Equal(t, "tag:blog,1", first.GUID)
	assert.Equal(t, "https://blog.example.com/posts/first", first.URL)
	assert.Equal(t, "<p>Hello <b>world</b></p>", first.Content, "RSS prefers description")
	assert.Equal(t, "Hello world", first.Excerpt)
	assert.Equal(t, "Ann", first.Author)
	assert.Equal(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), first.PublishedAt)

	undated, second := feed.Entries[1], feed.Entries[2]
	assert.False(t, undated.Dated)
	assert.Equal(t, fixedNow.Add(-1*time.Second), undated.PublishedAt)
	assert.Equal(t, fixedNow.Add(-2*time.Second), second.PublishedAt)
	assert.True(t, undated.PublishedAt.After(second.PublishedAt), "undated entries keep document order")
}

func TestParseRSSGuidFallbackToHash(t *testing.T) {
	doc := `<rss version="2.0"><channel><title>T</title>
<item><title>No link</title><description>body</description></item>
</channel></rss>`

	feed := testNormalizer().Parse([]byte(doc), "https://example.com/rss")
	require.NotNil(t, feed)
	require.Len(t, feed.Entries, 1)
	assert.True(t, strings.HasPrefix(feed.Entries[0].GUID, "sha1:"))

	again := testNormalizer().Parse([]byte(doc), "https://example.com/rss")
	assert.Equal(t, feed.Entries[0].GUID, again.Entries[0].GUID)
}

func TestParseRSSOneEntryPerItem(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<rss version="2.0"><channel><title>Many</title>`)
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, `<item><title>Item %d</title><link>https://example.com/%d</link></item>`, i, i)
	}
	b.WriteString(`</channel></rss>`)

	feed := testNormalizer().Parse([]byte(b.String()), "https://example.com/rss")
	require.NotNil(t, feed)
	require.Len(t, feed.Entries, 40)
	for i, e := range feed.Entries {
		assert.Equal(t, fmt.Sprintf("https://example.com/%d", i), e.GUID)
	}

	feed.Truncate(15)
	assert.Len(t, feed.Entries, 15)
	assert.Equal(t, "Item 0", feed.Entries[0].Title)
}

func TestParseAtom(t *testing.T) {
	doc := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Blog</title>
  <subtitle>Sub</subtitle>
  <link rel="self" href="https://atom.example.com/feed.atom"/>
  <link href="https://atom.example.com/"/>
  <logo>https://atom.example.com/logo.png</logo>
  <entry>
    <id>urn:uuid:1</id>
    <title>Published</title>
    <link rel="alternate" href="https://atom.example.com/1"/>
    <published>2024-05-01T10:00:00Z</published>
    <updated>2024-05-02T10:00:00Z</updated>
    <summary>short</summary>
    <content type="html">&lt;p&gt;long&lt;/p&gt;</content>
    <author><name>Bo</name></author>
  </entry>
  <entry>
    <title>Updated only</title>
    <link href="https://atom.example.com/2"/>
    <updated>2024-06-01T10:00:00Z</updated>
    <summary>only summary</summary>
  </entry>
  <entry>
    <id>urn:uuid:3</id>
    <title>Neither</title>
  </entry>
</feed>`

	feed := testNormalizer().Parse([]byte(doc), "https://atom.example.com/feed.atom")
	require.NotNil(t, feed)
	assert.Equal(t, model.FeedTypeAtom, feed.Type)
	assert.Equal(t, "Atom Blog", feed.Title)
	assert.Equal(t, "Sub", feed.Description)
	assert.Equal(t, "https://atom.example.com/", feed.SiteURL)
	assert.Equal(t, "https://atom.example.com/logo.png", feed.IconURL)
	require.Len(t, feed.Entries, 3)

	pub := feed.Entries[0]
	assert.Equal(t, "urn:uuid:1", pub.GUID)
	assert.Equal(t, "<p>long</p>", pub.Content, "Atom prefers content")
	assert.Equal(t, "Bo", pub.Author)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), pub.PublishedAt)

	upd := feed.Entries[1]
	assert.Equal(t, "https://atom.example.com/2", upd.GUID, "guid falls back to link")
	assert.Equal(t, "only summary", upd.Content)
	assert.True(t, upd.Dated)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), upd.PublishedAt)

	neither := feed.Entries[2]
	assert.False(t, neither.Dated)
	assert.Equal(t, fixedNow.Add(-2*time.Second), neither.PublishedAt)
}

func TestParseAtomSelfLinkIsNotSiteURL(t *testing.T) {
	doc := `<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Self only</title>
  <link rel="self" href="https://x.example/feed.atom"/>
  <entry><id>1</id><title>One</title></entry>
</feed>`

	feed := testNormalizer().Parse([]byte(doc), "https://mirror.example/x.atom")
	require.NotNil(t, feed)
	assert.Empty(t, feed.SiteURL)
	assert.Equal(t, "https://mirror.example/x.atom", feed.FeedURL)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"malformed": `<rss version="2.0"><channel><title>broken`,
		"rdf": `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns="http://purl.org/rss/1.0/">
<channel><title>RDF</title></channel><item><title>x</title><link>http://x</link></item></rdf:RDF>`,
		"json feed": `{"version":"https://jsonfeed.org/version/1","title":"J","items":[]}`,
		"html":      `<html><head><title>page</title></head><body></body></html>`,
		"unknown":   `<?xml version="1.0"?><catalog><book/></catalog>`,
		"empty":     ``,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, testNormalizer().Parse([]byte(doc), "https://example.com/feed"))
		})
	}
}

func TestEntryModel(t *testing.T) {
	e := Entry{GUID: "g", Title: "t", URL: "u", PublishedAt: fixedNow}
	m := e.Model(7)
	assert.Equal(t, int64(7), m.FeedID)
	assert.Equal(t, "g", m.GUID)
	assert.Equal(t, fixedNow, m.PublishedAt)

	f := Feed{Title: "T", FeedURL: "https://example.com/rss", Type: model.FeedTypeRSS}
	assert.Equal(t, "https://example.com/rss", f.Model().FeedURL)
}
