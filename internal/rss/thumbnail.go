package rss

import (
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

var (
	youtubeImgRe   = regexp.MustCompile(`<img[^>]+src="([^"]+youtube[^"]+)"`)
	youtubeVideoRe = regexp.MustCompile(`(?:youtube\.com/watch\?(?:[^#]*&)?v=|youtu\.be/)([A-Za-z0-9_-]+)`)
)

// ExtractThumbnail picks a representative image for a feed item. Checks run
// in priority order and the first hit wins:
//
//  1. media:thumbnail, directly on the item or inside media:group
//  2. an enclosure whose type mentions "image"
//  3. (RSS only) an <img> in the description pointing at youtube
//  4. (RSS only) a YouTube watch or short link, mapped to its still image
//
// Returns "" when nothing matches.
func ExtractThumbnail(item *gofeed.Item, isRSS bool) string {
	if u := mediaThumbnail(item.Extensions); u != "" {
		return u
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.Contains(strings.ToLower(enc.Type), "image") {
			return enc.URL
		}
	}
	if !isRSS {
		return ""
	}
	if m := youtubeImgRe.FindStringSubmatch(item.Description); m != nil {
		return m[1]
	}
	if id := YouTubeVideoID(item.Link); id != "" {
		return "https://img.youtube.com/vi/" + id + "/maxresdefault.jpg"
	}
	return ""
}

// YouTubeVideoID returns the video ID of a watch or youtu.be URL.
func YouTubeVideoID(link string) string {
	if m := youtubeVideoRe.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	return ""
}

func mediaThumbnail(exts ext.Extensions) string {
	media, ok := exts["media"]
	if !ok {
		return ""
	}
	if u := firstAttr(media["thumbnail"], "url"); u != "" {
		return u
	}
	for _, group := range media["group"] {
		if u := firstAttr(group.Children["thumbnail"], "url"); u != "" {
			return u
		}
	}
	return ""
}

func firstAttr(nodes []ext.Extension, attr string) string {
	for _, n := range nodes {
		if v := strings.TrimSpace(n.Attrs[attr]); v != "" {
			return v
		}
	}
	return ""
}
