// Package markup extracts the pieces of a post document the blog cares about:
// its title, its banner and the media files it embeds.
package markup

import (
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is the result of scanning one post HTML file.
type Document struct {
	Title  string
	Banner string
	// Images and Audios hold raw src attribute values in document order.
	Images []string
	Audios []string
}

// Scan parses r and collects the title, banner, img sources and audio sources.
// Audio sources come from the audio element itself and from nested source elements.
func Scan(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	doc := &Document{}
	walk(root, doc, false)
	return doc, nil
}

// ScanString is Scan over an in-memory document.
func ScanString(s string) (*Document, error) {
	return Scan(strings.NewReader(s))
}

func walk(n *html.Node, doc *Document, inAudio bool) {
	if n.Type == html.ElementNode {
		id := attr(n, "id")
		if id == "post_title" && doc.Title == "" {
			doc.Title = strings.TrimSpace(text(n))
		}
		if id == "post_banner" && doc.Banner == "" {
			doc.Banner = attr(n, "src")
		}
		switch n.DataAtom {
		case atom.Img:
			if src := attr(n, "src"); src != "" {
				doc.Images = append(doc.Images, src)
			}
		case atom.Audio:
			if src := attr(n, "src"); src != "" {
				doc.Audios = append(doc.Audios, src)
			}
			inAudio = true
		case atom.Source:
			if src := attr(n, "src"); inAudio && src != "" {
				doc.Audios = append(doc.Audios, src)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, doc, inAudio)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return b.String()
}

// templateRef matches template expressions such as
// {{ url_for('media', filename='cover.png') }}.
var templateRef = regexp.MustCompile(`filename\s*=\s*'([^']*)'`)

// MediaName turns an src value into the bare media file name it points at.
// Only template references, bare file names and paths under the media route
// resolve; anything with a scheme or host, or outside /media/, yields "".
func MediaName(src string) string {
	src = strings.TrimSpace(src)
	if m := templateRef.FindStringSubmatch(src); m != nil {
		return cleanName(path.Base(strings.TrimSpace(m[1])))
	}
	u, err := url.Parse(src)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	p := strings.TrimPrefix(u.Path, "./")
	if !strings.Contains(p, "/") {
		return cleanName(p)
	}
	for _, prefix := range []string{MediaRoute, strings.TrimPrefix(MediaRoute, "/")} {
		if rest, ok := strings.CutPrefix(p, prefix); ok && !strings.Contains(rest, "/") {
			return cleanName(rest)
		}
	}
	return ""
}

// MediaRoute is the URL path media files are served under.
const MediaRoute = "/media/"

func cleanName(name string) string {
	if name == "" || name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}

// Media returns the distinct media file names referenced by images and audio.
func (d *Document) Media() []string {
	seen := make(map[string]bool)
	var names []string
	for _, src := range append(append([]string{}, d.Images...), d.Audios...) {
		name := MediaName(src)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
