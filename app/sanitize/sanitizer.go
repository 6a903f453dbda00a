// Package sanitize turns untrusted remote HTML into markup that is safe to
// render: an allow-list pass over the parsed tree, then URL passes that strip
// tracking parameters, drop tracking pixels, resolve relative URLs and
// optionally route images through the image proxy.
package sanitize

import (
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const linkRel = "noopener noreferrer"

// ImageRewriter maps an absolute image URL to the URL that should be served.
type ImageRewriter func(imageURL string) string

type Option func(*Sanitizer)

func WithImageRewriter(rewrite ImageRewriter) Option {
	return func(s *Sanitizer) {
		s.rewriteImage = rewrite
	}
}

// Sanitizer is safe for concurrent use; it holds no mutable state.
type Sanitizer struct {
	allowedTags    map[string]bool
	allowedAttrs   map[string]map[string]bool
	dropTags       map[string]bool
	trackingParams []string
	trackingHosts  []string
	rewriteImage   ImageRewriter
}

func New(policy Policy, opts ...Option) *Sanitizer {
	s := &Sanitizer{
		allowedTags:    toSet(policy.AllowedTags),
		allowedAttrs:   make(map[string]map[string]bool, len(policy.AllowedAttributes)),
		dropTags:       toSet(policy.DropTags),
		trackingParams: lowerAll(policy.TrackingParams),
		trackingHosts:  lowerAll(policy.TrackingHosts),
	}
	for tag, attrs := range policy.AllowedAttributes {
		s.allowedAttrs[strings.ToLower(tag)] = toSet(attrs)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sanitize returns safe HTML for raw. baseURL resolves relative links and
// images; when it is empty or invalid relative URLs are kept as they are.
func (s *Sanitizer) Sanitize(raw, baseURL string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	container := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(raw), container)
	if err != nil {
		slog.Debug("Failed to parse HTML fragment", "error", err)
		return ""
	}

	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		s.copyAllowed(n, root)
	}

	var base *url.URL
	if baseURL != "" {
		if u, err := url.Parse(baseURL); err == nil && u.IsAbs() {
			base = u
		}
	}

	doc := goquery.NewDocumentFromNode(root)
	s.stripTracking(doc)
	s.dropPixels(doc, base)
	absolutize(doc, base)
	s.finishLinksAndImages(doc)

	out, err := doc.Html()
	if err != nil {
		slog.Debug("Failed to render sanitized HTML", "error", err)
		return ""
	}
	return strings.TrimSpace(out)
}

// copyAllowed rebuilds n under parent keeping only allowed elements and attributes.
func (s *Sanitizer) copyAllowed(n, parent *html.Node) {
	switch n.Type {
	case html.TextNode:
		parent.AppendChild(&html.Node{Type: html.TextNode, Data: n.Data})
		return
	case html.ElementNode:
	default:
		return
	}

	tag := strings.ToLower(n.Data)
	if s.dropTags[tag] {
		return
	}

	target := parent
	if s.allowedTags[tag] {
		target = &html.Node{
			Type:     html.ElementNode,
			Data:     tag,
			DataAtom: atom.Lookup([]byte(tag)),
			Attr:     s.filterAttrs(tag, n.Attr),
		}
		parent.AppendChild(target)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.copyAllowed(c, target)
	}
}

func (s *Sanitizer) filterAttrs(tag string, attrs []html.Attribute) []html.Attribute {
	allowed := s.allowedAttrs[tag]
	if len(allowed) == 0 {
		return nil
	}

	kept := make([]html.Attribute, 0, len(attrs))
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		if a.Namespace != "" || !allowed[key] {
			continue
		}
		if isURLAttr(key) && !isSafeURL(a.Val) {
			continue
		}
		kept = append(kept, html.Attribute{Key: key, Val: strings.TrimSpace(a.Val)})
	}
	return kept
}

func (s *Sanitizer) stripTracking(doc *goquery.Document) {
	rewrite := func(attr string) func(int, *goquery.Selection) {
		return func(_ int, sel *goquery.Selection) {
			if v, ok := sel.Attr(attr); ok {
				sel.SetAttr(attr, s.StripTrackingParams(v))
			}
		}
	}
	doc.Find("a[href]").Each(rewrite("href"))
	doc.Find("img[src]").Each(rewrite("src"))
}

// StripTrackingParams removes query parameters matching the tracking patterns
// and keeps the remaining parameters in their original order.
func (s *Sanitizer) StripTrackingParams(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}

	params := strings.Split(u.RawQuery, "&")
	kept := make([]string, 0, len(params))
	for _, param := range params {
		if param == "" {
			continue
		}
		name, _, _ := strings.Cut(param, "=")
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		if matchAny(s.trackingParams, strings.ToLower(name)) {
			continue
		}
		kept = append(kept, param)
	}

	u.RawQuery = strings.Join(kept, "&")
	u.ForceQuery = false
	return u.String()
}

func (s *Sanitizer) dropPixels(doc *goquery.Document, base *url.URL) {
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || src == "" {
			sel.Remove()
			return
		}
		if isPixelSize(sel) || s.isTrackingHost(resolve(base, src)) {
			sel.Remove()
		}
	})
}

func (s *Sanitizer) isTrackingHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return matchAny(s.trackingHosts, strings.ToLower(u.Hostname()))
}

func absolutize(doc *goquery.Document, base *url.URL) {
	if base == nil {
		return
	}
	resolveAttr := func(attr string) func(int, *goquery.Selection) {
		return func(_ int, sel *goquery.Selection) {
			if v, ok := sel.Attr(attr); ok {
				sel.SetAttr(attr, resolve(base, v))
			}
		}
	}
	doc.Find("a[href]").Each(resolveAttr("href"))
	doc.Find("img[src]").Each(resolveAttr("src"))
}

func (s *Sanitizer) finishLinksAndImages(doc *goquery.Document) {
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		sel.SetAttr("rel", linkRel)
	})

	if s.rewriteImage == nil {
		return
	}
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		if u, err := url.Parse(src); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			sel.SetAttr("src", s.rewriteImage(src))
		}
	})
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func isPixelSize(sel *goquery.Selection) bool {
	w, wok := dimension(sel, "width")
	h, hok := dimension(sel, "height")
	return wok && hok && w <= 1 && h <= 1
}

func dimension(sel *goquery.Selection, attr string) (int, bool) {
	v, ok := sel.Attr(attr)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	if err != nil {
		return 0, false
	}
	return n, true
}

func isURLAttr(key string) bool {
	return key == "href" || key == "src"
}

// isSafeURL accepts relative references and absolute http(s) URLs.
func isSafeURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https":
		return true
	}
	return false
}

func matchAny(patterns []string, value string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, value); ok {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}
