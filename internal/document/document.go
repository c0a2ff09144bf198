// Package document builds the standalone HTML documents handed to the preview frame.
//
// Nothing here parses HTML. Documents are assembled by concatenation in a fixed
// order, and caller-supplied markup is edited by inserting fragments before the
// first occurrence of an anchor such as "</head>". Inputs are never escaped:
// callers own the validity of the fragments they pass in.
package document

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultMarkup is the root used when Parts.Markup is empty.
const DefaultMarkup = `<div id="root"></div>`

// Anchors used when splicing into caller-supplied markup.
const (
	HeadClose = "</head>"
	BodyClose = "</body>"
)

// Parts are the fragments Compose assembles.
type Parts struct {
	Markup      string
	Style       string
	BodyContent string
	HeadScripts []string
	BodyScripts []string
}

// Compose returns a complete document with exactly one head and one body.
//
// Order inside <head>: meta tags, the style block (only when Style is non-empty),
// then HeadScripts in slice order. Order inside <body>: Markup, BodyContent,
// then BodyScripts in slice order.
func Compose(p Parts) string {
	markup := p.Markup
	if markup == "" {
		markup = DefaultMarkup
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"UTF-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	if p.Style != "" {
		b.WriteString(StyleBlock(p.Style))
		b.WriteString("\n")
	}
	for _, s := range p.HeadScripts {
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString("</head>\n<body>\n")
	b.WriteString(markup)
	b.WriteString("\n")
	if p.BodyContent != "" {
		b.WriteString(p.BodyContent)
		b.WriteString("\n")
	}
	for _, s := range p.BodyScripts {
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

// StyleBlock wraps css in a single inline <style> element.
func StyleBlock(css string) string {
	return "<style>\n" + css + "\n</style>"
}

// InlineScript wraps a literal script body in a tag of the given type.
// An empty scriptType means "module".
func InlineScript(body, scriptType string) string {
	if scriptType == "" {
		scriptType = "module"
	}
	return `<script type="` + scriptType + `">` + "\n" + body + "\n</script>"
}

// ExternalScript builds a <script src> tag. Attributes are written in key order;
// an empty value produces a bare boolean attribute.
func ExternalScript(src string, attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<script src="`)
	b.WriteString(src)
	b.WriteString(`"`)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		if v := attrs[k]; v != "" {
			b.WriteString(`="`)
			b.WriteString(v)
			b.WriteString(`"`)
		}
	}
	b.WriteString("></script>")
	return b.String()
}

// InsertBefore inserts fragment before the first occurrence of marker.
// When marker is absent the document is returned unchanged.
func InsertBefore(doc, marker, fragment string) string {
	i := strings.Index(doc, marker)
	if i < 0 {
		return doc
	}
	return doc[:i] + fragment + "\n" + doc[i:]
}

var (
	stylesheetLink    = regexp.MustCompile(`(?is)<link\b[^>]*\brel\s*=\s*["']?stylesheet["']?[^>]*>`)
	selfClosingScript = regexp.MustCompile(`(?is)<script\b[^>]*\bsrc\s*=[^>]*/>`)
	externalScript    = regexp.MustCompile(`(?is)<script\b[^>]*\bsrc\s*=[^>]*>.*?</script\s*>`)
)

// StripExternalAssets removes every stylesheet <link> and every <script src>
// from markup. Those reference files that do not exist inside the preview frame.
func StripExternalAssets(markup string) string {
	out := stylesheetLink.ReplaceAllString(markup, "")
	// self-closing tags first, otherwise the paired pattern would run on to the
	// next </script> and swallow an inline script
	out = selfClosingScript.ReplaceAllString(out, "")
	out = externalScript.ReplaceAllString(out, "")
	return out
}

// Splice prepares caller-supplied markup: external assets are stripped, the style
// block goes before </head> and bodyScripts before </body>. Missing anchors skip
// that injection.
func Splice(markup, style string, bodyScripts []string) string {
	doc := StripExternalAssets(markup)
	if style != "" {
		doc = InsertBefore(doc, HeadClose, StyleBlock(style))
	}
	if len(bodyScripts) > 0 {
		doc = InsertBefore(doc, BodyClose, strings.Join(bodyScripts, "\n"))
	}
	return doc
}
