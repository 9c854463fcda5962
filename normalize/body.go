package normalize

import (
	"encoding/base64"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dhcgn/inbox-to-sheets/model"
)

// Body extracts the plain-text body of a part tree: the first text/plain leaf
// in depth-first order, else the first text/html leaf with markup stripped,
// else the top-level content as-is. The result is whitespace-collapsed.
func Body(payload *model.Part) string {
	if payload == nil {
		return ""
	}
	if p := findLeaf(payload, "text/plain"); p != nil {
		return Collapse(decodePart(*p))
	}
	if p := findLeaf(payload, "text/html"); p != nil {
		return HTMLToText(decodePart(*p))
	}
	return Collapse(decodePart(*payload))
}

func findLeaf(p *model.Part, mediaType string) *model.Part {
	if !p.IsMultipart() {
		if p.MediaType() == mediaType {
			return p
		}
		return nil
	}
	for i := range p.Parts {
		if found := findLeaf(&p.Parts[i], mediaType); found != nil {
			return found
		}
	}
	return nil
}

func decodePart(p model.Part) string {
	if !p.Encoded {
		return strings.ToValidUTF8(p.Body, "\uFFFD")
	}
	data, ok := decodeBase64(p.Body)
	if !ok {
		return ""
	}
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

// decodeBase64 accepts both alphabets, padded or not; providers disagree.
func decodeBase64(s string) ([]byte, bool) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, s)
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, true
		}
	}
	return nil, false
}

// HTMLToText drops tags (and the contents of script and style elements),
// decodes named and numeric character references, and collapses whitespace.
func HTMLToText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return Collapse(sb.String())
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Script || a == atom.Style {
				skip++
			}
			if breaksText(a) {
				sb.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if (a == atom.Script || a == atom.Style) && skip > 0 {
				skip--
			}
			if breaksText(a) {
				sb.WriteByte(' ')
			}
		}
	}
}

func breaksText(a atom.Atom) bool {
	switch a {
	case atom.Br, atom.P, atom.Div, atom.Li, atom.Tr, atom.Td, atom.Th,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Hr:
		return true
	}
	return false
}

// Collapse trims s and replaces every run of whitespace with a single space.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
