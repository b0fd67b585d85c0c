package markdown

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ImageRef is one markdown image block lifted out of a document before
// translation. Raw keeps the exact source bytes so a failed caption
// translation can restore the block untouched.
type ImageRef struct {
	Caption string
	URL     string
	Raw     string
}

// imagePattern matches inline image blocks: ![caption](url) with an optional
// quoted title. Captions may be empty.
var imagePattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)

const placeholderFormat = "@@LOCSYNC_IMG_%d@@"

// ExtractImages lifts every image block out of the document, replacing each
// with a stable placeholder token the translator treats as opaque. The
// returned refs are in document order; ref i corresponds to placeholder i.
func ExtractImages(document string) (string, []ImageRef) {
	var refs []ImageRef
	replaced := imagePattern.ReplaceAllStringFunc(document, func(raw string) string {
		groups := imagePattern.FindStringSubmatch(raw)
		placeholder := fmt.Sprintf(placeholderFormat, len(refs))
		refs = append(refs, ImageRef{Caption: groups[1], URL: groups[2], Raw: raw})
		return placeholder
	})
	return replaced, refs
}

// RestoreImages substitutes the placeholder tokens back with image blocks,
// using the translated captions and the original URLs. A ref whose Caption is
// unchanged restores its Raw bytes so titles survive.
func RestoreImages(document string, refs []ImageRef) string {
	for i, ref := range refs {
		placeholder := fmt.Sprintf(placeholderFormat, i)
		var block string
		if ref.Raw != "" && extractCaption(ref.Raw) == ref.Caption {
			block = ref.Raw
		} else {
			block = fmt.Sprintf("![%s](%s)", ref.Caption, ref.URL)
		}
		document = strings.Replace(document, placeholder, block, 1)
	}
	return document
}

func extractCaption(raw string) string {
	groups := imagePattern.FindStringSubmatch(raw)
	if groups == nil {
		return ""
	}
	return groups[1]
}

// ImageURLs parses the document with goldmark and collects every image
// destination, sorted, duplicates kept. Parsing the real AST catches images
// the inline regexp missed (reference-style definitions).
func ImageURLs(document string) []string {
	source := []byte(document)
	parser := goldmark.DefaultParser()
	root := parser.Parse(text.NewReader(source))

	var urls []string
	_ = ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if image, ok := node.(*ast.Image); ok {
			urls = append(urls, string(image.Destination))
		}
		return ast.WalkContinue, nil
	})
	sort.Strings(urls)
	return urls
}

// SameImageURLs reports whether two documents reference the same multiset of
// image URLs.
func SameImageURLs(a, b string) bool {
	urlsA := ImageURLs(a)
	urlsB := ImageURLs(b)
	if len(urlsA) != len(urlsB) {
		return false
	}
	for i := range urlsA {
		if urlsA[i] != urlsB[i] {
			return false
		}
	}
	return true
}
