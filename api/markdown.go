package api

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// EmptyNotesPlaceholder is the prompt rendered when a task has no notes yet.
const EmptyNotesPlaceholder = "Click to add notes…"

var notesMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.Linkify),
	goldmark.WithParserOptions(
		parser.WithASTTransformers(util.Prioritized(newContextLinks{}, 100)),
	),
)

// newContextLinks annotates every link so it opens in a new browsing context.
type newContextLinks struct{}

func (newContextLinks) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindLink, ast.KindAutoLink:
			n.SetAttributeString("target", []byte("_blank"))
			n.SetAttributeString("rel", []byte("noopener noreferrer"))
		}
		return ast.WalkContinue, nil
	})
}

// renderNotes converts markdown notes to HTML. Empty notes render the
// placeholder prompt instead of an empty document.
func renderNotes(notes string) (string, error) {
	if strings.TrimSpace(notes) == "" {
		notes = "*" + EmptyNotesPlaceholder + "*"
	}
	var buf bytes.Buffer
	if err := notesMarkdown.Convert([]byte(notes), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
