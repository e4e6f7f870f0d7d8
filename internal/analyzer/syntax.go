package analyzer

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/kluth/npm-feature-extractor/internal/features"
	"github.com/kluth/npm-feature-extractor/internal/patterns"
)

// ctxCheckInterval is how many nodes are visited between context checks.
const ctxCheckInterval = 4096

// nodeKind is the closed set of syntax node kinds the detector reacts to.
type nodeKind int

const (
	kindOther nodeKind = iota
	kindCall
	kindNew
	kindMember
	kindString
	kindImport
	kindIdentifier
)

func classify(n *sitter.Node) nodeKind {
	switch n.Type() {
	case "call_expression":
		return kindCall
	case "new_expression":
		return kindNew
	case "member_expression":
		return kindMember
	case "string":
		return kindString
	case "import_statement":
		return kindImport
	case "identifier", "property_identifier", "shorthand_property_identifier", "shorthand_property_identifier_pattern":
		return kindIdentifier
	default:
		return kindOther
	}
}

// SyntaxOptions configures a SyntaxAnalyzer.
type SyntaxOptions struct {
	Tables *patterns.Tables
	// MaxStringLength bounds the literals matched against the lexical
	// patterns. Zero selects DefaultMaxStringLength.
	MaxStringLength int
	// MaxPerFlag caps findings per flag. Zero selects
	// features.DefaultMaxPositions.
	MaxPerFlag int
	// Tolerant analyzes trees that contain syntax errors instead of
	// rejecting them.
	Tolerant bool
}

// SyntaxAnalyzer parses JavaScript with tree-sitter and detects structural
// patterns in a single traversal. It is safe for concurrent use.
type SyntaxAnalyzer struct {
	opts SyntaxOptions
}

// NewSyntaxAnalyzer returns an analyzer using opts.
func NewSyntaxAnalyzer(opts SyntaxOptions) *SyntaxAnalyzer {
	if opts.Tables == nil {
		opts.Tables = patterns.Default()
	}
	if opts.MaxStringLength <= 0 {
		opts.MaxStringLength = DefaultMaxStringLength
	}
	if opts.MaxPerFlag <= 0 {
		opts.MaxPerFlag = features.DefaultMaxPositions
	}
	return &SyntaxAnalyzer{opts: opts}
}

// Analyze parses src and returns its findings and traversed node count. A
// script that does not parse yields a *ParseError and no findings; only a
// cancelled context or a parser failure is returned as err.
func (a *SyntaxAnalyzer) Analyze(ctx context.Context, src []byte) (findings []Finding, nodes int, perr *ParseError, err error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() && !a.opts.Tolerant {
		return nil, 0, firstSyntaxError(root, src), nil
	}

	w := &syntaxWalker{
		src:    src,
		tables: a.opts.Tables,
		maxLen: a.opts.MaxStringLength,
		out:    newCapper(a.opts.MaxPerFlag),
	}
	if err := w.walk(ctx, root); err != nil {
		return nil, w.nodes, nil, err
	}
	return w.out.out, w.nodes, nil, nil
}

// firstSyntaxError locates the first ERROR or MISSING node in document order.
func firstSyntaxError(root *sitter.Node, src []byte) *ParseError {
	cursor := sitter.NewTreeCursor(root)
	defer cursor.Close()

	for {
		n := cursor.CurrentNode()
		if n.IsMissing() {
			p := n.StartPoint()
			return &ParseError{
				Line:   int(p.Row) + 1,
				Column: int(p.Column),
				Detail: fmt.Sprintf("missing %s", n.Type()),
			}
		}
		if n.Type() == "ERROR" {
			p := n.StartPoint()
			text := n.Content(src)
			if len(text) > 40 {
				text = text[:40] + "..."
			}
			return &ParseError{
				Line:   int(p.Row) + 1,
				Column: int(p.Column),
				Detail: fmt.Sprintf("unexpected %q", text),
			}
		}
		if n.HasError() && cursor.GoToFirstChild() {
			continue
		}
		for !cursor.GoToNextSibling() {
			if !cursor.GoToParent() {
				return &ParseError{Line: 1, Detail: "syntax error"}
			}
		}
	}
}

type syntaxWalker struct {
	src    []byte
	tables *patterns.Tables
	maxLen int
	out    *capper
	nodes  int
}

// walk is an iterative pre-order traversal over a tree cursor.
func (w *syntaxWalker) walk(ctx context.Context, root *sitter.Node) error {
	cursor := sitter.NewTreeCursor(root)
	defer cursor.Close()

	for {
		w.nodes++
		if w.nodes%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		w.visit(cursor.CurrentNode())

		if cursor.GoToFirstChild() {
			continue
		}
		for !cursor.GoToNextSibling() {
			if !cursor.GoToParent() {
				return nil
			}
		}
	}
}

func (w *syntaxWalker) visit(n *sitter.Node) {
	switch classify(n) {
	case kindCall:
		w.visitCall(n)
	case kindNew:
		w.visitNew(n)
	case kindMember:
		w.visitMember(n)
	case kindString:
		w.visitString(n)
	case kindImport:
		w.visitImport(n)
	case kindIdentifier:
		w.visitIdentifier(n)
	case kindOther:
	}
}

func (w *syntaxWalker) raise(f features.Flag, n *sitter.Node) {
	w.out.add(Finding{Flag: f, Range: nodeRange(n)})
}

func nodeRange(n *sitter.Node) *features.Range {
	s, e := n.StartPoint(), n.EndPoint()
	return &features.Range{
		Start: features.Point{Line: int(s.Row) + 1, Column: int(s.Column)},
		End:   features.Point{Line: int(e.Row) + 1, Column: int(e.Column)},
	}
}

func (w *syntaxWalker) text(n *sitter.Node) string {
	return n.Content(w.src)
}

func (w *syntaxWalker) isIdentifier(n *sitter.Node, name string) bool {
	return n != nil && n.Type() == "identifier" && w.text(n) == name
}

// capability raises the flag of the module named by spec.
func (w *syntaxWalker) capability(spec string, n *sitter.Node) {
	if f, ok := w.tables.Capabilities.Lookup(spec).Flag(); ok {
		w.raise(f, n)
	}
}

// visitCall handles require("x") and os.<api>(...). Dynamic import() calls
// are not capability lookups.
func (w *syntaxWalker) visitCall(n *sitter.Node) {
	callee := n.ChildByFieldName("function")
	if callee == nil {
		return
	}
	if w.isIdentifier(callee, "require") {
		if arg := firstArgument(n); arg != nil && arg.Type() == "string" {
			w.capability(unquoteJS(w.text(arg)), n)
		}
	}
	switch callee.Type() {
	case "member_expression", "subscript_expression":
		if w.isIdentifier(callee.ChildByFieldName("object"), "os") {
			w.raise(features.AccessSensitiveAPI, n)
		}
	}
}

func firstArgument(call *sitter.Node) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		c := args.NamedChild(i)
		if c.Type() != "comment" {
			return c
		}
	}
	return nil
}

func (w *syntaxWalker) visitNew(n *sitter.Node) {
	if w.isIdentifier(n.ChildByFieldName("constructor"), "Buffer") {
		w.raise(features.UseBuffer, n)
	}
}

func (w *syntaxWalker) visitMember(n *sitter.Node) {
	obj := n.ChildByFieldName("object")
	prop := n.ChildByFieldName("property")
	if obj == nil || prop == nil || obj.Type() != "identifier" || prop.Type() != "property_identifier" {
		return
	}
	switch w.text(obj) + "." + w.text(prop) {
	case "process.env":
		w.raise(features.AccessProcessEnvInJSFile, n)
	case "Buffer.from":
		w.raise(features.UseBuffer, n)
	}
}

func (w *syntaxWalker) visitImport(n *sitter.Node) {
	src := n.ChildByFieldName("source")
	if src == nil {
		return
	}
	w.capability(unquoteJS(w.text(src)), n)
}

func (w *syntaxWalker) visitIdentifier(n *sitter.Node) {
	if w.text(n) == "eval" {
		w.raise(features.UseEval, n)
	}
}

func (w *syntaxWalker) visitString(n *sitter.Node) {
	value := unquoteJS(w.text(n))
	if value == "base64" {
		w.raise(features.UseBase64Conversion, n)
	}
	if utf16Len(value) >= w.maxLen {
		return
	}
	if w.tables.ContainsIP(value) {
		w.raise(features.ContainIP, n)
	}
	if w.tables.IsBase64(value) {
		w.raise(features.ContainBase64StringInJSFile, n)
	}
	if w.tables.ContainsDomain(value) {
		w.raise(features.ContainDomainInJSFile, n)
	}
	if w.tables.ContainsSensitive(value) {
		w.raise(features.ContainSuspiciousString, n)
	}
}
