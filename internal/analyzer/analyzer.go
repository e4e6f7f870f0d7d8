// Package analyzer detects feature patterns in a single script or hook
// command. Findings are free of file paths and of the install-hook tag so
// they can be cached by content and applied to any file.
package analyzer

import (
	"context"
	"fmt"

	"github.com/kluth/npm-feature-extractor/internal/features"
)

// DefaultMaxStringLength is the length at which string literals are no
// longer matched against the lexical patterns.
const DefaultMaxStringLength = 66875

// Finding is one detector hit.
type Finding struct {
	Flag features.Flag
	// Range is the syntax node that raised the flag, if any.
	Range *features.Range
	// Literal is the matched text when the hit has no syntax node.
	Literal string
}

// Position binds the finding to a file.
func (f Finding) Position(path string) features.Position {
	return features.Position{FilePath: path, Range: f.Range, Literal: f.Literal}
}

// FileResult is the outcome of analyzing one script.
type FileResult struct {
	Findings []Finding
	// Nodes is the number of syntax nodes traversed.
	Nodes int
	// ParseErr is set when the script did not parse. Findings then hold
	// lexical hits only.
	ParseErr *ParseError
}

// ParseError describes a script the syntax analyzer could not parse.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Detail string
}

func (e *ParseError) Error() string {
	loc := fmt.Sprintf("%d:%d", e.Line, e.Column)
	if e.Path != "" {
		loc = e.Path + ":" + loc
	}
	return fmt.Sprintf("parse %s: %s", loc, e.Detail)
}

// capper keeps at most max findings per flag.
type capper struct {
	max    int
	counts map[features.Flag]int
	out    []Finding
}

func newCapper(max int) *capper {
	if max <= 0 {
		max = features.DefaultMaxPositions
	}
	return &capper{max: max, counts: make(map[features.Flag]int)}
}

func (c *capper) add(f Finding) {
	if c.counts[f.Flag] >= c.max {
		return
	}
	c.counts[f.Flag]++
	c.out = append(c.out, f)
}

// Analyzer runs the syntax and lexical detectors over a script.
type Analyzer struct {
	syntax  *SyntaxAnalyzer
	lexical *LexicalMatcher
}

// New returns an Analyzer using opts for both detectors.
func New(opts SyntaxOptions) *Analyzer {
	s := NewSyntaxAnalyzer(opts)
	return &Analyzer{
		syntax:  s,
		lexical: NewLexicalMatcher(s.opts.Tables),
	}
}

// Lexical returns the lexical matcher, used for hook commands.
func (a *Analyzer) Lexical() *LexicalMatcher { return a.lexical }

// AnalyzeScript runs both detectors over src. A parse failure is reported
// in the result, not as an error.
func (a *Analyzer) AnalyzeScript(ctx context.Context, src []byte) (FileResult, error) {
	findings, nodes, perr, err := a.syntax.Analyze(ctx, src)
	if err != nil {
		return FileResult{}, err
	}
	findings = append(findings, a.lexical.ScanScript(src)...)
	return FileResult{Findings: findings, Nodes: nodes, ParseErr: perr}, nil
}
