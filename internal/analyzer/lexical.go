package analyzer

import (
	"github.com/kluth/npm-feature-extractor/internal/features"
	"github.com/kluth/npm-feature-extractor/internal/patterns"
)

// LexicalMatcher regex-scans raw script text and hook commands. It does not
// parse, so it still reports on scripts the syntax analyzer rejects.
type LexicalMatcher struct {
	tables *patterns.Tables
}

// NewLexicalMatcher returns a matcher over tables, or the default tables
// when nil.
func NewLexicalMatcher(tables *patterns.Tables) *LexicalMatcher {
	if tables == nil {
		tables = patterns.Default()
	}
	return &LexicalMatcher{tables: tables}
}

// ScanScript reports the first escaped-hex byte string in src.
func (m *LexicalMatcher) ScanScript(src []byte) []Finding {
	lit, ok := m.tables.FindBytestring(string(src))
	if !ok {
		return nil
	}
	return []Finding{{Flag: features.ContainBytestring, Literal: lit}}
}

// ScanCommand checks a lifecycle hook command. Each pattern that matches
// yields one finding carrying the whole command.
func (m *LexicalMatcher) ScanCommand(cmd string) []Finding {
	var out []Finding
	if m.tables.ContainsIP(cmd) {
		out = append(out, Finding{Flag: features.ContainIP, Literal: cmd})
	}
	if m.tables.ContainsDomain(cmd) {
		out = append(out, Finding{Flag: features.ContainDomainInInstallScript, Literal: cmd})
	}
	if m.tables.ContainsNetworkCommand(cmd) {
		out = append(out, Finding{Flag: features.AccessNetworkInInstallScript, Literal: cmd})
	}
	if m.tables.ContainsSensitive(cmd) {
		out = append(out, Finding{Flag: features.ContainSuspiciousString, Literal: cmd})
	}
	return out
}
