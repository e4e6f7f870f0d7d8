package features

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// DefaultMaxPositions is the per-feature position cap.
const DefaultMaxPositions = 1000

// Point is a source location. Line is 1-based, Column is 0-based.
type Point struct {
	Line   int `json:"line" yaml:"line"`
	Column int `json:"column" yaml:"column"`
}

// Range spans a syntax node.
type Range struct {
	Start Point `json:"start" yaml:"start"`
	End   Point `json:"end" yaml:"end"`
}

// Position justifies one raised flag. Exactly one of Range or Literal is set.
type Position struct {
	FilePath string
	Range    *Range
	Literal  string
}

type positionJSON struct {
	FilePath string          `json:"filePath"`
	Content  json.RawMessage `json:"content"`
}

// MarshalJSON encodes the position as {"filePath", "content"} where content
// is either a range object or the literal string.
func (p Position) MarshalJSON() ([]byte, error) {
	var content interface{} = p.Literal
	if p.Range != nil {
		content = p.Range
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(positionJSON{FilePath: p.FilePath, Content: raw})
}

// UnmarshalJSON decodes either content form.
func (p *Position) UnmarshalJSON(data []byte) error {
	var raw positionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.FilePath = raw.FilePath
	p.Range = nil
	p.Literal = ""
	trimmed := bytes.TrimSpace(raw.Content)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	switch trimmed[0] {
	case '"':
		return json.Unmarshal(trimmed, &p.Literal)
	case '{':
		var r Range
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return err
		}
		p.Range = &r
		return nil
	default:
		return errors.New("position content must be a range or a string")
	}
}

// MarshalYAML uses the same shape as the JSON document.
func (p Position) MarshalYAML() (interface{}, error) {
	out := map[string]interface{}{"filePath": p.FilePath}
	if p.Range != nil {
		out["content"] = p.Range
	} else {
		out["content"] = p.Literal
	}
	return out, nil
}

// PositionRecorder keeps a capped, append-only list of positions per flag.
// It is not safe for concurrent use; Aggregator serializes access.
type PositionRecorder struct {
	max   int
	lists [numFlags][]Position
}

// NewPositionRecorder creates a recorder keeping at most max entries per
// flag. A non-positive max selects DefaultMaxPositions.
func NewPositionRecorder(max int) *PositionRecorder {
	if max <= 0 {
		max = DefaultMaxPositions
	}
	return &PositionRecorder{max: max}
}

// Add appends p to the list of f. Entries beyond the cap are dropped and
// Add reports false.
func (pr *PositionRecorder) Add(f Flag, p Position) bool {
	if !f.valid() || len(pr.lists[f]) >= pr.max {
		return false
	}
	pr.lists[f] = append(pr.lists[f], p)
	return true
}

// Get returns the positions recorded for f.
func (pr *PositionRecorder) Get(f Flag) []Position {
	if !f.valid() {
		return nil
	}
	return pr.lists[f]
}

// Len returns the total number of recorded positions.
func (pr *PositionRecorder) Len() int {
	n := 0
	for _, l := range pr.lists {
		n += len(l)
	}
	return n
}

// RewritePaths replaces the prefix from with to on every recorded file path.
// Used to report archive members relative to the archive instead of the
// temporary extraction directory.
func (pr *PositionRecorder) RewritePaths(from, to string) {
	for i := range pr.lists {
		for j := range pr.lists[i] {
			p := &pr.lists[i][j]
			if strings.HasPrefix(p.FilePath, from) {
				p.FilePath = to + strings.TrimPrefix(p.FilePath, from)
			}
		}
	}
}

// MarshalJSON writes one key per flag in declaration order, each holding a
// (possibly empty) array.
func (pr *PositionRecorder) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := range pr.lists {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(Flag(i).Key())
		buf.Write(key)
		buf.WriteByte(':')
		list := pr.lists[i]
		if list == nil {
			list = []Position{}
		}
		raw, err := json.Marshal(list)
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML writes one key per flag. Keys are sorted by the encoder.
func (pr *PositionRecorder) MarshalYAML() (interface{}, error) {
	out := make(map[string][]Position, numFlags)
	for i, list := range pr.lists {
		if list == nil {
			list = []Position{}
		}
		out[Flag(i).Key()] = list
	}
	return out, nil
}

// UnmarshalJSON reads a document written by MarshalJSON. Lists longer than
// the cap are truncated.
func (pr *PositionRecorder) UnmarshalJSON(data []byte) error {
	var raw map[string][]Position
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if pr.max <= 0 {
		pr.max = DefaultMaxPositions
	}
	pr.lists = [numFlags][]Position{}
	for key, list := range raw {
		f, err := ParseFlag(key)
		if err != nil {
			return err
		}
		for _, p := range list {
			pr.Add(f, p)
		}
	}
	return nil
}
