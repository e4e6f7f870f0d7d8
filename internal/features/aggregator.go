package features

import "sync"

// Aggregator owns the record and position recorder of a single scan. Raise
// and the setters are safe for concurrent use by the workers of that scan.
type Aggregator struct {
	mu        sync.Mutex
	record    Record
	positions *PositionRecorder
	frozen    bool
}

// NewAggregator returns an empty aggregator with the given position cap.
func NewAggregator(maxPositions int) *Aggregator {
	return &Aggregator{positions: NewPositionRecorder(maxPositions)}
}

// Raise sets f and records pos. When install is true and f has an
// install-script variant, the variant is raised and recorded as well.
// Raising a variant directly also raises and records its general flag.
func (a *Aggregator) Raise(f Flag, install bool, pos Position) {
	if !f.valid() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frozen {
		return
	}
	a.raise(f, pos)
	// The general flag gets the same position, so a hook command raising
	// containDomainInInstallScript is also listed under containDomainInJSFile.
	if g, ok := f.General(); ok {
		a.raise(g, pos)
	}
	if !install {
		return
	}
	if v, ok := f.InstallVariant(); ok {
		a.raise(v, pos)
	}
}

func (a *Aggregator) raise(f Flag, pos Position) {
	a.record.Set(f)
	a.positions.Add(f, pos)
}

// Update applies fn to the record under the aggregator lock. Use it for
// identity fields and counters.
func (a *Aggregator) Update(fn func(r *Record)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frozen {
		return
	}
	fn(&a.record)
}

// AddStats accumulates scan counters.
func (a *Aggregator) AddStats(s Stats) {
	a.Update(func(r *Record) { r.Stats.Add(s) })
}

// Finalize freezes the aggregator and returns its record and positions.
// Later calls to Raise or Update are ignored.
func (a *Aggregator) Finalize() (Record, *PositionRecorder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frozen = true
	rec := a.record
	rec.InstallCommands = append([]string(nil), a.record.InstallCommands...)
	rec.ExecuteJSFiles = append([]string(nil), a.record.ExecuteJSFiles...)
	return rec, a.positions
}
