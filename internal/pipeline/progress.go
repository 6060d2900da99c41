package pipeline

// Progress is an explicit skip-list of places already handled. It is
// passed in rather than kept as ambient state so re-entrant or future
// parallel batch runs stay safe.
type Progress struct {
	done map[string]bool
}

// NewProgress creates a Progress pre-seeded with already-done place ids.
func NewProgress(ids ...string) *Progress {
	p := &Progress{done: make(map[string]bool, len(ids))}
	for _, id := range ids {
		p.done[id] = true
	}
	return p
}

// Done reports whether a place is already handled.
func (p *Progress) Done(id string) bool {
	if p == nil {
		return false
	}
	return p.done[id]
}

// Mark records a place as handled.
func (p *Progress) Mark(id string) {
	if p != nil {
		p.done[id] = true
	}
}

// Len returns the number of handled places.
func (p *Progress) Len() int {
	if p == nil {
		return 0
	}
	return len(p.done)
}
