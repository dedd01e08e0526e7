package core

// History holds the most recently dispatched command line. The zero value is
// an empty history.
type History struct {
	last  string
	valid bool
}

// Record overwrites the stored line.
func (h *History) Record(line string) {
	h.last = line
	h.valid = true
}

// Last returns the stored line or ErrNoHistory.
func (h *History) Last() (string, error) {
	if !h.valid {
		return "", ErrNoHistory
	}
	return h.last, nil
}
