package nlls

import "fmt"

// Key identifies one unknown in a Graph. Sym groups unknowns by role (for
// example 'x' for states, 'c' for calibration) and Index distinguishes
// unknowns within a group.
type Key struct {
	Sym   byte
	Index int
}

// NewKey builds a Key from a symbol character and an index.
func NewKey(sym byte, index int) Key {
	return Key{Sym: sym, Index: index}
}

func (k Key) String() string {
	return fmt.Sprintf("%c%d", k.Sym, k.Index)
}

// Less orders keys by symbol, then index.
func (k Key) Less(other Key) bool {
	if k.Sym != other.Sym {
		return k.Sym < other.Sym
	}
	return k.Index < other.Index
}
