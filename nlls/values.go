package nlls

import (
	"fmt"
	"sort"
)

// Variable is one unknown living on a manifold. Retract applies a tangent-space
// increment of length Dim and returns the moved variable; implementations must
// not mutate the receiver.
type Variable interface {
	Dim() int
	Retract(delta []float64) Variable
}

// Values maps keys to variable estimates. Variables behave as immutable values,
// so a Copy shares them safely.
type Values struct {
	vars map[Key]Variable
}

// NewValues returns an empty assignment.
func NewValues() *Values {
	return &Values{vars: make(map[Key]Variable)}
}

// Insert sets the variable stored under k, replacing any previous one.
func (v *Values) Insert(k Key, x Variable) {
	v.vars[k] = x
}

// At returns the variable stored under k and panics if it is missing;
// referencing an unknown key is a programming error, not a runtime condition.
func (v *Values) At(k Key) Variable {
	x, ok := v.vars[k]
	if !ok {
		panic(fmt.Sprintf("nlls: no variable under key %v", k))
	}
	return x
}

// Has reports whether a variable is stored under k.
func (v *Values) Has(k Key) bool {
	_, ok := v.vars[k]
	return ok
}

// Erase removes the variable stored under k, if any.
func (v *Values) Erase(k Key) {
	delete(v.vars, k)
}

// Len returns the number of variables.
func (v *Values) Len() int {
	return len(v.vars)
}

// Keys returns all keys in deterministic (symbol, index) order.
func (v *Values) Keys() []Key {
	keys := make([]Key, 0, len(v.vars))
	for k := range v.vars {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Copy returns an independent assignment holding the same variables.
func (v *Values) Copy() *Values {
	out := &Values{vars: make(map[Key]Variable, len(v.vars))}
	for k, x := range v.vars {
		out.vars[k] = x
	}
	return out
}
