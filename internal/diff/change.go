// Package diff implements the deterministic comparison between two probe
// envelopes: section-by-section Change records plus a rule-table-driven
// Classifier producing severity-ranked, deduplicated Findings.
package diff

// Change records a field that was compared between the left and right
// sides of a comparison. Unchanged builds {left:v, right:v, changed:false};
// ChangeOf builds {left:l, right:r, changed: l != r}. Both constructors
// exist so callers never have to set Changed by hand and risk it drifting
// from whether Left actually differs from Right.
type Change[T comparable] struct {
	Left    T    `json:"left"`
	Right   T    `json:"right"`
	Changed bool `json:"changed"`
}

// Unchanged builds a Change where both sides carry the same value.
func Unchanged[T comparable](v T) Change[T] {
	return Change[T]{Left: v, Right: v, Changed: false}
}

// ChangeOf builds a Change by comparing l and r directly.
func ChangeOf[T comparable](l, r T) Change[T] {
	return Change[T]{Left: l, Right: r, Changed: l != r}
}
