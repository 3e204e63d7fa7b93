// Package envelope implements the monotone-tightening guard on (G, D)
// operating bounds.
//
// G is a "good" floor that must only grow; D is a "damage" ceiling that
// must only shrink. A proposal that loosens either bound — lets G fall or
// D rise — is rejected by the orchestrator right after the RoH ceiling
// and RoH monotone guards, before the viability and later guards run.
package envelope

import "github.com/hexen-unified/sovereigntycore/internal/roh"

// Bounds holds the before/after pair for both the G floor and the D
// ceiling. It carries no internal state; IsMonotone is a pure predicate.
type Bounds struct {
	GOld float32 `json:"g_old"`
	GNew float32 `json:"g_new"`
	DOld float32 `json:"d_old"`
	DNew float32 `json:"d_new"`
}

// IsMonotone reports whether this tightens or holds: g_new >= g_old - eps
// and d_new <= d_old + eps.
func (b Bounds) IsMonotone() bool {
	return b.GNew+roh.Epsilon >= b.GOld && b.DNew <= b.DOld+roh.Epsilon
}
