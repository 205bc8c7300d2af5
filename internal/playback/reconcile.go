package playback

import "math"

const (
	DefaultFollowThreshold  = 1.5
	DefaultPublishThreshold = 1.0
)

// Reconciler bounds how far local positions drift from the shared one.
type Reconciler struct {
	// Follow is the divergence above which a participant jumps to the shared position.
	Follow float64
	// Publish is the drift above which the host writes its position.
	Publish float64
}

func DefaultReconciler() Reconciler {
	return Reconciler{Follow: DefaultFollowThreshold, Publish: DefaultPublishThreshold}
}

// Correct returns the position the local player should take and whether it changed.
// A participant that is seeking is never corrected.
func (r Reconciler) Correct(local, authoritative float64, seeking bool) (float64, bool) {
	if seeking || math.Abs(local-authoritative) <= r.Follow {
		return local, false
	}
	return authoritative, true
}

// ShouldPublish reports whether the host position moved far enough from the last written value.
func (r Reconciler) ShouldPublish(local, published float64) bool {
	return math.Abs(local-published) > r.Publish
}
