package evaluation

import "github.com/Strob0t/ChangeGuard/internal/domain/snapshot"

// Freshness is the staleness verdict for a completed computation.
type Freshness int

const (
	Fresh Freshness = iota
	Stale
)

func (f Freshness) String() string {
	if f == Stale {
		return "stale"
	}
	return "fresh"
}

// CheckFreshness compares the key fields a run was computed against with the
// live values fetched right before publishing.
func CheckFreshness(evaluated, current snapshot.KeyFields) Freshness {
	if evaluated.HeadSHA != current.HeadSHA || evaluated.BodyHash != current.BodyHash {
		return Stale
	}
	return Fresh
}
