package classify

// Tier is the urgency classification of a call. Smaller values are more
// severe: P1 is a life-safety or flooding emergency, P4 a standard request.
type Tier int

const (
	// TierNone means the session has not been classified yet.
	TierNone Tier = 0

	TierP1 Tier = 1
	TierP2 Tier = 2
	TierP3 Tier = 3
	TierP4 Tier = 4
)

// String returns the wire/display form of the tier ("P1".."P4", or "" for none).
func (t Tier) String() string {
	switch t {
	case TierP1:
		return "P1"
	case TierP2:
		return "P2"
	case TierP3:
		return "P3"
	case TierP4:
		return "P4"
	default:
		return ""
	}
}

// Valid reports whether t is one of the four classified tiers.
func (t Tier) Valid() bool {
	return t >= TierP1 && t <= TierP4
}

// MoreSevere reports whether t is strictly more urgent than other.
// TierNone is less severe than any classified tier.
func (t Tier) MoreSevere(other Tier) bool {
	if !t.Valid() {
		return false
	}
	if !other.Valid() {
		return true
	}
	return t < other
}

// ParseTier converts a stored string back into a Tier. Unrecognized values
// map to TierNone.
func ParseTier(s string) Tier {
	switch s {
	case "P1":
		return TierP1
	case "P2":
		return TierP2
	case "P3":
		return TierP3
	case "P4":
		return TierP4
	default:
		return TierNone
	}
}
