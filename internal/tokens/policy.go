package tokens

// Decision is the outcome of checking one item against a context budget
type Decision int

const (
	// Accept admits the item silently
	Accept Decision = iota
	// Warn admits the item and the client should be told how full the context is
	Warn
	// Reject refuses the item; nothing may be persisted
	Reject
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Warn:
		return "warn"
	case Reject:
		return "reject"
	}
	return "unknown"
}

// DefaultWarnRatio is the share of the context limit at which clients are warned
const DefaultWarnRatio = 0.80

// Policy decides whether an item fits a conversation's context budget
type Policy struct {
	WarnRatio float64
}

// NewPolicy returns a policy warning at ratio; out-of-range ratios use DefaultWarnRatio
func NewPolicy(ratio float64) Policy {
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultWarnRatio
	}
	return Policy{WarnRatio: ratio}
}

// Evaluate checks total+incoming against limit. It returns the decision, the
// new total, and the fill percentage floor(newTotal*100/limit).
func (p Policy) Evaluate(total, incoming, limit int) (Decision, int, int) {
	newTotal := total + incoming
	if limit <= 0 {
		return Accept, newTotal, 0
	}
	percent := newTotal * 100 / limit
	if newTotal > limit {
		return Reject, newTotal, percent
	}
	if newTotal >= p.WarnThreshold(limit) {
		return Warn, newTotal, percent
	}
	return Accept, newTotal, percent
}

// WarnThreshold is floor(limit * WarnRatio)
func (p Policy) WarnThreshold(limit int) int {
	ratio := p.WarnRatio
	if ratio <= 0 {
		ratio = DefaultWarnRatio
	}
	return int(float64(limit) * ratio)
}
