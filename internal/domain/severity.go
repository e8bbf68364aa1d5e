package domain

// SeverityTier is the 4-level ordinal tier assigned by unsupervised
// clustering of the risk features.
type SeverityTier string

const (
	TierLow      SeverityTier = "Low"
	TierMedium   SeverityTier = "Medium"
	TierHigh     SeverityTier = "High"
	TierCritical SeverityTier = "Critical"
)

// Tiers lists the tiers in ascending order.
var Tiers = []SeverityTier{TierLow, TierMedium, TierHigh, TierCritical}

// Rank returns the ordinal position of the tier, or -1 when unknown.
func (t SeverityTier) Rank() int {
	for i, v := range Tiers {
		if v == t {
			return i
		}
	}
	return -1
}

// SeverityLabel is the 3-level label derived from affected-users quantiles.
// It is the classifier ground truth and is unrelated to SeverityTier.
type SeverityLabel string

const (
	LabelLow    SeverityLabel = "Low"
	LabelMedium SeverityLabel = "Medium"
	LabelHigh   SeverityLabel = "High"
)

// Labels lists the labels in ascending order.
var Labels = []SeverityLabel{LabelLow, LabelMedium, LabelHigh}

// Rank returns the ordinal position of the label, or -1 when unknown.
func (l SeverityLabel) Rank() int {
	for i, v := range Labels {
		if v == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is one of the three labels.
func (l SeverityLabel) Valid() bool {
	return l.Rank() >= 0
}
