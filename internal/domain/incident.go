package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Raw dataset column names. They are kept verbatim so the processed CSV and the
// model metadata stay readable by the dashboard tooling built on them.
const (
	ColCountry           = "Country"
	ColYear              = "Year"
	ColAttackType        = "Attack Type"
	ColTargetIndustry    = "Target Industry"
	ColFinancialLoss     = "Financial Loss (in Million $)"
	ColAffectedUsers     = "Number of Affected Users"
	ColAttackSource      = "Attack Source"
	ColVulnerabilityType = "Security Vulnerability Type"
	ColDefenseMechanism  = "Defense Mechanism Used"
	ColResolutionHours   = "Incident Resolution Time (in Hours)"
)

// Derived column names appended by scoring and clustering.
const (
	ColSeverityFactor      = "attack_severity_factor"
	ColFinancialLossNorm   = ColFinancialLoss + "_norm"
	ColAffectedUsersNorm   = ColAffectedUsers + "_norm"
	ColResolutionHoursNorm = ColResolutionHours + "_norm"
	ColRiskScore           = "risk_score"
	ColSeverityCluster     = "severity_cluster"
	ColSeverity            = "Severity"
	ColPredictedSeverity   = "Predicted Severity"
)

// UnknownCategory replaces missing categorical values.
const UnknownCategory = "Unknown"

// RawColumns is the raw dataset header in file order.
var RawColumns = []string{
	ColCountry,
	ColYear,
	ColAttackType,
	ColTargetIndustry,
	ColFinancialLoss,
	ColAffectedUsers,
	ColAttackSource,
	ColVulnerabilityType,
	ColDefenseMechanism,
	ColResolutionHours,
}

// CategoricalColumns lists the raw categorical columns.
var CategoricalColumns = []string{
	ColCountry,
	ColAttackType,
	ColTargetIndustry,
	ColAttackSource,
	ColVulnerabilityType,
	ColDefenseMechanism,
}

// NumericColumns lists the raw numeric columns.
var NumericColumns = []string{
	ColYear,
	ColFinancialLoss,
	ColAffectedUsers,
	ColResolutionHours,
}

// ProcessedColumns is the processed dataset header: raw columns followed by
// the derived ones.
var ProcessedColumns = append(append([]string{}, RawColumns...),
	ColSeverityFactor,
	ColFinancialLossNorm,
	ColAffectedUsersNorm,
	ColResolutionHoursNorm,
	ColRiskScore,
	ColSeverityCluster,
	ColSeverity,
)

// Number is a numeric cell that may be missing.
type Number struct {
	Value float64
	Valid bool
}

// Num returns a valid Number.
func Num(v float64) Number {
	return Number{Value: v, Valid: true}
}

// String formats the number the way it is written to CSV; missing is empty.
func (n Number) String() string {
	if !n.Valid {
		return ""
	}
	return FormatFloat(n.Value)
}

// MarshalJSON writes a missing number as null.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// UnmarshalJSON accepts a JSON number, a numeric string or null.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if IsMissing(s) {
			*n = Number{}
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = Num(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = Num(v)
	return nil
}

// FormatFloat renders a float with the shortest round-trip representation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var missingTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "NaN": {}, "nan": {}, "null": {},
	"NULL": {}, "None": {}, "<NA>": {}, "#N/A": {},
}

// IsMissing reports whether a cell is one of the tokens read as missing.
func IsMissing(cell string) bool {
	_, ok := missingTokens[cell]
	return ok
}

// RawIncident is one row of the raw dataset before cleaning.
// Empty categorical strings are missing values.
type RawIncident struct {
	Country           string `json:"Country"`
	Year              Number `json:"Year"`
	AttackType        string `json:"Attack Type"`
	TargetIndustry    string `json:"Target Industry"`
	FinancialLoss     Number `json:"Financial Loss (in Million $)"`
	AffectedUsers     Number `json:"Number of Affected Users"`
	AttackSource      string `json:"Attack Source"`
	VulnerabilityType string `json:"Security Vulnerability Type"`
	DefenseMechanism  string `json:"Defense Mechanism Used"`
	ResolutionHours   Number `json:"Incident Resolution Time (in Hours)"`
}

// Categorical returns the value of a categorical column.
func (r *RawIncident) Categorical(col string) (string, bool) {
	switch col {
	case ColCountry:
		return r.Country, true
	case ColAttackType:
		return r.AttackType, true
	case ColTargetIndustry:
		return r.TargetIndustry, true
	case ColAttackSource:
		return r.AttackSource, true
	case ColVulnerabilityType:
		return r.VulnerabilityType, true
	case ColDefenseMechanism:
		return r.DefenseMechanism, true
	}
	return "", false
}

// Numeric returns the value of a numeric column.
func (r *RawIncident) Numeric(col string) (Number, bool) {
	switch col {
	case ColYear:
		return r.Year, true
	case ColFinancialLoss:
		return r.FinancialLoss, true
	case ColAffectedUsers:
		return r.AffectedUsers, true
	case ColResolutionHours:
		return r.ResolutionHours, true
	}
	return Number{}, false
}

// Record returns the row as column -> cell text, in RawColumns order.
func (r *RawIncident) Record() []string {
	return []string{
		r.Country,
		r.Year.String(),
		r.AttackType,
		r.TargetIndustry,
		r.FinancialLoss.String(),
		r.AffectedUsers.String(),
		r.AttackSource,
		r.VulnerabilityType,
		r.DefenseMechanism,
		r.ResolutionHours.String(),
	}
}

// Incident is a cleaned row: no missing values remain.
type Incident struct {
	Country           string  `json:"country"`
	Year              float64 `json:"year"`
	AttackType        string  `json:"attackType"`
	TargetIndustry    string  `json:"targetIndustry"`
	FinancialLoss     float64 `json:"financialLoss"`
	AffectedUsers     float64 `json:"affectedUsers"`
	AttackSource      string  `json:"attackSource"`
	VulnerabilityType string  `json:"vulnerabilityType"`
	DefenseMechanism  string  `json:"defenseMechanism"`
	ResolutionHours   float64 `json:"resolutionHours"`
}

// Raw converts the cleaned row back into a RawIncident with every cell valid.
func (i *Incident) Raw() RawIncident {
	return RawIncident{
		Country:           i.Country,
		Year:              Num(i.Year),
		AttackType:        i.AttackType,
		TargetIndustry:    i.TargetIndustry,
		FinancialLoss:     Num(i.FinancialLoss),
		AffectedUsers:     Num(i.AffectedUsers),
		AttackSource:      i.AttackSource,
		VulnerabilityType: i.VulnerabilityType,
		DefenseMechanism:  i.DefenseMechanism,
		ResolutionHours:   Num(i.ResolutionHours),
	}
}

// ScoredIncident carries the derived risk fields next to the cleaned row.
type ScoredIncident struct {
	Incident
	AttackSeverityFactor float64 `json:"attackSeverityFactor"`
	FinancialLossNorm    float64 `json:"financialLossNorm"`
	AffectedUsersNorm    float64 `json:"affectedUsersNorm"`
	ResolutionHoursNorm  float64 `json:"resolutionHoursNorm"`
	RiskScore            float64 `json:"riskScore"`
}

// ProcessedIncident is a row of the canonical processed dataset.
type ProcessedIncident struct {
	ScoredIncident
	Cluster int          `json:"severityCluster"`
	Tier    SeverityTier `json:"severity"`
}

// Record renders the row in ProcessedColumns order.
func (p *ProcessedIncident) Record() []string {
	raw := p.Raw()
	return append(raw.Record(),
		FormatFloat(p.AttackSeverityFactor),
		FormatFloat(p.FinancialLossNorm),
		FormatFloat(p.AffectedUsersNorm),
		FormatFloat(p.ResolutionHoursNorm),
		FormatFloat(p.RiskScore),
		strconv.Itoa(p.Cluster),
		string(p.Tier),
	)
}
