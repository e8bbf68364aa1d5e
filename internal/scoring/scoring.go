// Package scoring derives the composite risk score of cleaned incidents.
package scoring

import (
	"strings"

	"github.com/opensource-finance/threatlens/internal/domain"
)

// DefaultFactor applies to attack types absent from the factor table.
const DefaultFactor = 0.3

// VulnerabilityBoost is added when the vulnerability type suggests a
// zero-day or a misconfiguration.
const VulnerabilityBoost = 0.2

var baseFactors = map[string]float64{
	"Ransomware":         1.0,
	"Zero-day":           1.0,
	"Data Breach":        0.8,
	"SQL Injection":      0.7,
	"Man-in-the-middle":  0.7,
	"Malware":            0.6,
	"DDoS":               0.6,
	"Brute Force":        0.5,
	"Phishing":           0.4,
	"Social Engineering": 0.4,
}

// BaseFactors returns a copy of the attack type factor table.
func BaseFactors() map[string]float64 {
	out := make(map[string]float64, len(baseFactors))
	for k, v := range baseFactors {
		out[k] = v
	}
	return out
}

// SeverityFactor scores an attack from domain knowledge. Matching is exact
// and case-sensitive; the result is not clamped and can reach 1.2.
func SeverityFactor(attackType, vulnType string) float64 {
	base, ok := baseFactors[attackType]
	if !ok {
		base = DefaultFactor
	}
	if strings.Contains(vulnType, "Zero") || strings.Contains(vulnType, "Misconfig") {
		base += VulnerabilityBoost
	}
	return base
}

// Weights are the risk score coefficients.
type Weights struct {
	FinancialLoss   float64 `json:"financialLoss"`
	AffectedUsers   float64 `json:"affectedUsers"`
	ResolutionHours float64 `json:"resolutionHours"`
	SeverityFactor  float64 `json:"severityFactor"`
}

// DefaultWeights are the production risk score coefficients.
var DefaultWeights = Weights{
	FinancialLoss:   0.4,
	AffectedUsers:   0.3,
	ResolutionHours: 0.2,
	SeverityFactor:  0.1,
}

// Risk combines normalized magnitudes and the severity factor.
func (w Weights) Risk(lossNorm, usersNorm, hoursNorm, factor float64) float64 {
	return w.FinancialLoss*lossNorm +
		w.AffectedUsers*usersNorm +
		w.ResolutionHours*hoursNorm +
		w.SeverityFactor*factor
}

// MinMax rescales values to [0,1]. A constant column maps to 0.
func MinMax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / span
	}
	return out
}

// Score derives the severity factor, normalized magnitudes and risk score of
// every row, with min and max taken over the whole batch.
func Score(rows []domain.Incident) []domain.ScoredIncident {
	return DefaultWeights.Score(rows)
}

// Score is the package Score with custom weights.
func (w Weights) Score(rows []domain.Incident) []domain.ScoredIncident {
	loss := make([]float64, len(rows))
	users := make([]float64, len(rows))
	hours := make([]float64, len(rows))
	for i := range rows {
		loss[i] = rows[i].FinancialLoss
		users[i] = rows[i].AffectedUsers
		hours[i] = rows[i].ResolutionHours
	}
	loss, users, hours = MinMax(loss), MinMax(users), MinMax(hours)

	out := make([]domain.ScoredIncident, len(rows))
	for i := range rows {
		factor := SeverityFactor(rows[i].AttackType, rows[i].VulnerabilityType)
		out[i] = domain.ScoredIncident{
			Incident:             rows[i],
			AttackSeverityFactor: factor,
			FinancialLossNorm:    loss[i],
			AffectedUsersNorm:    users[i],
			ResolutionHoursNorm:  hours[i],
			RiskScore:            w.Risk(loss[i], users[i], hours[i], factor),
		}
	}
	return out
}
