package summary

import (
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/threatlens/internal/domain"
)

// KPIs are the headline tiles of the dashboard.
type KPIs struct {
	TotalIncidents     int                         `json:"totalIncidents"`
	Countries          int                         `json:"countries"`
	Industries         int                         `json:"industries"`
	TotalFinancialLoss float64                     `json:"totalFinancialLoss"`
	AvgRiskScore       float64                     `json:"avgRiskScore"`
	TierCounts         map[domain.SeverityTier]int `json:"tierCounts"`
}

// ComputeKPIs summarises rows. Every tier is present in TierCounts.
func ComputeKPIs(rows []domain.ProcessedIncident) KPIs {
	k := KPIs{
		TotalIncidents: len(rows),
		TierCounts:     make(map[domain.SeverityTier]int, len(domain.Tiers)),
	}
	for _, tier := range domain.Tiers {
		k.TierCounts[tier] = 0
	}

	countries := make(map[string]struct{})
	industries := make(map[string]struct{})
	risk := make([]float64, len(rows))
	for i := range rows {
		r := &rows[i]
		countries[r.Country] = struct{}{}
		industries[r.TargetIndustry] = struct{}{}
		k.TotalFinancialLoss += r.FinancialLoss
		k.TierCounts[r.Tier]++
		risk[i] = r.RiskScore
	}
	k.Countries = len(countries)
	k.Industries = len(industries)
	if len(rows) > 0 {
		k.AvgRiskScore = stat.Mean(risk, nil)
	}
	return k
}
