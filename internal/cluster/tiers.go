package cluster

import (
	"fmt"
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/threatlens/internal/domain"
)

// Features returns the clustering vector of a scored incident.
func Features(s *domain.ScoredIncident) []float64 {
	return []float64{
		s.RiskScore,
		s.FinancialLossNorm,
		s.AffectedUsersNorm,
		s.ResolutionHoursNorm,
	}
}

// TierOrder maps cluster index to tier by ranking clusters on the mean of
// their center coordinates. Ties keep cluster index order.
func TierOrder(centers [][]float64) []domain.SeverityTier {
	order := make([]int, len(centers))
	means := make([]float64, len(centers))
	for c := range centers {
		order[c] = c
		means[c] = stat.Mean(centers[c], nil)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return means[order[i]] < means[order[j]]
	})

	tiers := make([]domain.SeverityTier, len(centers))
	for rank, c := range order {
		tiers[c] = domain.Tiers[min(rank, len(domain.Tiers)-1)]
	}
	return tiers
}

// AssignTiers clusters scored rows into four tiers ordered Low to Critical.
func AssignTiers(scored []domain.ScoredIncident) ([]domain.ProcessedIncident, error) {
	return DefaultKMeans().AssignTiers(scored)
}

// AssignTiers clusters with the receiver's settings. K must not exceed the
// number of tiers.
func (km KMeans) AssignTiers(scored []domain.ScoredIncident) ([]domain.ProcessedIncident, error) {
	if km.K > len(domain.Tiers) {
		return nil, fmt.Errorf("k=%d exceeds the %d severity tiers", km.K, len(domain.Tiers))
	}

	points := make([][]float64, len(scored))
	for i := range scored {
		points[i] = Features(&scored[i])
	}

	res, err := km.Fit(points)
	if err != nil {
		return nil, fmt.Errorf("cluster incidents: %w", err)
	}
	tiers := TierOrder(res.Centers)

	out := make([]domain.ProcessedIncident, len(scored))
	for i := range scored {
		out[i] = domain.ProcessedIncident{
			ScoredIncident: scored[i],
			Cluster:        res.Labels[i],
			Tier:           tiers[res.Labels[i]],
		}
	}

	means := TierRiskMeans(out)
	if !Monotonic(means) {
		slog.Warn("tier order disagrees with mean risk score", "tier_risk", means)
	}
	slog.Debug("incidents clustered",
		"rows", len(out),
		"iterations", res.Iterations,
		"inertia", res.Inertia,
	)
	return out, nil
}

// TierRiskMeans returns the mean risk score of each populated tier.
func TierRiskMeans(rows []domain.ProcessedIncident) map[domain.SeverityTier]float64 {
	sums := make(map[domain.SeverityTier]float64)
	counts := make(map[domain.SeverityTier]int)
	for i := range rows {
		sums[rows[i].Tier] += rows[i].RiskScore
		counts[rows[i].Tier]++
	}
	means := make(map[domain.SeverityTier]float64, len(sums))
	for tier, sum := range sums {
		means[tier] = sum / float64(counts[tier])
	}
	return means
}

// Monotonic reports whether mean risk never decreases from Low to Critical
// across the populated tiers.
func Monotonic(means map[domain.SeverityTier]float64) bool {
	prev, seen := 0.0, false
	for _, tier := range domain.Tiers {
		m, ok := means[tier]
		if !ok {
			continue
		}
		if seen && m < prev {
			return false
		}
		prev, seen = m, true
	}
	return true
}
