package dataset

import (
	"slices"
	"strings"

	"github.com/opensource-finance/threatlens/internal/domain"
)

// Stats describes what cleaning changed.
type Stats struct {
	Input      int                `json:"input"`
	Duplicates int                `json:"duplicates"`
	Output     int                `json:"output"`
	Imputed    map[string]int     `json:"imputed"`
	Medians    map[string]float64 `json:"medians"`
}

// Clean drops duplicate rows, fills numeric gaps with the column median and
// categorical gaps with "Unknown". Cleaning already-clean data is a no-op.
func Clean(raw []domain.RawIncident) []domain.Incident {
	rows, _ := CleanWithStats(raw)
	return rows
}

// CleanWithStats is Clean plus a summary of the changes made.
func CleanWithStats(raw []domain.RawIncident) ([]domain.Incident, Stats) {
	stats := Stats{
		Input:   len(raw),
		Imputed: make(map[string]int),
	}

	unique := dedupe(raw, func(r *domain.RawIncident) string { return rowKey(r.Record()) })
	stats.Medians = Medians(unique)

	cleaned := make([]domain.Incident, len(unique))
	for i := range unique {
		cleaned[i] = impute(&unique[i], stats.Medians, stats.Imputed)
	}

	// Imputation can make previously distinct rows equal.
	cleaned = dedupe(cleaned, func(inc *domain.Incident) string {
		raw := inc.Raw()
		return rowKey(raw.Record())
	})

	stats.Output = len(cleaned)
	stats.Duplicates = stats.Input - stats.Output
	return cleaned, stats
}

func rowKey(cells []string) string {
	return strings.Join(cells, "\x1f")
}

// dedupe keeps the first occurrence of each key, preserving order.
func dedupe[T any](rows []T, key func(*T) string) []T {
	seen := make(map[string]struct{}, len(rows))
	out := make([]T, 0, len(rows))
	for i := range rows {
		k := key(&rows[i])
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, rows[i])
	}
	return out
}

// Medians returns the median of every numeric column over its valid cells.
// A column without valid cells has median 0.
func Medians(rows []domain.RawIncident) map[string]float64 {
	medians := make(map[string]float64, len(domain.NumericColumns))
	for _, col := range domain.NumericColumns {
		values := make([]float64, 0, len(rows))
		for i := range rows {
			if n, _ := rows[i].Numeric(col); n.Valid {
				values = append(values, n.Value)
			}
		}
		medians[col] = Median(values)
	}
	return medians
}

// Median returns the middle value, or the mean of the two middle values for
// an even count. Empty input yields 0.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func impute(r *domain.RawIncident, medians map[string]float64, imputed map[string]int) domain.Incident {
	cat := func(col, v string) string {
		if v == "" {
			imputed[col]++
			return domain.UnknownCategory
		}
		return v
	}
	num := func(col string, n domain.Number) float64 {
		if !n.Valid {
			imputed[col]++
			return medians[col]
		}
		return n.Value
	}

	return domain.Incident{
		Country:           cat(domain.ColCountry, r.Country),
		Year:              num(domain.ColYear, r.Year),
		AttackType:        cat(domain.ColAttackType, r.AttackType),
		TargetIndustry:    cat(domain.ColTargetIndustry, r.TargetIndustry),
		FinancialLoss:     num(domain.ColFinancialLoss, r.FinancialLoss),
		AffectedUsers:     num(domain.ColAffectedUsers, r.AffectedUsers),
		AttackSource:      cat(domain.ColAttackSource, r.AttackSource),
		VulnerabilityType: cat(domain.ColVulnerabilityType, r.VulnerabilityType),
		DefenseMechanism:  cat(domain.ColDefenseMechanism, r.DefenseMechanism),
		ResolutionHours:   num(domain.ColResolutionHours, r.ResolutionHours),
	}
}

// ToRaw converts cleaned rows back to raw rows, e.g. to re-clean them.
func ToRaw(rows []domain.Incident) []domain.RawIncident {
	out := make([]domain.RawIncident, len(rows))
	for i := range rows {
		out[i] = rows[i].Raw()
	}
	return out
}
