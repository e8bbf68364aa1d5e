package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/threatlens/internal/domain"
)

func TestSeverityFactor(t *testing.T) {
	tests := []struct {
		attack, vuln string
		want         float64
	}{
		{"Ransomware", "Weak Passwords", 1.0},
		{"Ransomware", "Zero-day", 1.2},
		{"Phishing", "Misconfiguration", 0.6},
		{"DDoS", "Social Engineering", 0.6},
		{"Man-in-the-middle", "Unpatched Software", 0.7},
		{"Alien Probe", "Unpatched Software", DefaultFactor},
		{"Alien Probe", "zero-day", DefaultFactor},
		{"ransomware", "", DefaultFactor},
	}
	for _, tt := range tests {
		t.Run(tt.attack+"/"+tt.vuln, func(t *testing.T) {
			assert.InDelta(t, tt.want, SeverityFactor(tt.attack, tt.vuln), 1e-12)
		})
	}
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1}, MinMax([]float64{10, 20, 30}))
	assert.Equal(t, []float64{0, 0, 0}, MinMax([]float64{7, 7, 7}), "constant column")
	assert.Empty(t, MinMax(nil))

	for _, v := range MinMax([]float64{-3, 14, 2.5, 9, 0}) {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestScore(t *testing.T) {
	rows := []domain.Incident{
		{AttackType: "Ransomware", VulnerabilityType: "Zero-day", FinancialLoss: 100, AffectedUsers: 1000, ResolutionHours: 72},
		{AttackType: "Phishing", VulnerabilityType: "Weak Passwords", FinancialLoss: 0, AffectedUsers: 0, ResolutionHours: 1},
		{AttackType: "DDoS", VulnerabilityType: "Misconfiguration", FinancialLoss: 50, AffectedUsers: 500, ResolutionHours: 36.5},
	}

	scored := Score(rows)
	require.Len(t, scored, 3)

	assert.Equal(t, rows[0], scored[0].Incident)
	assert.InDelta(t, 0.4+0.3+0.2+0.12, scored[0].RiskScore, 1e-12)
	assert.InDelta(t, 0.04, scored[1].RiskScore, 1e-12)
	assert.InDelta(t, 0.5, scored[2].FinancialLossNorm, 1e-12)
	assert.InDelta(t, 0.5, scored[2].ResolutionHoursNorm, 1e-12)
	assert.InDelta(t, 0.4*0.5+0.3*0.5+0.2*0.5+0.1*0.8, scored[2].RiskScore, 1e-12)

	for _, s := range scored {
		for _, v := range []float64{s.FinancialLossNorm, s.AffectedUsersNorm, s.ResolutionHoursNorm} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestScoreConstantColumn(t *testing.T) {
	rows := []domain.Incident{
		{AttackType: "Malware", FinancialLoss: 5, AffectedUsers: 10, ResolutionHours: 3},
		{AttackType: "Malware", FinancialLoss: 5, AffectedUsers: 20, ResolutionHours: 3},
	}
	scored := Score(rows)
	for _, s := range scored {
		assert.Zero(t, s.FinancialLossNorm)
		assert.Zero(t, s.ResolutionHoursNorm)
	}
	assert.InDelta(t, 0.3+0.06, scored[1].RiskScore, 1e-12)
}
