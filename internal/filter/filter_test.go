package filter

import (
	"context"
	"fmt"
	"testing"

	"github.com/opensource-finance/threatlens/internal/domain"
)

func incident(country string, year float64, attack string, risk float64, tier domain.SeverityTier) domain.ProcessedIncident {
	return domain.ProcessedIncident{
		ScoredIncident: domain.ScoredIncident{
			Incident: domain.Incident{
				Country:       country,
				Year:          year,
				AttackType:    attack,
				FinancialLoss: 12.5,
				AffectedUsers: 1000,
			},
			RiskScore: risk,
		},
		Tier: tier,
	}
}

func TestCompile(t *testing.T) {
	engine, err := NewEngine(2)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	t.Run("Empty", func(t *testing.T) {
		f, err := engine.Compile("   ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f != nil {
			t.Error("expected nil filter for empty expression")
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		if _, err := engine.Compile("this is not valid CEL !!!"); err == nil {
			t.Error("expected error for invalid CEL expression")
		}
	})

	t.Run("NonBool", func(t *testing.T) {
		if _, err := engine.Compile("risk_score * 2.0"); err == nil {
			t.Error("expected error for non-bool expression")
		}
	})

	t.Run("UnknownVariable", func(t *testing.T) {
		if _, err := engine.Compile("amount > 100.0"); err == nil {
			t.Error("expected error for undeclared variable")
		}
	})

	t.Run("Cached", func(t *testing.T) {
		a, err := engine.Compile(`country == "India"`)
		if err != nil {
			t.Fatalf("compile failed: %v", err)
		}
		b, _ := engine.Compile(`country == "India"`)
		if a != b {
			t.Error("expected the compiled filter to be reused")
		}
	})
}

func TestMatch(t *testing.T) {
	engine, _ := NewEngine(2)
	row := incident("India", 2022, "Phishing", 0.42, domain.TierHigh)

	tests := []struct {
		expr string
		want bool
	}{
		{`country == "India"`, true},
		{`year >= 2020 && attack_type in ["Phishing", "Ransomware"]`, true},
		{`year == 2022`, true},
		{`year < 2020`, false},
		{`year < 2020.0`, false},
		{`financial_loss > 10 && affected_users >= 0`, true},
		{`tier == "High"`, true},
		{`tier_rank >= 2`, true},
		{`risk_score > 0.5`, false},
		{`incident["Attack Type"] == "Phishing"`, true},
		{`incident["Financial Loss (in Million $)"] == 12.5`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := engine.Compile(tt.expr)
			if err != nil {
				t.Fatalf("compile failed: %v", err)
			}
			got, err := f.Match(&row)
			if err != nil {
				t.Fatalf("match failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestApply(t *testing.T) {
	engine, _ := NewEngine(3)
	ctx := context.Background()

	rows := make([]domain.ProcessedIncident, 0, 3000)
	for i := 0; i < 3000; i++ {
		rows = append(rows, incident(fmt.Sprintf("C%d", i%3), float64(2015+i%10), "DDoS", 0, domain.TierLow))
	}

	t.Run("PreservesOrder", func(t *testing.T) {
		out, err := engine.Apply(ctx, `country == "C1"`, rows)
		if err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if len(out) != 1000 {
			t.Fatalf("expected 1000 rows, got %d", len(out))
		}
		for i := 1; i < len(out); i++ {
			if out[i].Year == out[i-1].Year {
				t.Fatalf("rows out of order at %d", i)
			}
		}
	})

	t.Run("EmptyMatchesAll", func(t *testing.T) {
		out, err := engine.Apply(ctx, "", rows)
		if err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if len(out) != len(rows) {
			t.Errorf("expected %d rows, got %d", len(rows), len(out))
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := engine.Apply(cctx, `year > 2016.0`, rows); err == nil {
			t.Error("expected error for cancelled context")
		}
	})
}
