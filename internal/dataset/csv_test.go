package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/threatlens/internal/domain"
)

const rawCSV = `Country,Year,Attack Type,Target Industry,Financial Loss (in Million $),Number of Affected Users,Attack Source,Security Vulnerability Type,Defense Mechanism Used,Incident Resolution Time (in Hours)
China,2019,Phishing,Education,80.53,773169,Hacker Group,Unpatched Software,VPN,63
India,2017,Ransomware,Retail,NA,295961,Nation-state,,Firewall,71
UK,2024,DDoS,Banking,12.5,,Insider,Zero-day,AI-based Detection,N/A
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadRaw(t *testing.T) {
	rows, err := ReadRaw(writeFile(t, "raw.csv", rawCSV))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "China", rows[0].Country)
	assert.Equal(t, domain.Num(80.53), rows[0].FinancialLoss)
	assert.Equal(t, domain.Num(773169), rows[0].AffectedUsers)

	assert.False(t, rows[1].FinancialLoss.Valid, "NA is missing")
	assert.Empty(t, rows[1].VulnerabilityType, "empty categorical is missing")

	assert.False(t, rows[2].AffectedUsers.Valid)
	assert.False(t, rows[2].ResolutionHours.Valid, "N/A is missing")
}

func TestReadRawErrors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := ReadRaw(filepath.Join(t.TempDir(), "nope.csv"))
		assert.ErrorIs(t, err, domain.ErrDatasetNotFound)
	})

	t.Run("MissingColumn", func(t *testing.T) {
		_, err := ReadRaw(writeFile(t, "bad.csv", "Country,Year\nIndia,2020\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Attack Type")
	})

	t.Run("BadNumber", func(t *testing.T) {
		body := strings.Replace(rawCSV, "80.53", "lots", 1)
		_, err := ReadRaw(writeFile(t, "bad.csv", body))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})
}

func TestProcessedRoundTrip(t *testing.T) {
	rows := []domain.ProcessedIncident{{
		ScoredIncident: domain.ScoredIncident{
			Incident: domain.Incident{
				Country: "India", Year: 2024, AttackType: "Phishing", TargetIndustry: "Finance",
				FinancialLoss: 12.5, AffectedUsers: 5200, AttackSource: "Unknown",
				VulnerabilityType: "Weak Credentials", DefenseMechanism: "Firewall", ResolutionHours: 48,
			},
			AttackSeverityFactor: 0.4,
			FinancialLossNorm:    0.125,
			AffectedUsersNorm:    0.5,
			ResolutionHoursNorm:  1,
			RiskScore:            0.39,
		},
		Cluster: 2,
		Tier:    domain.TierHigh,
	}}

	path := filepath.Join(t.TempDir(), "data", "processed_data.csv")
	require.NoError(t, WriteProcessed(path, rows))

	header, records, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessedColumns, header)
	require.Len(t, records, 1)

	got, err := ReadProcessed(path)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestDecodeRaw(t *testing.T) {
	rows, err := DecodeRaw(strings.NewReader(rawCSV))
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
