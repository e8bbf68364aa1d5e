// Package dataset reads and writes the incident tables and cleans raw rows.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/threatlens/internal/artifact"
	"github.com/opensource-finance/threatlens/internal/domain"
)

// header maps column names to record positions.
type header map[string]int

func readHeader(r *csv.Reader, required []string) (header, error) {
	names, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("missing header row")
	}
	if err != nil {
		return nil, err
	}

	h := newHeader(names)
	var missing []string
	for _, col := range required {
		if _, ok := h[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return h, nil
}

func newHeader(names []string) header {
	h := make(header, len(names))
	for i, name := range names {
		// Tolerate a UTF-8 BOM on the first column.
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		h[strings.TrimSpace(name)] = i
	}
	return h
}

func (h header) cell(rec []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func openCSV(path string) (*os.File, *csv.Reader, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%s: %w", path, domain.ErrDatasetNotFound)
	}
	if err != nil {
		return nil, nil, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return f, r, nil
}

// ReadRaw loads the raw incident dataset. Missing tokens become missing cells.
func ReadRaw(path string) ([]domain.RawIncident, error) {
	f, r, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseRaw(r, path)
}

// DecodeRaw parses a raw incident table from r.
func DecodeRaw(r io.Reader) ([]domain.RawIncident, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return parseRaw(cr, "input")
}

// DecodeRawRecords parses an incident table that may omit columns. The
// original header and records are returned alongside the parsed rows so the
// table can be written back with extra columns; absent columns read as
// missing.
func DecodeRawRecords(r io.Reader) ([]string, [][]string, []domain.RawIncident, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("input: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil, fmt.Errorf("input: missing header row")
	}

	names, records := records[0], records[1:]
	h := newHeader(names)
	rows := make([]domain.RawIncident, len(records))
	for i, rec := range records {
		if rows[i], err = rawFromRecord(h, rec); err != nil {
			return nil, nil, nil, fmt.Errorf("input line %d: %w", i+2, err)
		}
	}
	return names, records, rows, nil
}

func parseRaw(r *csv.Reader, name string) ([]domain.RawIncident, error) {
	h, err := readHeader(r, domain.RawColumns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var rows []domain.RawIncident
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		row, err := rawFromRecord(h, rec)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", name, line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func rawFromRecord(h header, rec []string) (domain.RawIncident, error) {
	var row domain.RawIncident
	var err error

	cat := func(col string) string {
		v := h.cell(rec, col)
		if domain.IsMissing(v) {
			return ""
		}
		return v
	}
	num := func(col string) domain.Number {
		if err != nil {
			return domain.Number{}
		}
		var n domain.Number
		n, err = ParseNumber(h.cell(rec, col))
		if err != nil {
			err = fmt.Errorf("column %q: %w", col, err)
		}
		return n
	}

	row.Country = cat(domain.ColCountry)
	row.Year = num(domain.ColYear)
	row.AttackType = cat(domain.ColAttackType)
	row.TargetIndustry = cat(domain.ColTargetIndustry)
	row.FinancialLoss = num(domain.ColFinancialLoss)
	row.AffectedUsers = num(domain.ColAffectedUsers)
	row.AttackSource = cat(domain.ColAttackSource)
	row.VulnerabilityType = cat(domain.ColVulnerabilityType)
	row.DefenseMechanism = cat(domain.ColDefenseMechanism)
	row.ResolutionHours = num(domain.ColResolutionHours)
	return row, err
}

// ParseNumber parses a numeric cell; missing tokens yield an invalid Number.
func ParseNumber(cell string) (domain.Number, error) {
	cell = strings.TrimSpace(cell)
	if domain.IsMissing(cell) {
		return domain.Number{}, nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return domain.Number{}, fmt.Errorf("not a number: %q", cell)
	}
	return domain.Num(v), nil
}

// ReadProcessed loads the canonical processed dataset.
func ReadProcessed(path string) ([]domain.ProcessedIncident, error) {
	f, r, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := readHeader(r, domain.ProcessedColumns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var rows []domain.ProcessedIncident
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		row, err := processedFromRecord(h, rec)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func processedFromRecord(h header, rec []string) (domain.ProcessedIncident, error) {
	var p domain.ProcessedIncident

	raw, err := rawFromRecord(h, rec)
	if err != nil {
		return p, err
	}
	for _, n := range []domain.Number{raw.Year, raw.FinancialLoss, raw.AffectedUsers, raw.ResolutionHours} {
		if !n.Valid {
			return p, fmt.Errorf("processed row has a missing numeric value")
		}
	}
	p.Incident = fromRaw(raw)

	floats := []struct {
		col string
		dst *float64
	}{
		{domain.ColSeverityFactor, &p.AttackSeverityFactor},
		{domain.ColFinancialLossNorm, &p.FinancialLossNorm},
		{domain.ColAffectedUsersNorm, &p.AffectedUsersNorm},
		{domain.ColResolutionHoursNorm, &p.ResolutionHoursNorm},
		{domain.ColRiskScore, &p.RiskScore},
	}
	for _, f := range floats {
		v, err := strconv.ParseFloat(strings.TrimSpace(h.cell(rec, f.col)), 64)
		if err != nil {
			return p, fmt.Errorf("column %q: %w", f.col, err)
		}
		*f.dst = v
	}

	cluster, err := strconv.Atoi(strings.TrimSpace(h.cell(rec, domain.ColSeverityCluster)))
	if err != nil {
		return p, fmt.Errorf("column %q: %w", domain.ColSeverityCluster, err)
	}
	p.Cluster = cluster

	p.Tier = domain.SeverityTier(h.cell(rec, domain.ColSeverity))
	if p.Tier.Rank() < 0 {
		return p, fmt.Errorf("column %q: unknown tier %q", domain.ColSeverity, p.Tier)
	}
	return p, nil
}

// fromRaw copies a fully valid raw row into an Incident.
func fromRaw(r domain.RawIncident) domain.Incident {
	return domain.Incident{
		Country:           r.Country,
		Year:              r.Year.Value,
		AttackType:        r.AttackType,
		TargetIndustry:    r.TargetIndustry,
		FinancialLoss:     r.FinancialLoss.Value,
		AffectedUsers:     r.AffectedUsers.Value,
		AttackSource:      r.AttackSource,
		VulnerabilityType: r.VulnerabilityType,
		DefenseMechanism:  r.DefenseMechanism,
		ResolutionHours:   r.ResolutionHours.Value,
	}
}

// WriteProcessed writes the processed dataset atomically.
func WriteProcessed(path string, rows []domain.ProcessedIncident) error {
	records := make([][]string, len(rows))
	for i := range rows {
		records[i] = rows[i].Record()
	}
	return WriteTable(path, domain.ProcessedColumns, records)
}

// WriteTable writes a header and records atomically.
func WriteTable(path string, header []string, records [][]string) error {
	return artifact.WriteFile(path, func(w io.Writer) error {
		return EncodeTable(w, header, records)
	})
}

// EncodeTable writes a header and records as CSV to w.
func EncodeTable(w io.Writer, header []string, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(records); err != nil {
		return err
	}
	return cw.Error()
}

// ReadTable loads any CSV table as a header plus records.
func ReadTable(path string) ([]string, [][]string, error) {
	f, r, err := openCSV(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%s: missing header row", path)
	}
	return records[0], records[1:], nil
}
