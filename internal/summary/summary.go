// Package summary aggregates the processed incidents into the dashboard
// tables and KPI tiles.
package summary

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/threatlens/internal/artifact"
	"github.com/opensource-finance/threatlens/internal/dataset"
	"github.com/opensource-finance/threatlens/internal/domain"
)

// Table names, also the CSV file stems.
const (
	CountrySummary       = "country_summary"
	AttackTypeSummary    = "attack_type_summary"
	IndustrySummary      = "industry_summary"
	YearlyTrends         = "yearly_trends"
	AttackSourceSummary  = "attack_source_summary"
	VulnerabilitySummary = "vulnerability_summary"
)

// Aggregate column names.
const (
	ColTotalIncidents     = "Total_Incidents"
	ColAvgFinancialLoss   = "Avg_Financial_Loss"
	ColTotalFinancialLoss = "Total_Financial_Loss"
	ColAvgAffectedUsers   = "Avg_Affected_Users"
	ColTotalAffectedUsers = "Total_Affected_Users"
	ColAvgResolutionTime  = "Avg_Resolution_Time"
)

// ErrUnknownTable is returned for a table name outside Names.
var ErrUnknownTable = errors.New("unknown summary table")

type field func(*domain.ProcessedIncident) float64

func loss(p *domain.ProcessedIncident) float64 { return p.FinancialLoss }
func users(p *domain.ProcessedIncident) float64 { return p.AffectedUsers }
func hours(p *domain.ProcessedIncident) float64 { return p.ResolutionHours }

type aggregate struct {
	column string
	field  field
	reduce func([]float64) float64
}

func count(column string) aggregate {
	return aggregate{column: column, reduce: func(v []float64) float64 { return float64(len(v)) }}
}

func sum(column string, f field) aggregate {
	return aggregate{column: column, field: f, reduce: floats.Sum}
}

func mean(column string, f field) aggregate {
	return aggregate{column: column, field: f, reduce: func(v []float64) float64 { return stat.Mean(v, nil) }}
}

type spec struct {
	name    string
	key     string
	numeric bool
	aggs    []aggregate
}

var specs = []spec{
	{CountrySummary, domain.ColCountry, false, []aggregate{
		count(ColTotalIncidents),
		mean(ColAvgFinancialLoss, loss),
		sum(ColTotalFinancialLoss, loss),
		mean(ColAvgAffectedUsers, users),
	}},
	{AttackTypeSummary, domain.ColAttackType, false, []aggregate{
		count(ColTotalIncidents),
		mean(ColAvgFinancialLoss, loss),
		sum(ColTotalAffectedUsers, users),
	}},
	{IndustrySummary, domain.ColTargetIndustry, false, []aggregate{
		count(ColTotalIncidents),
		sum(ColTotalFinancialLoss, loss),
		mean(ColAvgResolutionTime, hours),
	}},
	{YearlyTrends, domain.ColYear, true, []aggregate{
		count(ColTotalIncidents),
		sum(ColTotalFinancialLoss, loss),
		sum(ColTotalAffectedUsers, users),
	}},
	{AttackSourceSummary, domain.ColAttackSource, false, []aggregate{
		count(ColTotalIncidents),
		sum(ColTotalFinancialLoss, loss),
	}},
	{VulnerabilitySummary, domain.ColVulnerabilityType, false, []aggregate{
		count(ColTotalIncidents),
		mean(ColAvgResolutionTime, hours),
	}},
}

// Names lists the tables in the order Build returns them.
func Names() []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.name
	}
	return names
}

func lookup(name string) (spec, error) {
	for _, s := range specs {
		if s.name == name {
			return s, nil
		}
	}
	return spec{}, fmt.Errorf("%q: %w", name, ErrUnknownTable)
}

// Row is one group of a table.
type Row struct {
	Key    string
	Values []float64
}

// Table is a grouped aggregate over the processed incidents.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// Records renders the table as CSV records without the header.
func (t *Table) Records() [][]string {
	out := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rec := make([]string, 0, len(r.Values)+1)
		rec = append(rec, r.Key)
		for _, v := range r.Values {
			rec = append(rec, domain.FormatFloat(v))
		}
		out[i] = rec
	}
	return out
}

// MarshalJSON writes the table as {"name":..., "rows":[{column: value}]}.
func (t *Table) MarshalJSON() ([]byte, error) {
	rows := make([]map[string]any, len(t.Rows))
	for i, r := range t.Rows {
		obj := make(map[string]any, len(t.Columns))
		obj[t.Columns[0]] = r.Key
		for j, v := range r.Values {
			obj[t.Columns[j+1]] = v
		}
		rows[i] = obj
	}
	return json.Marshal(struct {
		Name    string           `json:"name"`
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
	}{t.Name, t.Columns, rows})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *Table) UnmarshalJSON(b []byte) error {
	var raw struct {
		Name    string                       `json:"name"`
		Columns []string                     `json:"columns"`
		Rows    []map[string]json.RawMessage `json:"rows"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw.Columns) == 0 {
		return fmt.Errorf("table %q has no columns", raw.Name)
	}
	t.Name, t.Columns, t.Rows = raw.Name, raw.Columns, make([]Row, len(raw.Rows))
	for i, obj := range raw.Rows {
		if err := json.Unmarshal(obj[raw.Columns[0]], &t.Rows[i].Key); err != nil {
			return fmt.Errorf("row %d key: %w", i, err)
		}
		t.Rows[i].Values = make([]float64, len(raw.Columns)-1)
		for j, col := range raw.Columns[1:] {
			if err := json.Unmarshal(obj[col], &t.Rows[i].Values[j]); err != nil {
				return fmt.Errorf("row %d %s: %w", i, col, err)
			}
		}
	}
	return nil
}

// Build computes every table over rows.
func Build(rows []domain.ProcessedIncident) []*Table {
	tables := make([]*Table, len(specs))
	for i, s := range specs {
		tables[i] = build(s, rows)
	}
	return tables
}

// BuildOne computes the named table over rows.
func BuildOne(name string, rows []domain.ProcessedIncident) (*Table, error) {
	s, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return build(s, rows), nil
}

func build(s spec, rows []domain.ProcessedIncident) *Table {
	groups := make(map[string][]int)
	var keys []string
	for i := range rows {
		key := groupKey(s.key, &rows[i])
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], i)
	}
	if s.numeric {
		slices.SortFunc(keys, func(a, b string) int {
			x, _ := strconv.ParseFloat(a, 64)
			y, _ := strconv.ParseFloat(b, 64)
			return cmp.Compare(x, y)
		})
	} else {
		slices.Sort(keys)
	}

	t := &Table{Name: s.name, Columns: []string{s.key}}
	for _, a := range s.aggs {
		t.Columns = append(t.Columns, a.column)
	}

	values := make([]float64, 0, len(rows))
	for _, key := range keys {
		idx := groups[key]
		row := Row{Key: key, Values: make([]float64, len(s.aggs))}
		for j, a := range s.aggs {
			values = values[:0]
			for _, i := range idx {
				if a.field == nil {
					values = append(values, 0)
					continue
				}
				values = append(values, a.field(&rows[i]))
			}
			row.Values[j] = a.reduce(values)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func groupKey(col string, p *domain.ProcessedIncident) string {
	if col == domain.ColYear {
		return domain.FormatFloat(p.Year)
	}
	raw := p.Raw()
	v, _ := raw.Categorical(col)
	return v
}

// Write persists every table under store.
func Write(store *artifact.Store, tables []*Table) error {
	for _, t := range tables {
		if err := dataset.WriteTable(store.TablePath(t.Name), t.Columns, t.Records()); err != nil {
			return fmt.Errorf("write %s: %w", t.Name, err)
		}
	}
	return nil
}

// Load reads a persisted table back from store.
func Load(store *artifact.Store, name string) (*Table, error) {
	if _, err := lookup(name); err != nil {
		return nil, err
	}
	header, records, err := dataset.ReadTable(store.TablePath(name))
	if err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("%s: empty header", name)
	}

	t := &Table{Name: name, Columns: header, Rows: make([]Row, len(records))}
	for i, rec := range records {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("%s line %d: %d cells, want %d", name, i+2, len(rec), len(header))
		}
		row := Row{Key: rec[0], Values: make([]float64, len(rec)-1)}
		for j, cell := range rec[1:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d column %q: %w", name, i+2, header[j+1], err)
			}
			row.Values[j] = v
		}
		t.Rows[i] = row
	}
	return t, nil
}
