package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/threatlens/internal/artifact"
	"github.com/opensource-finance/threatlens/internal/dataset"
	"github.com/opensource-finance/threatlens/internal/domain"
	"github.com/opensource-finance/threatlens/internal/filter"
	"github.com/opensource-finance/threatlens/internal/pipeline"
	"github.com/opensource-finance/threatlens/internal/predict"
	"github.com/opensource-finance/threatlens/internal/repository"
	"github.com/opensource-finance/threatlens/internal/summary"
	"github.com/opensource-finance/threatlens/internal/telemetry"
	"github.com/opensource-finance/threatlens/internal/training"
)

var (
	inputFlag = &cli.StringFlag{
		Name:  "input",
		Usage: "Raw incident CSV (optional, defaults to pipeline.inputPath)",
	}

	filterFlag = &cli.StringFlag{
		Name:  "filter",
		Usage: `CEL predicate over incidents, e.g. 'year >= 2020 && country == "India"'`,
	}

	tableFlag = &cli.StringFlag{
		Name:  "table",
		Usage: "Only print this summary table (optional)",
	}

	csvFlag = &cli.StringFlag{
		Name:  "csv",
		Usage: "Annotate every row of this incident CSV instead of a single record",
	}

	outFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Output path for --csv (optional, defaults to predictions.csv in the artifacts dir)",
	}

	strictFlag = &cli.BoolFlag{
		Name:  "strict",
		Usage: "Reject categories unseen during training instead of falling back",
	}

	processCmd = &cli.Command{
		Name:   "process",
		Usage:  "Clean, score and tier the raw dataset, then write the summary tables",
		Action: cmdProcess,
		Flags:  []cli.Flag{inputFlag},
	}

	summarizeCmd = &cli.Command{
		Name:   "summarize",
		Usage:  "Print the summary tables, optionally recomputed over filtered incidents",
		Action: cmdSummarize,
		Flags:  []cli.Flag{filterFlag, tableFlag},
	}

	trainCmd = &cli.Command{
		Name:   "train",
		Usage:  "Train the severity classifier on the processed dataset",
		Action: cmdTrain,
	}

	predictCmd = &cli.Command{
		Name:   "predict",
		Usage:  "Predict the severity of one incident or of every row of a CSV",
		Action: cmdPredict,
		Flags:  append([]cli.Flag{csvFlag, outFlag, strictFlag}, fieldFlags()...),
	}
)

// fieldFlags returns one flag per raw column, named after the column in
// kebab case: --country, --attack-type, --affected-users...
func fieldFlags() []cli.Flag {
	flags := make([]cli.Flag, len(domain.RawColumns))
	for i, col := range domain.RawColumns {
		flags[i] = &cli.StringFlag{
			Name:  fieldFlagNames[col],
			Usage: fmt.Sprintf("%q value", col),
		}
	}
	return flags
}

var fieldFlagNames = map[string]string{
	domain.ColCountry:           "country",
	domain.ColYear:              "year",
	domain.ColAttackType:        "attack-type",
	domain.ColTargetIndustry:    "target-industry",
	domain.ColFinancialLoss:     "financial-loss",
	domain.ColAffectedUsers:     "affected-users",
	domain.ColAttackSource:      "attack-source",
	domain.ColVulnerabilityType: "vulnerability-type",
	domain.ColDefenseMechanism:  "defense-mechanism",
	domain.ColResolutionHours:   "resolution-hours",
}

func cmdProcess(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if in := cmd.String(inputFlag.Name); in != "" {
		cfg.Pipeline.InputPath = in
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.InitTracer(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer telemetry.Flush(context.Background(), shutdown)

	eventBus := optionalBus(cfg)
	if eventBus != nil {
		defer eventBus.Close()
	}

	report, err := pipeline.New(store, cfg.Pipeline, eventBus).Process(ctx)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func cmdSummarize(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store := artifact.NewStore(cfg.Artifacts.Dir)

	names := summary.Names()
	if t := cmd.String(tableFlag.Name); t != "" {
		names = []string{t}
	}

	expr := cmd.String(filterFlag.Name)
	if expr == "" {
		tables := make([]*summary.Table, 0, len(names))
		for _, name := range names {
			t, err := summary.Load(store, name)
			if err != nil {
				return err
			}
			tables = append(tables, t)
		}
		return printJSON(tables)
	}

	rows, err := dataset.ReadProcessed(store.ProcessedPath())
	if err != nil {
		return err
	}
	engine, err := filter.NewEngine(0)
	if err != nil {
		return err
	}
	rows, err = engine.Apply(ctx, expr, rows)
	if err != nil {
		return err
	}
	slog.Info("incidents selected", "rows", len(rows), "filter", expr)

	tables := make([]*summary.Table, 0, len(names))
	for _, name := range names {
		t, err := summary.BuildOne(name, rows)
		if err != nil {
			return err
		}
		tables = append(tables, t)
	}
	return printJSON(map[string]any{
		"kpis":   summary.ComputeKPIs(rows),
		"tables": tables,
	})
}

func cmdTrain(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.InitTracer(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer telemetry.Flush(context.Background(), shutdown)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	eventBus := optionalBus(cfg)
	if eventBus != nil {
		defer eventBus.Close()
	}

	run, err := training.NewTrainer(store, cfg.Training, repo, eventBus).Run(ctx)
	if err != nil {
		return err
	}
	return printJSON(run)
}

func cmdPredict(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	policy := cfg.Prediction.UnseenPolicy
	if cmd.Bool(strictFlag.Name) {
		policy = domain.UnseenStrict
	}

	store := artifact.NewStore(cfg.Artifacts.Dir)
	p, err := predict.Load(ctx, store, policy)
	if err != nil {
		return err
	}

	if in := cmd.String(csvFlag.Name); in != "" {
		out := cmd.String(outFlag.Name)
		if out == "" {
			out = store.PredictionsPath()
		}
		return annotateFile(ctx, p, in, out)
	}

	rec, err := recordFromFlags(cmd)
	if err != nil {
		return err
	}
	res, err := p.Predict(ctx, rec)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func annotateFile(ctx context.Context, p *predict.Predictor, in, out string) error {
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()

	var n int
	err = artifact.WriteFile(out, func(w io.Writer) error {
		var err error
		n, err = p.AnnotateCSV(ctx, f, w)
		return err
	})
	if err != nil {
		return err
	}
	slog.Info("predictions written", "rows", n, "path", out)
	return nil
}

func recordFromFlags(cmd *cli.Command) (domain.RawIncident, error) {
	var rec domain.RawIncident
	str := func(col string) string { return cmd.String(fieldFlagNames[col]) }
	num := func(col string) (domain.Number, error) {
		n, err := dataset.ParseNumber(str(col))
		if err != nil {
			return n, fmt.Errorf("--%s: %w", fieldFlagNames[col], err)
		}
		return n, nil
	}

	rec.Country = str(domain.ColCountry)
	rec.AttackType = str(domain.ColAttackType)
	rec.TargetIndustry = str(domain.ColTargetIndustry)
	rec.AttackSource = str(domain.ColAttackSource)
	rec.VulnerabilityType = str(domain.ColVulnerabilityType)
	rec.DefenseMechanism = str(domain.ColDefenseMechanism)

	var err error
	if rec.Year, err = num(domain.ColYear); err != nil {
		return rec, err
	}
	if rec.FinancialLoss, err = num(domain.ColFinancialLoss); err != nil {
		return rec, err
	}
	if rec.AffectedUsers, err = num(domain.ColAffectedUsers); err != nil {
		return rec, err
	}
	if rec.ResolutionHours, err = num(domain.ColResolutionHours); err != nil {
		return rec, err
	}
	return rec, nil
}
