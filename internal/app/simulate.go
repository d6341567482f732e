package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	nccfg "negotiator/internal/config"
	"negotiator/internal/forecast"
	"negotiator/internal/logger"
	"negotiator/internal/sim"
	"negotiator/internal/store/gormstore"
	"negotiator/internal/store/model"
)

// SimulationReport 是一次离线自博弈的结果。
type SimulationReport struct {
	Stats     sim.Stats
	CSVPath   string
	StoreRows int64
}

func simulationParams(c nccfg.SimulationConfig) sim.Params {
	return sim.Params{
		Markets:     c.Markets,
		Rounds:      c.Rounds,
		NSteps:      c.NSteps,
		Sellers:     c.Sellers,
		Buyers:      c.Buyers,
		MinPrice:    c.MinPrice,
		MaxPrice:    c.MaxPrice,
		MaxExogQty:  c.MaxExogQty,
		Seed:        c.Seed,
		Concurrency: c.Concurrency,
	}
}

// RunSimulation plays the configured self-play markets with the base strategy,
// appends every datapoint to the history store and optionally exports them as CSV.
func RunSimulation(ctx context.Context, cfg *nccfg.Config) (report SimulationReport, err error) {
	if cfg == nil {
		return report, fmt.Errorf("nil config")
	}
	closers, err := setupLogging(cfg.App)
	if err != nil {
		return report, err
	}
	history, err := gormstore.NewGormStore(cfg.Store.HistoryPath)
	if err != nil {
		return report, fmt.Errorf("init history store: %w", err)
	}
	defer func() {
		errs := []error{err, history.Close()}
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		err = errors.Join(errs...)
	}()

	table, err := loadForecastTable(ctx, cfg.Forecast, history)
	if err != nil {
		return report, err
	}
	decider, err := newBaseDecider(cfg, table)
	if err != nil {
		return report, err
	}
	simulator, err := sim.NewSimulator(sim.SimulatorConfig{
		Params:  simulationParams(cfg.Simulation),
		Decider: decider,
		History: history,
		Runs:    history,
	})
	if err != nil {
		return report, err
	}
	stats, records, err := simulator.Run(ctx)
	report.Stats = stats
	if err != nil {
		return report, err
	}
	if stats.RunID != "" {
		if n, cerr := history.Count(ctx, stats.RunID); cerr == nil {
			report.StoreRows = n
		} else {
			logger.Warnf("count run %s: %v", stats.RunID, cerr)
		}
	}
	if p := strings.TrimSpace(cfg.Simulation.OutputCSV); p != "" {
		if err := ensureDir(p); err != nil {
			return report, err
		}
		if err := forecast.WriteFile(p, records); err != nil {
			return report, fmt.Errorf("write %s: %w", p, err)
		}
		report.CSVPath = p
		logger.Infof("wrote %d records to %s", len(records), p)
	}
	return report, nil
}

// LoadTable builds the forecast table described by cfg.Forecast. A store source
// opens the history database for the duration of the call.
func LoadTable(ctx context.Context, cfg *nccfg.Config) (*forecast.Table, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if cfg.Forecast.Source != nccfg.ForecastSourceStore {
		table, err := loadForecastTable(ctx, cfg.Forecast, nil)
		if err == nil && table == nil {
			err = fmt.Errorf("forecast.source is %q, nothing to load", cfg.Forecast.Source)
		}
		return table, err
	}
	history, err := gormstore.NewGormStore(cfg.Store.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("init history store: %w", err)
	}
	defer history.Close()
	return loadForecastTable(ctx, cfg.Forecast, history)
}

// ListRuns returns the most recent data-collection runs.
func ListRuns(ctx context.Context, cfg *nccfg.Config, limit int) ([]model.RunModel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	history, err := gormstore.NewGormStore(cfg.Store.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("init history store: %w", err)
	}
	defer history.Close()
	return history.ListRuns(ctx, limit)
}
