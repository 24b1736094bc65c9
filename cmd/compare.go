package main

import (
	"context"
	"fmt"
	"time"

	"hetsched/internal/config"
	"hetsched/internal/logging"
	"hetsched/internal/scheduler"
	"hetsched/internal/sim"

	"github.com/sirupsen/logrus"
)

type runSummary struct {
	Scheduler      string
	Makespan       time.Duration
	MeanTurnaround time.Duration
	Finished       int
	Total          int
	Migrations     int
	Decisions      int
}

func summarize(result *sim.Result) runSummary {
	s := runSummary{
		Scheduler: result.Scheduler,
		Total:     len(result.Threads),
		Decisions: len(result.Decisions),
	}
	var turnaround time.Duration
	for _, t := range result.Threads {
		s.Migrations += t.Migrations
		if !t.Finished {
			continue
		}
		s.Finished++
		turnaround += t.Turnaround()
		if t.Finish > s.Makespan {
			s.Makespan = t.Finish
		}
	}
	if s.Finished > 0 {
		s.MeanTurnaround = turnaround / time.Duration(s.Finished)
	}
	return s
}

func logSummary(result *sim.Result) {
	logger := logging.GetLogger()
	s := summarize(result)
	logger.WithFields(logrus.Fields{
		"scheduler":       s.Scheduler,
		"makespan":        s.Makespan,
		"mean_turnaround": s.MeanTurnaround,
		"finished":        fmt.Sprintf("%d/%d", s.Finished, s.Total),
		"migrations":      s.Migrations,
		"decisions":       s.Decisions,
		"trace_checksum":  result.TraceChecksum,
	}).Info("Run summary")

	for _, t := range result.Threads {
		logger.WithFields(logrus.Fields{
			"thread":       t.Key,
			"thread_id":    t.ID,
			"turnaround":   t.Turnaround(),
			"big_time":     t.BigTime,
			"small_time":   t.SmallTime,
			"migrations":   t.Migrations,
			"instructions": t.Instructions,
		}).Debug("Thread result")
	}
}

// compareImplementations runs a copy of cfg under each implementation in order.
func compareImplementations(ctx context.Context, cfg *config.SimulationConfig, implementations []string) ([]*sim.Result, error) {
	results := make([]*sim.Result, 0, len(implementations))
	for _, impl := range implementations {
		run := *cfg
		run.Simulation.Scheduler.Implementation = impl

		simulation, err := sim.New(&run)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", impl, err)
		}
		result, err := simulation.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", impl, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func compareSchedulers(ctx context.Context, configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyConfigLogLevels(cfg)

	results, err := compareImplementations(ctx, cfg, scheduler.Implementations)
	if err != nil {
		return err
	}

	var baseline *runSummary
	for _, result := range results {
		logSummary(result)
		s := summarize(result)
		if baseline == nil {
			baseline = &s
			continue
		}
		if s.Makespan > 0 {
			logger.WithFields(logrus.Fields{
				"scheduler": s.Scheduler,
				"baseline":  baseline.Scheduler,
				"speedup":   fmt.Sprintf("%.3f", float64(baseline.Makespan)/float64(s.Makespan)),
			}).Info("Makespan relative to baseline")
		}
	}
	return nil
}
