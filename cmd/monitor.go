package main

import (
	"context"
	"fmt"
	"time"

	"hetsched/internal/collectors"
	"hetsched/internal/database"
	"hetsched/internal/dataframe"
	"hetsched/internal/host"
	"hetsched/internal/logging"
	"hetsched/internal/scheduler"
	"hetsched/internal/topology"

	"github.com/sirupsen/logrus"
)

// monitorHost samples every online cpu with the same sampler the policy uses, without
// migrating anything.
func monitorHost(ctx context.Context, interval, duration time.Duration, spool string) error {
	logger := logging.GetLogger()
	if interval <= 0 {
		return fmt.Errorf("interval must be greater than 0")
	}

	hostConfig, err := host.GetHostConfig()
	if err != nil {
		return fmt.Errorf("failed to initialize host configuration: %w", err)
	}
	classes := hostConfig.Classification()

	telemetry, err := collectors.NewPerfTelemetry(hostConfig)
	if err != nil {
		return fmt.Errorf("failed to open perf counters: %w", err)
	}
	defer telemetry.Close()

	sampler := scheduler.NewSampler(telemetry, classes)
	dataframes := dataframe.NewDataFrames()

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	startTime := time.Now()
	logger.WithFields(logrus.Fields{
		"cpus":      hostConfig.TotalCores,
		"big_cores": classes.NumBig(),
		"interval":  interval,
	}).Info("Monitoring host")

	step := 0
	for {
		if err := sampleHost(sampler, dataframes, step, time.Since(startTime)); err != nil {
			return err
		}
		step++

		select {
		case <-ctx.Done():
			logger.WithField("steps", step).Info("Monitoring stopped")
			if spool == "" {
				return nil
			}
			artifact := database.BuildSpoolArtifact(0, "", nil, nil, startTime, time.Now())
			artifact.Scheduler = "monitor"
			artifact.RunName = hostConfig.Hostname
			artifact.Samples = database.FlattenSamples(dataframes)
			path, err := database.WriteSpoolArtifact(spool, artifact)
			if err != nil {
				return fmt.Errorf("failed to write spool artifact: %w", err)
			}
			logger.WithField("path", path).Info("Spool artifact written")
			return nil
		case <-ticker.C:
		}
	}
}

func sampleHost(sampler *scheduler.Sampler, dataframes *dataframe.DataFrames, step int, now time.Duration) error {
	logger := logging.GetLogger()
	var bigSum, smallSum, bigN, smallN int
	for core := 0; core < sampler.NumCores(); core++ {
		fresh, err := sampler.Sample(now, core)
		if err != nil {
			return err
		}
		if !fresh {
			continue
		}
		c := sampler.Core(core)
		dataframes.AddCore(core).AddStep(step, &dataframe.SamplingStep{
			Time:        now,
			ThreadID:    -1,
			Class:       c.Class.String(),
			IPC:         c.IPC,
			MeanIPC:     c.Stats.Mean(),
			VarianceIPC: c.Stats.Variance(),
			Samples:     c.Stats.Count,
		})
		logger.WithFields(logrus.Fields{
			"core_id":    core,
			"core_class": c.Class.String(),
			"ipc":        c.IPC,
			"mean_ipc":   c.Stats.Mean(),
		}).Debug("Sampled host core")

		if c.Class == topology.Big {
			bigSum += c.IPC
			bigN++
		} else {
			smallSum += c.IPC
			smallN++
		}
	}

	fields := logrus.Fields{"step": step}
	if bigN > 0 {
		fields["big_ipc"] = bigSum / bigN
	}
	if smallN > 0 {
		fields["small_ipc"] = smallSum / smallN
	}
	if bigN+smallN > 0 {
		logger.WithFields(fields).Info("Host IPC")
	}
	return nil
}
