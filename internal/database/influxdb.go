package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"hetsched/internal/config"
	"hetsched/internal/dataframe"
	"hetsched/internal/host"
	"hetsched/internal/logging"
	"hetsched/internal/sim"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	MeasurementCoreIPC   = "core_ipc"
	MeasurementDecisions = "scheduler_decisions"
	MeasurementThreads   = "thread_results"
	MeasurementMeta      = "run_meta"
)

// RunMetadata contains all metadata about a simulation run
type RunMetadata struct {
	RunID              int    `json:"run_id"`
	RunName            string `json:"run_name"`
	Description        string `json:"description"`
	RunStarted         string `json:"run_started"`  // RFC3339 timestamp
	RunFinished        string `json:"run_finished"` // RFC3339 timestamp
	WallDurationMS     int64  `json:"wall_duration_ms"`
	SimulatedNS        int64  `json:"simulated_ns"`
	Completed          bool   `json:"completed"`
	DriverVersion      string `json:"driver_version"`
	UsedScheduler      string `json:"used_scheduler"`
	Seed               int64  `json:"seed"`
	TraceChecksum      string `json:"trace_checksum"`
	TotalCores         int    `json:"total_cores"`
	BigCores           string `json:"big_cores"`
	TotalThreads       int    `json:"total_threads"`
	FinishedThreads    int    `json:"finished_threads"`
	TotalSamplingSteps int    `json:"total_sampling_steps"`
	TotalDecisions     int    `json:"total_decisions"`
	Hostname           string `json:"hostname"`
	OSInfo             string `json:"os_info"`
	KernelVersion      string `json:"kernel_version"`
	ConfigFile         string `json:"config_file"`
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

func NewInfluxDBClient(config config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(config.Host, config.Password)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", config.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, err
	}

	if health.Status != "pass" {
		message := ""
		if health.Message != nil {
			message = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    config.Host,
			"status":  health.Status,
			"message": message,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb at %s is unhealthy: %s", config.Host, health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   config.Host,
		"bucket": config.Name,
		"org":    config.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(config.Org, config.Name),
		queryAPI: client.QueryAPI(config.Org),
		bucket:   config.Name,
		org:      config.Org,
	}, nil
}

func (idb *InfluxDBClient) GetLastRunID(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -30d)
		|> filter(fn: (r) => r._measurement == "%s")
		|> distinct(column: "run_id")
		|> map(fn: (r) => ({_value: int(v: r.run_id)}))
		|> max()
		|> yield(name: "max_run_id")
	`, idb.bucket, MeasurementMeta)

	result, err := idb.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query last run ID: %w", err)
	}
	defer result.Close()

	maxID := 0
	for result.Next() {
		if id, ok := result.Record().Value().(int64); ok {
			maxID = int(id)
		}
	}

	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query results: %w", result.Err())
	}

	return maxID, nil
}

// WriteResult writes the per-core samples, decisions and thread outcomes of a run. Simulated
// times are anchored at wallStart.
func (idb *InfluxDBClient) WriteResult(ctx context.Context, runID int, result *sim.Result, wallStart time.Time) error {
	var points []*write.Point
	if result.DataFrames != nil {
		points = append(points, SamplePoints(runID, result.Scheduler, wallStart, result.DataFrames)...)
	}
	points = append(points, DecisionPoints(runID, result.Scheduler, wallStart, result.Decisions)...)
	points = append(points, ThreadPoints(runID, result.Scheduler, wallStart, result.Threads)...)

	if len(points) > 0 {
		if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
			return fmt.Errorf("failed to write data points: %w", err)
		}
	}
	return nil
}

// WriteSamples writes sampling steps only, as the host monitor produces no decisions.
func (idb *InfluxDBClient) WriteSamples(ctx context.Context, runID int, source string, wallStart time.Time, dataframes *dataframe.DataFrames) error {
	points := SamplePoints(runID, source, wallStart, dataframes)
	if len(points) == 0 {
		return nil
	}
	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	return nil
}

func (idb *InfluxDBClient) WriteMetadata(ctx context.Context, metadata *RunMetadata) error {
	if err := idb.writeAPI.WritePoint(ctx, MetadataPoint(metadata, time.Now())); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}

// SamplePoints converts every sampling step into a core_ipc point.
func SamplePoints(runID int, scheduler string, wallStart time.Time, dataframes *dataframe.DataFrames) []*write.Point {
	var points []*write.Point
	cores := dataframes.GetAllCores()
	for core, coreDF := range cores {
		for _, stepNumber := range coreDF.StepNumbers() {
			step := coreDF.GetStep(stepNumber)
			if step == nil {
				continue
			}
			points = append(points, influxdb2.NewPoint(MeasurementCoreIPC,
				map[string]string{
					"run_id":     strconv.Itoa(runID),
					"scheduler":  scheduler,
					"core_id":    strconv.Itoa(core),
					"core_class": step.Class,
				},
				map[string]interface{}{
					"step_number":  stepNumber,
					"thread_id":    step.ThreadID,
					"ipc":          step.IPC,
					"mean_ipc":     step.MeanIPC,
					"variance_ipc": step.VarianceIPC,
					"samples":      step.Samples,
				},
				wallStart.Add(step.Time)))
		}
	}
	return points
}

func DecisionPoints(runID int, scheduler string, wallStart time.Time, decisions []dataframe.Decision) []*write.Point {
	points := make([]*write.Point, 0, len(decisions))
	for i, d := range decisions {
		points = append(points, influxdb2.NewPoint(MeasurementDecisions,
			map[string]string{
				"run_id":    strconv.Itoa(runID),
				"scheduler": scheduler,
				"kind":      string(d.Kind),
			},
			map[string]interface{}{
				"sequence":        i,
				"demoted_thread":  d.Demoted,
				"promoted_thread": d.Promoted,
				"big_core":        d.BigCore,
				"small_core":      d.SmallCore,
				"big_ipc":         d.BigIPC,
				"small_ipc":       d.SmallIPC,
			},
			wallStart.Add(d.Time)))
	}
	return points
}

func ThreadPoints(runID int, scheduler string, wallStart time.Time, threads []sim.ThreadResult) []*write.Point {
	points := make([]*write.Point, 0, len(threads))
	for _, t := range threads {
		points = append(points, influxdb2.NewPoint(MeasurementThreads,
			map[string]string{
				"run_id":    strconv.Itoa(runID),
				"scheduler": scheduler,
				"thread_id": strconv.Itoa(int(t.ID)),
				"thread":    t.Key,
			},
			map[string]interface{}{
				"start_ns":      t.Start.Nanoseconds(),
				"finish_ns":     t.Finish.Nanoseconds(),
				"turnaround_ns": t.Turnaround().Nanoseconds(),
				"finished":      t.Finished,
				"instructions":  t.Instructions,
				"migrations":    t.Migrations,
				"big_time_ns":   t.BigTime.Nanoseconds(),
				"small_time_ns": t.SmallTime.Nanoseconds(),
			},
			wallStart.Add(t.Finish)))
	}
	return points
}

func MetadataPoint(metadata *RunMetadata, at time.Time) *write.Point {
	return influxdb2.NewPoint(MeasurementMeta,
		map[string]string{
			"run_id": strconv.Itoa(metadata.RunID),
		},
		map[string]interface{}{
			"run_name":             metadata.RunName,
			"description":          metadata.Description,
			"run_started":          metadata.RunStarted,
			"run_finished":         metadata.RunFinished,
			"wall_duration_ms":     metadata.WallDurationMS,
			"simulated_ns":         metadata.SimulatedNS,
			"completed":            metadata.Completed,
			"driver_version":       metadata.DriverVersion,
			"used_scheduler":       metadata.UsedScheduler,
			"seed":                 metadata.Seed,
			"trace_checksum":       metadata.TraceChecksum,
			"total_cores":          metadata.TotalCores,
			"big_cores":            metadata.BigCores,
			"total_threads":        metadata.TotalThreads,
			"finished_threads":     metadata.FinishedThreads,
			"total_sampling_steps": metadata.TotalSamplingSteps,
			"total_decisions":      metadata.TotalDecisions,
			"hostname":             metadata.Hostname,
			"os_info":              metadata.OSInfo,
			"kernel_version":       metadata.KernelVersion,
			"config_file":          metadata.ConfigFile,
		},
		at)
}

func CollectRunMetadata(runID int, cfg *config.SimulationConfig, configContent string, result *sim.Result, startTime, endTime time.Time, driverVersion string) *RunMetadata {
	metadata := &RunMetadata{
		RunID:          runID,
		RunName:        cfg.Simulation.Name,
		Description:    cfg.Simulation.Description,
		RunStarted:     startTime.Format(time.RFC3339),
		RunFinished:    endTime.Format(time.RFC3339),
		WallDurationMS: endTime.Sub(startTime).Milliseconds(),
		SimulatedNS:    result.Elapsed.Nanoseconds(),
		Completed:      result.Completed,
		DriverVersion:  driverVersion,
		UsedScheduler:  result.Scheduler,
		Seed:           result.Seed,
		TraceChecksum:  result.TraceChecksum,
		TotalCores:     cfg.Simulation.Cores.Count,
		BigCores:       config.FormatCPUSpec(cfg.Simulation.Cores.BigCores),
		TotalThreads:   len(result.Threads),
		TotalDecisions: len(result.Decisions),
		ConfigFile:     configContent,
		Hostname:       "unknown",
		OSInfo:         "unknown",
		KernelVersion:  "unknown",
	}
	for _, t := range result.Threads {
		if t.Finished {
			metadata.FinishedThreads++
		}
	}
	if result.DataFrames != nil {
		metadata.TotalSamplingSteps = result.DataFrames.TotalSteps()
	}

	if hc, err := host.GetHostConfig(); err == nil {
		metadata.Hostname = hc.Hostname
		metadata.OSInfo = hc.OSInfo
		metadata.KernelVersion = hc.KernelVersion
	}
	return metadata
}
