package main

import (
	"fmt"

	"hetsched/internal/database"
	"hetsched/internal/logging"

	"github.com/sirupsen/logrus"
)

// summarizeSpool reads a spool artifact and logs its run summary. Monitor artifacts carry no
// simulation result and only report their sample count.
func summarizeSpool(path string) (*database.SpoolArtifact, error) {
	logger := logging.GetLogger()

	artifact, err := database.ReadSpoolArtifact(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool artifact %s: %w", path, err)
	}

	logger.WithFields(logrus.Fields{
		"path":      path,
		"run_id":    artifact.RunID,
		"run_name":  artifact.RunName,
		"scheduler": artifact.Scheduler,
		"samples":   len(artifact.Samples),
		"started":   artifact.StartTime,
	}).Info("Spool artifact")

	if artifact.Result != nil {
		logSummary(artifact.Result)
	}
	return artifact, nil
}
