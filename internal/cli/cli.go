// Package cli parses command-line arguments into app options.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/justme409/aiprojectengineerv3/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns populated app options,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Options, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("projectengineer", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
ProjectEngineer - construction project knowledge extraction pipeline.

Usage:
  projectengineer [options] -project PROJECT_ID -documents DOC_ID[,DOC_ID...]

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to the HCL configuration file.")
	projectFlag := flagSet.String("project", "", "Project id to run extraction for.")
	documentsFlag := flagSet.String("documents", "", "Comma-separated document ids to extract.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	mockFlag := flagSet.Bool("mock", false, "Run with in-memory collaborators instead of Postgres, S3 and the model API.")
	pauseFlag := flagSet.Bool("pause-for-inspection", false, "Pause the run after document verification for review.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if *projectFlag == "" {
		slog.Debug("No project id provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	var documentIDs []string
	for _, id := range strings.Split(*documentsFlag, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			documentIDs = append(documentIDs, id)
		}
	}
	if len(documentIDs) == 0 {
		return nil, false, &ExitError{Code: 2, Message: "at least one document id is required (-documents)"}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	return &app.Options{
		ConfigPath:      *configFlag,
		ProjectID:       *projectFlag,
		DocumentIDs:     documentIDs,
		HealthcheckPort: *healthPortFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		MockMode:        *mockFlag,
		PauseForReview:  *pauseFlag,
	}, false, nil
}
