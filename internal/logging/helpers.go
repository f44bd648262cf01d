package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LogLevelFromString converts string to LogLevel.
func LogLevelFromString(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

// InitializeFromConfig initializes the global logger from configuration.
func InitializeFromConfig(runID string, logConfig LogConfig) (*Logger, error) {
	if logConfig.LogDir != "" {
		if err := os.MkdirAll(logConfig.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
	}

	logFile := logConfig.LogFile
	if logFile == "" && logConfig.EnableFile {
		if logConfig.LogDir != "" {
			logFile = filepath.Join(logConfig.LogDir, fmt.Sprintf("%s.log", runID))
		} else {
			logFile = fmt.Sprintf("%s.log", runID)
		}
	}

	config := Config{
		Level:         LogLevelFromString(logConfig.Level),
		RunID:         runID,
		LogFile:       logFile,
		EnableConsole: logConfig.EnableConsole,
		EnableFile:    logConfig.EnableFile,
		BufferSize:    logConfig.BufferSize,
	}

	logger := NewLogger(config)
	SetGlobalLogger(logger)

	return logger, nil
}

// LogConfig represents logging configuration (matching the YAML structure).
type LogConfig struct {
	Level         string `yaml:"level"`
	EnableConsole bool   `yaml:"enable_console"`
	EnableFile    bool   `yaml:"enable_file"`
	LogFile       string `yaml:"log_file"`
	BufferSize    int    `yaml:"buffer_size"`
	LogDir        string `yaml:"log_dir"`
}

// Component names for structured logging.
const (
	ComponentMain      = "main"
	ComponentConfig    = "config"
	ComponentEstimator = "estimator"
	ComponentFilter    = "ccf"
	ComponentTrace     = "trace"
	ComponentSink      = "sink"
)

// Action names for structured logging.
const (
	ActionStart     = "start"
	ActionStop      = "stop"
	ActionRead      = "read"
	ActionReport    = "report"
	ActionSweep     = "sweep"
	ActionReconcile = "reconcile"
	ActionDrop      = "drop"
)
