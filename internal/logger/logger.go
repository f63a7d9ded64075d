package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"facebooth-go/config"

	log "github.com/sirupsen/logrus"
)

var (
	mu      sync.Mutex
	logFile *os.File
)

// Init configures the global logrus logger: level, text format with full
// timestamps, stdout plus an optional log file.
func Init(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info': %v", cfg.Level, err)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	writers := []io.Writer{os.Stdout} // always log to stdout for container logs

	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			// Continue without file logging
			log.Errorf("Failed to create log directory '%s': %v", logDir, err)
		} else if file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660); err != nil {
			log.Errorf("Failed to open log file '%s': %v", cfg.File, err)
		} else {
			mu.Lock()
			if logFile != nil {
				_ = logFile.Close()
			}
			logFile = file
			mu.Unlock()
			writers = append(writers, file)
			log.Infof("Logging additionally to file: %s", cfg.File)
		}
	}

	log.SetOutput(io.MultiWriter(writers...))
	log.WithField("level", level.String()).Info("Logger initialized")
	return nil
}

// Close switches logging back to stdout and closes the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return
	}
	log.SetOutput(os.Stdout)
	_ = logFile.Close()
	logFile = nil
}
