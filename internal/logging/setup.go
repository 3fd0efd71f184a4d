package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aiproxy-go/internal/config"
	log "github.com/sirupsen/logrus"
)

var (
	logMux        sync.Mutex
	logFileHandle *os.File
)

// Setup configures the global logrus logger from the server config.
// The most recent call wins.
func Setup(cfg config.ServerConfig) error {
	logMux.Lock()
	defer logMux.Unlock()

	var formatter log.Formatter = &log.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	level := log.InfoLevel
	if cfg.Debug {
		formatter = &log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano}
		level = log.DebugLevel
	}
	log.SetFormatter(formatter)
	log.SetLevel(level)

	writers := []io.Writer{os.Stdout}
	if logFileHandle != nil {
		_ = logFileHandle.Close()
		logFileHandle = nil
	}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logFileHandle = file
		writers = append(writers, file)
	}
	log.SetOutput(io.MultiWriter(writers...))
	return nil
}
