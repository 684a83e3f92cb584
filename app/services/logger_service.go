package services

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

const logDayFormat = "2006-01-02"

// LoggerService writes leveled lines to stdout and to one file per day.
// It satisfies remotedb.Logger.
type LoggerService struct {
	logDir string

	mu         sync.Mutex
	logger     *log.Logger
	logFile    *os.File
	currentDay string
	console    io.Writer
}

// NewLoggerService creates a logger writing to stdout and to logDir/YYYY-MM-DD.log.
// An empty logDir, or one that cannot be created, logs to stdout only.
func NewLoggerService(logDir string) *LoggerService {
	s := &LoggerService{logDir: logDir, console: os.Stdout}
	s.logger = log.New(s.console, "", log.LstdFlags)

	if logDir == "" {
		return s
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		s.logger.Printf("[WARNING] Could not create logs directory | %v", err)
		s.logDir = ""
		return s
	}

	s.mu.Lock()
	err := s.openDay(time.Now().Format(logDayFormat))
	s.mu.Unlock()
	if err != nil {
		s.logger.Printf("[WARNING] Could not create log file, logging to stdout only | %v", err)
		s.logDir = ""
		return s
	}

	s.LogInfo("Logger initialized", "Log directory: "+logDir)
	return s
}

// NewDiscardLogger returns a logger that writes nowhere, for tests
func NewDiscardLogger() *LoggerService {
	return &LoggerService{logger: log.New(io.Discard, "", 0), console: io.Discard}
}

// openDay switches output to the file for day. Callers hold mu.
func (s *LoggerService) openDay(day string) error {
	path := filepath.Join(s.logDir, day+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
	s.logFile = file
	s.currentDay = day

	out := io.MultiWriter(s.console, file)
	s.logger.SetOutput(out)
	// Stray log.Printf calls from libraries land in the same file
	log.SetOutput(out)
	return nil
}

func (s *LoggerService) write(level, message string, details []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.logDir != "" {
		if today := time.Now().Format(logDayFormat); today != s.currentDay {
			if err := s.openDay(today); err != nil {
				s.logger.Printf("[WARNING] Log rotation failed | %v", err)
			}
		}
	}

	line := "[" + level + "] " + message
	if len(details) > 0 {
		line += " | " + strings.Join(details, " | ")
	}
	s.logger.Print(line)
}

// LogInfo logs an informational message
func (s *LoggerService) LogInfo(message string, details ...string) {
	s.write("INFO", message, details)
}

// LogWarning logs a warning message
func (s *LoggerService) LogWarning(message string, details ...string) {
	s.write("WARNING", message, details)
}

// LogError logs an error message
func (s *LoggerService) LogError(message string, err error, details ...string) {
	if err != nil {
		details = append([]string{fmt.Sprintf("Error: %v", err)}, details...)
	}
	s.write("ERROR", message, details)
}

// LogPanic logs a recovered panic with its stack trace
func (s *LoggerService) LogPanic(recovered interface{}) {
	s.write("PANIC", fmt.Sprintf("Recovered from panic: %v", recovered), []string{"Stack trace:\n" + string(debug.Stack())})
}

// RecoverPanic is deferred at the top of goroutines
func (s *LoggerService) RecoverPanic() {
	if r := recover(); r != nil {
		s.LogPanic(r)
	}
}

// GetLogDirectory returns the directory where logs are stored
func (s *LoggerService) GetLogDirectory() string {
	return s.logDir
}

// CleanOldLogs removes daily log files last written more than daysToKeep days ago
func (s *LoggerService) CleanOldLogs(daysToKeep int) error {
	if s.logDir == "" {
		return nil
	}

	entries, err := os.ReadDir(s.logDir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -daysToKeep)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.logDir, entry.Name())); err != nil {
			s.LogWarning("Could not delete old log file", entry.Name(), err.Error())
			continue
		}
		removed++
	}

	if removed > 0 {
		s.LogInfo("Old log files deleted", fmt.Sprintf("%d files older than %d days", removed, daysToKeep))
	}
	return nil
}

// Close closes the log file; later lines go to stdout only
func (s *LoggerService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile != nil {
		s.logger.SetOutput(s.console)
		log.SetOutput(os.Stderr)
		s.logFile.Close()
		s.logFile = nil
		s.logDir = ""
	}
}
