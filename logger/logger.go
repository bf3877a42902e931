// Package logger provides leveled structured logging for ScanBridge
// components with an in-memory ring buffer and size-based file rotation.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	ERROR LogLevel = iota
	WARN
	INFO
	DEBUG
)

var levelNames = map[LogLevel]string{
	ERROR: "ERROR",
	WARN:  "WARN",
	INFO:  "INFO",
	DEBUG: "DEBUG",
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Context   map[string]interface{}
}

// RotationPolicy defines when and how to rotate log files
type RotationPolicy struct {
	Enabled    bool
	MaxSizeMB  int
	MaxAgeDays int
	MaxFiles   int
}

// Logger provides structured logging with levels
type Logger struct {
	mu              sync.RWMutex
	level           LogLevel
	logDir          string
	currentFile     *os.File
	currentFilePath string
	buffer          []LogEntry
	maxBufferSize   int
	rotationPolicy  RotationPolicy
	consoleOutput   bool
}

// New creates a new Logger instance
func New(level LogLevel, logDir string, maxBufferSize int) *Logger {
	return &Logger{
		level:         level,
		logDir:        logDir,
		buffer:        make([]LogEntry, 0, maxBufferSize),
		maxBufferSize: maxBufferSize,
		consoleOutput: true,
		rotationPolicy: RotationPolicy{
			Enabled:    true,
			MaxSizeMB:  20,
			MaxAgeDays: 7,
			MaxFiles:   5,
		},
	}
}

// SetConsoleOutput enables or disables console output
func (l *Logger) SetConsoleOutput(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consoleOutput = enabled
}

// SetLevel changes the current log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetRotationPolicy configures log rotation
func (l *Logger) SetRotationPolicy(policy RotationPolicy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rotationPolicy = policy
}

// Error logs an error level message
func (l *Logger) Error(msg string, context ...interface{}) {
	l.log(ERROR, msg, context...)
}

// Warn logs a warning level message
func (l *Logger) Warn(msg string, context ...interface{}) {
	l.log(WARN, msg, context...)
}

// Info logs an info level message
func (l *Logger) Info(msg string, context ...interface{}) {
	l.log(INFO, msg, context...)
}

// Debug logs a debug level message
func (l *Logger) Debug(msg string, context ...interface{}) {
	l.log(DEBUG, msg, context...)
}

// log is the internal logging function
func (l *Logger) log(level LogLevel, msg string, context ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.level {
		return
	}

	// Parse key/value context into map
	ctx := make(map[string]interface{})
	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			ctx[key] = context[i+1]
		}
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Context:   ctx,
	}

	// Add to buffer (circular)
	if len(l.buffer) >= l.maxBufferSize {
		l.buffer = l.buffer[1:]
	}
	l.buffer = append(l.buffer, entry)

	if l.consoleOutput {
		fmt.Println(formatLogEntry(entry))
	}

	l.writeToFile(entry)
}

// writeToFile writes a log entry to the current log file
func (l *Logger) writeToFile(entry LogEntry) {
	if l.logDir == "" {
		return
	}
	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		return
	}

	if l.currentFile == nil {
		filename := filepath.Join(l.logDir, "bridge.log")
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		l.currentFile = f
		l.currentFilePath = filename
	}

	line := formatLogEntry(entry)
	l.currentFile.WriteString(line + "\n")

	if l.shouldRotate() {
		l.rotate()
	}
}

// formatLogEntry formats a log entry for file output
func formatLogEntry(entry LogEntry) string {
	timestamp := entry.Timestamp.Format("2006-01-02T15:04:05-07:00")
	level := levelNames[entry.Level]

	line := fmt.Sprintf("%s [%s] %s", timestamp, level, entry.Message)

	for k, v := range entry.Context {
		line += fmt.Sprintf(" %s=%v", k, v)
	}

	return line
}

// shouldRotate checks if the current log file should be rotated
func (l *Logger) shouldRotate() bool {
	if !l.rotationPolicy.Enabled || l.currentFile == nil {
		return false
	}

	if l.rotationPolicy.MaxSizeMB > 0 {
		if stat, err := l.currentFile.Stat(); err == nil {
			maxBytes := int64(l.rotationPolicy.MaxSizeMB) * 1024 * 1024
			if stat.Size() >= maxBytes {
				return true
			}
		}
	}

	return false
}

// rotate closes the current log file, renames it with a timestamp, and starts a new one
func (l *Logger) rotate() {
	if l.currentFile != nil {
		l.currentFile.Close()
		l.currentFile = nil

		if l.currentFilePath != "" {
			timestamp := time.Now().Format("20060102_150405")
			backupPath := filepath.Join(l.logDir, fmt.Sprintf("bridge_%s.log", timestamp))
			os.Rename(l.currentFilePath, backupPath)
		}
	}

	l.cleanOldFiles()
}

// cleanOldFiles removes rotated log files older than MaxAgeDays and enforces MaxFiles
func (l *Logger) cleanOldFiles() {
	if l.rotationPolicy.MaxAgeDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -l.rotationPolicy.MaxAgeDays)

	files, err := filepath.Glob(filepath.Join(l.logDir, "bridge_*.log"))
	if err != nil {
		return
	}

	for _, file := range files {
		if stat, err := os.Stat(file); err == nil {
			if stat.ModTime().Before(cutoff) {
				os.Remove(file)
			}
		}
	}

	if l.rotationPolicy.MaxFiles > 0 && len(files) > l.rotationPolicy.MaxFiles {
		for i := 0; i < len(files)-l.rotationPolicy.MaxFiles; i++ {
			os.Remove(files[i])
		}
	}
}

// GetBuffer returns a copy of the in-memory log buffer
func (l *Logger) GetBuffer() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	buffer := make([]LogEntry, len(l.buffer))
	copy(buffer, l.buffer)
	return buffer
}

// Copy writes all buffered logs to a writer
func (l *Logger) Copy(w io.Writer) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, entry := range l.buffer {
		if _, err := fmt.Fprintln(w, formatLogEntry(entry)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the current log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentFile != nil {
		err := l.currentFile.Close()
		l.currentFile = nil
		return err
	}
	return nil
}

// LevelFromString converts a string to a LogLevel
func LevelFromString(s string) LogLevel {
	switch s {
	case "ERROR", "error":
		return ERROR
	case "WARN", "warn":
		return WARN
	case "INFO", "info":
		return INFO
	case "DEBUG", "debug":
		return DEBUG
	default:
		return INFO
	}
}

// LevelToString converts a LogLevel to a string
func LevelToString(level LogLevel) string {
	return levelNames[level]
}
