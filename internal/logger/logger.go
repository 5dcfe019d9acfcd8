package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"detectserver/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// InfoFile, WarningFile and ErrorFile are the per-level log file names.
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"

	maxLogSizeMB  = 20
	maxLogBackups = 3
)

// Logger provides leveled logging (info/warning/error) to rotating files and stdout/stderr.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	logDir     string
	files      []*lumberjack.Logger
	mu         sync.Mutex
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(config *config.Config) *Logger {
	if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	return newLogger(config.LogDirectory, os.Stdout, os.Stderr)
}

// NewWithOutput creates a Logger writing files to dir and console output to out.
// Tools and tests use it to keep the console quiet.
func NewWithOutput(dir string, out io.Writer) *Logger {
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}
	return newLogger(dir, out, out)
}

func newLogger(dir string, stdout, stderr io.Writer) *Logger {
	logger := &Logger{
		logDir: dir,
	}

	logger.setupLoggers(stdout, stderr)
	return logger
}

// setupLoggers initializes writers and per-level loggers.
func (l *Logger) setupLoggers(stdout, stderr io.Writer) {
	infoWriter := io.MultiWriter(stdout, l.rotatingFile(InfoFile))
	warningWriter := io.MultiWriter(stdout, l.rotatingFile(WarningFile))
	errorWriter := io.MultiWriter(stderr, l.rotatingFile(ErrorFile))

	l.infoLog = log.New(infoWriter, "INFO    ", log.Ldate|log.Ltime|log.Lshortfile)
	l.warningLog = log.New(warningWriter, "WARNING ", log.Ldate|log.Ltime|log.Lshortfile)
	l.errorLog = log.New(errorWriter, "ERROR   ", log.Ldate|log.Ltime|log.Lshortfile)
}

func (l *Logger) rotatingFile(name string) *lumberjack.Logger {
	file := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, name),
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
	}
	l.files = append(l.files, file)
	return file
}

// Dir returns the directory the log files are written to.
func (l *Logger) Dir() string {
	return l.logDir
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Output(2, fmt.Sprintf(format, v...))
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Output(2, fmt.Sprintf(format, v...))
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Output(2, fmt.Sprintf(format, v...))
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, file := range l.files {
		if filepath.Base(file.Filename) != fileName {
			continue
		}
		if err := file.Close(); err != nil {
			l.errorLog.Printf("Error closing log file %s: %v", fileName, err)
		}
		if err := os.Truncate(file.Filename, 0); err != nil && !os.IsNotExist(err) {
			l.errorLog.Printf("Error truncating log file %s: %v", fileName, err)
			return
		}
		l.infoLog.Printf("Log file %s has been cleared.", fileName)
		return
	}
}

// Close flushes and closes all log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, file := range l.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
