// Package logging provides leveled log output for volumeview. Messages go to
// the standard logger, or to a rotating file when a log file is configured.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
)

// LogConfig selects where log messages go
type LogConfig struct {
	// Logfile is the rotating log file, empty for stderr
	Logfile string `yaml:"logfile" toml:"logfile"`

	// MaxSize is the size in megabytes before a log file is rotated
	MaxSize int `yaml:"maxLogSize" toml:"max_log_size"`

	// MaxAge is the number of days rotated files are kept
	MaxAge int `yaml:"maxLogAge" toml:"max_log_age"`

	// Verbose enables Debug messages
	Verbose bool `yaml:"verbose" toml:"verbose"`
}

var (
	mu      sync.Mutex
	file    *lumberjack.Logger
	verbose bool
)

// SetLogger applies the configuration. A nil config keeps stderr output.
func (c *LogConfig) SetLogger() {
	mu.Lock()
	defer mu.Unlock()

	if c == nil {
		return
	}
	verbose = c.Verbose
	if c.Logfile == "" {
		return
	}

	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	file = &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	log.SetOutput(file)
}

// SetOutput redirects log messages, mostly for tests
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// SetVerbose toggles Debug messages
func SetVerbose(v bool) {
	mu.Lock()
	verbose = v
	mu.Unlock()
}

// Verbose reports whether Debug messages are written
func Verbose() bool {
	mu.Lock()
	defer mu.Unlock()
	return verbose
}

// Debugf writes a message at DEBUG level when verbose mode is on
func Debugf(format string, args ...interface{}) {
	if Verbose() {
		log.Printf(" DEBUG "+format, args...)
	}
}

// Infof writes a message at INFO level
func Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

// Warningf writes a message at WARNING level
func Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

// Errorf writes a message at ERROR level
func Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}

// Criticalf writes a message at CRITICAL level
func Criticalf(format string, args ...interface{}) {
	log.Printf(" CRITICAL "+format, args...)
}

// Shutdown closes the log file, if any, and restores stderr output
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()

	if file == nil {
		return
	}
	log.Printf(" INFO Closing log file...\n")
	file.Close()
	file = nil
	log.SetOutput(os.Stderr)
}
