// Package logging provides leveled log helpers on top of the standard logger,
// optionally writing to a rotating log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/natefinch/lumberjack"
)

// Config controls where log messages go.
type Config struct {
	// Logfile is the path of the rotating log file; empty means stderr
	Logfile string `yaml:"logfile"`

	// MaxSize is the size in megabytes before the log file is rotated
	MaxSize int `yaml:"maxSize"`

	// MaxAge is the number of days rotated files are kept
	MaxAge int `yaml:"maxAge"`

	// Verbose enables debug messages
	Verbose bool `yaml:"-"`
}

var (
	mu      sync.Mutex
	rotator *lumberjack.Logger
	verbose bool
)

// Setup routes log output according to cfg. It can be called again to
// reconfigure; a previously opened log file is closed.
func Setup(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	verbose = cfg.Verbose
	if rotator != nil {
		rotator.Close()
		rotator = nil
	}
	if cfg.Logfile == "" {
		return
	}
	fmt.Printf("Sending log messages to: %s\n", cfg.Logfile)
	rotator = &lumberjack.Logger{
		Filename: cfg.Logfile,
		MaxSize:  cfg.MaxSize, // megabytes
		MaxAge:   cfg.MaxAge,  // days
	}
	log.SetOutput(rotator)
}

// SetOutput sends log messages to w. Tests use it to capture output.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// Shutdown closes the log file, if any.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if rotator != nil {
		log.Printf(" INFO Closing log file...\n")
		rotator.Close()
		rotator = nil
	}
}

// Debugf logs at DEBUG level; messages are dropped unless verbose.
func Debugf(format string, args ...interface{}) {
	mu.Lock()
	v := verbose
	mu.Unlock()
	if v {
		log.Printf(" DEBUG "+format, args...)
	}
}

// Infof logs at INFO level.
func Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

// Warningf logs at WARNING level.
func Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

// Errorf logs at ERROR level.
func Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}
