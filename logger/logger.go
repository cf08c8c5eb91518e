// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logger wires together the per-subsystem loggers used across the
// node: the blockchain cache, the transaction pool, the protocol state
// machine, the peer manager, and the database adapter each get their own
// tag so operators can raise or lower verbosity independently.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jrick/logrotate/rotator"

	"github.com/go-cnote/cnoted/logs"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	if initiated {
		os.Stdout.Write(p)
		LogRotator.Write(p)
	}
	return len(p), nil
}

// errLogWriter implements an io.Writer that outputs to both standard output
// and the write-end pipe of an initialized error log rotator.
type errLogWriter struct{}

func (errLogWriter) Write(p []byte) (n int, err error) {
	if initiated {
		os.Stdout.Write(p)
		ErrLogRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem. A single backend logger is created and all
// subsystem loggers created from it write to the backend. When adding a new
// subsystem, add the logger variable here and to subsystemLoggers.
//
// Loggers can not be used before the log rotator has been initialized with
// a log file. This must be performed early during application startup by
// calling InitLogRotators.
var (
	backendLog = logs.NewBackend([]*logs.BackendWriter{
		logs.NewAllLevelsBackendWriter(logWriter{}),
		logs.NewErrorBackendWriter(errLogWriter{}),
	})

	// LogRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	LogRotator *rotator.Rotator
	// ErrLogRotator mirrors LogRotator but only ever receives Error and
	// more severe records.
	ErrLogRotator *rotator.Rotator

	cnfgLog = backendLog.Logger("CNFG")
	cnodLog = backendLog.Logger("CNOD")
	chnLog  = backendLog.Logger("CHAN")
	bcchLog = backendLog.Logger("BCCH")
	txplLog = backendLog.Logger("TXPL")
	prtcLog = backendLog.Logger("PRTC")
	peerLog = backendLog.Logger("PEER")
	dbseLog = backendLog.Logger("DBSE")
	cryptLog = backendLog.Logger("CRPT")
	syncLog = backendLog.Logger("SYNC")
	utilLog = backendLog.Logger("UTIL")

	initiated = false
)

// SubsystemTags is an enum of all subsystem tags.
var SubsystemTags = struct {
	CNFG,
	CNOD,
	CHAN,
	BCCH,
	TXPL,
	PRTC,
	PEER,
	DBSE,
	CRPT,
	SYNC,
	UTIL string
}{
	CNFG: "CNFG",
	CNOD: "CNOD",
	CHAN: "CHAN",
	BCCH: "BCCH",
	TXPL: "TXPL",
	PRTC: "PRTC",
	PEER: "PEER",
	DBSE: "DBSE",
	CRPT: "CRPT",
	SYNC: "SYNC",
	UTIL: "UTIL",
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]*logs.Logger{
	SubsystemTags.CNFG: cnfgLog,
	SubsystemTags.CNOD: cnodLog,
	SubsystemTags.CHAN: chnLog,
	SubsystemTags.BCCH: bcchLog,
	SubsystemTags.TXPL: txplLog,
	SubsystemTags.PRTC: prtcLog,
	SubsystemTags.PEER: peerLog,
	SubsystemTags.DBSE: dbseLog,
	SubsystemTags.CRPT: cryptLog,
	SubsystemTags.SYNC: syncLog,
	SubsystemTags.UTIL: utilLog,
}

// InitLogRotators initializes the logging rotators to write logs to
// logFile, errLogFile, creating roll files alongside them. It must be
// called before the package-global log rotator variables are used.
func InitLogRotators(logFile, errLogFile string) {
	initiated = true
	LogRotator = initLogRotator(logFile)
	ErrLogRotator = initLogRotator(errLogFile)
}

func initLogRotator(logFile string) *rotator.Rotator {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %s\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %s\n", err)
		os.Exit(1)
	}
	return r
}

// SetLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, _ := logs.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// Get returns the logger for a specific subsystem.
func Get(tag string) (logger *logs.Logger, ok bool) {
	logger, ok = subsystemLoggers[tag]
	return
}

// ParseAndSetDebugLevels parses the specified debug level string, either a
// single level applied to every subsystem or a comma-separated list of
// SUBSYSTEM=level pairs, and applies it.
func ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", debugLevel)
		}
		SetLogLevels(debugLevel)
		return nil
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]", logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := Get(subsysID); !exists {
			return fmt.Errorf("the specified subsystem [%s] is invalid -- supported subsystems %s",
				subsysID, strings.Join(SupportedSubsystems(), ", "))
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", logLevel)
		}
		SetLogLevel(subsysID, logLevel)
	}
	return nil
}

// SupportedSubsystems returns a sorted slice of the supported subsystem tags.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

func validLogLevel(logLevel string) bool {
	_, ok := logs.LevelFromString(logLevel)
	return ok
}
