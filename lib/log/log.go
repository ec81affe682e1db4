// Package log is the project-wide logger: a zap SugaredLogger whose messages
// are prefixed with the calling file.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = zap.NewNop().Sugar()

func getCallerFileName(withLine bool) string {
	_, filename, line, ok := runtime.Caller(2)
	if !ok {
		return "?"
	}
	// keep the package directory so lib/lockin and lib/synth stay apart
	name := filepath.Join(filepath.Base(filepath.Dir(filename)), filepath.Base(filename))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if withLine {
		return fmt.Sprint(name, "@", line)
	}
	return name
}

func Printf(a string, b ...interface{}) {
	logger.Infof(getCallerFileName(false)+": "+a, b...)
}

func Print(a ...interface{}) {
	logger.Info(append([]interface{}{getCallerFileName(false) + ": "}, a...)...)
}

func Debugf(a string, b ...interface{}) {
	logger.Debugf(getCallerFileName(true)+": "+a, b...)
}

func Debug(a ...interface{}) {
	logger.Debug(append([]interface{}{getCallerFileName(true) + ": "}, a...)...)
}

func Warnf(a string, b ...interface{}) {
	logger.Warnf(getCallerFileName(true)+": "+a, b...)
}

func Errorf(a string, b ...interface{}) {
	logger.Errorf(getCallerFileName(true)+": "+a, b...)
}

func Error(a ...interface{}) {
	logger.Error(append([]interface{}{getCallerFileName(true) + ": "}, a...)...)
}

func Fatalf(a string, b ...interface{}) {
	logger.Fatalf(getCallerFileName(true)+": "+a, b...)
}

func Fatal(a ...interface{}) {
	logger.Fatal(append([]interface{}{getCallerFileName(true) + ": "}, a...)...)
}

// Sync flushes buffered entries.
func Sync() error {
	return logger.Sync()
}

// Init replaces the no-op logger with a console logger writing to stderr.
// Until Init is called nothing is logged, which keeps tests quiet.
func Init(verbose bool) {
	// Example: https://stackoverflow.com/questions/50933936/zap-logger-does-not-print-on-console-rather-print-in-the-log-file/50936341
	pe := zap.NewProductionEncoderConfig()
	pe.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(pe)

	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	core := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), level)
	logger = zap.New(core).Sugar()
}
