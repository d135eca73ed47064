// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package logger is the structured, leveled logger shared by every
// msgauth verification and mutation path. Each entry is one JSON object
// or one key=value text line; fields carry AIDs, purposes, envelope ids,
// and error kinds — never private keys, full signatures, or ciphertext.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the level's wire name.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a configuration string ("debug".."error", any case) to
// its Level, defaulting to InfoLevel for anything unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Format selects the entry encoding.
type Format int

const (
	// FormatJSON emits one JSON object per entry.
	FormatJSON Format = iota
	// FormatText emits one key=value line per entry, for local runs.
	FormatText
)

// ParseFormat maps a configuration string to a Format, defaulting to
// JSON.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "text") {
		return FormatText
	}
	return FormatJSON
}

// Field is one structured key/value pair on a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an integer field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Bool creates a boolean field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Any creates a field with any value.
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Error creates an error field from err's message. Callers must not
// route key material or full signatures through error strings.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// AID tags an entry with the identifier it concerns. AIDs encode only
// public key material, so they are always safe to log.
func AID(aid string) Field { return Field{Key: "aid", Value: aid} }

// Purpose tags an entry with the operation purpose being authenticated.
func Purpose(purpose string) Field { return Field{Key: "purpose", Value: purpose} }

// Kind tags an entry with a rejection's error kind, the same label the
// verification metrics use.
func Kind(kind string) Field { return Field{Key: "kind", Value: kind} }

// EnvelopeID tags an entry with an envelope's SAID.
func EnvelopeID(id string) Field { return Field{Key: "envelopeId", Value: id} }

// Logger is the leveled, structured logging interface the rest of
// msgauth programs against.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	With(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
}

// StructuredLogger writes one encoded entry per call to an io.Writer.
type StructuredLogger struct {
	mu     sync.RWMutex
	level  Level
	format Format
	output io.Writer
	base   []Field
}

// NewLogger returns a StructuredLogger writing to output at the given
// level and format.
func NewLogger(output io.Writer, level Level, format Format) *StructuredLogger {
	return &StructuredLogger{level: level, format: format, output: output}
}

// NewDefaultLogger builds a logger from the MSGAUTH_LOG_LEVEL and
// MSGAUTH_LOG_FORMAT environment variables, writing JSON to stdout at
// info level when neither is set.
func NewDefaultLogger() *StructuredLogger {
	return NewLogger(os.Stdout,
		ParseLevel(os.Getenv("MSGAUTH_LOG_LEVEL")),
		ParseFormat(os.Getenv("MSGAUTH_LOG_FORMAT")))
}

// Debug logs a debug level message.
func (l *StructuredLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }

// Info logs an info level message.
func (l *StructuredLogger) Info(msg string, fields ...Field) { l.log(InfoLevel, msg, fields...) }

// Warn logs a warning level message.
func (l *StructuredLogger) Warn(msg string, fields ...Field) { l.log(WarnLevel, msg, fields...) }

// Error logs an error level message.
func (l *StructuredLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }

// Fatal logs a fatal level message and exits.
func (l *StructuredLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields...)
	os.Exit(1)
}

// With returns a logger that stamps fields onto every entry, for
// scoping a worker or subscription to its AID once instead of on every
// call.
func (l *StructuredLogger) With(fields ...Field) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	base := make([]Field, len(l.base)+len(fields))
	copy(base, l.base)
	copy(base[len(l.base):], fields)

	return &StructuredLogger{
		level:  l.level,
		format: l.format,
		output: l.output,
		base:   base,
	}
}

// SetLevel sets the minimum level an entry must meet to be written.
func (l *StructuredLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current minimum level.
func (l *StructuredLogger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *StructuredLogger) log(level Level, msg string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}

	if l.format == FormatText {
		l.writeText(level, msg, fields)
		return
	}
	l.writeJSON(level, msg, fields)
}

func (l *StructuredLogger) writeJSON(level Level, msg string, fields []Field) {
	entry := make(map[string]interface{}, len(l.base)+len(fields)+3)
	entry["timestamp"] = time.Now().Format(time.RFC3339)
	entry["level"] = level.String()
	entry["message"] = msg
	for _, f := range l.base {
		entry[f.Key] = f.Value
	}
	for _, f := range fields {
		entry[f.Key] = f.Value
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.output, `{"level":"ERROR","message":"failed to marshal log entry","error":%q}`+"\n", err.Error())
		return
	}
	fmt.Fprintf(l.output, "%s\n", data)
}

func (l *StructuredLogger) writeText(level Level, msg string, fields []Field) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %q", time.Now().Format(time.RFC3339), level.String(), msg)

	merged := make(map[string]interface{}, len(l.base)+len(fields))
	for _, f := range l.base {
		merged[f.Key] = f.Value
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, merged[k])
	}

	fmt.Fprintln(l.output, b.String())
}

// defaultLogger is the process-wide logger the package-level functions
// write through.
var defaultLogger = NewDefaultLogger()

// SetDefaultLogger replaces the process-wide default logger, typically
// from a cmd entry point once the logging configuration is loaded.
func SetDefaultLogger(logger *StructuredLogger) {
	if logger != nil {
		defaultLogger = logger
	}
}

// GetDefaultLogger returns the process-wide default logger.
func GetDefaultLogger() *StructuredLogger {
	return defaultLogger
}

// Debug logs a debug message through the default logger.
func Debug(msg string, fields ...Field) {
	defaultLogger.Debug(msg, fields...)
}

// Info logs an info message through the default logger.
func Info(msg string, fields ...Field) {
	defaultLogger.Info(msg, fields...)
}

// Warn logs a warning message through the default logger.
func Warn(msg string, fields ...Field) {
	defaultLogger.Warn(msg, fields...)
}

// ErrorMsg logs an error message through the default logger. Named to
// keep Error free for the field constructor.
func ErrorMsg(msg string, fields ...Field) {
	defaultLogger.Error(msg, fields...)
}

// Fatal logs a fatal message through the default logger and exits.
func Fatal(msg string, fields ...Field) {
	defaultLogger.Fatal(msg, fields...)
}
