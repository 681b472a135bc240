// Package mlog provides logging with log levels and fields.
//
// Each log level has a function to log with and without error. Each such
// function takes a varargs list of fields (key value pairs) to log. Variable
// data should be in fields. Logging strings themselves should be constant, for
// easier log processing.
//
// Log levels can be configured per originating package. The configuration is
// application-global, so each Log instance uses the same log levels.
package mlog

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

type Level int

const (
	// Printed regardless of configured log level.
	LevelPrint Level = 0
	LevelFatal Level = 1
	LevelError Level = 2
	LevelInfo  Level = 3
	LevelDebug Level = 4
	LevelTrace Level = 5
)

var LevelStrings = map[Level]string{
	LevelPrint: "print",
	LevelFatal: "fatal",
	LevelError: "error",
	LevelInfo:  "info",
	LevelDebug: "debug",
	LevelTrace: "trace",
}

var Levels = map[string]Level{
	"print": LevelPrint,
	"fatal": LevelFatal,
	"error": LevelError,
	"info":  LevelInfo,
	"debug": LevelDebug,
	"trace": LevelTrace,
}

// Holds a map[string]Level, mapping a package (field pkg in logs) to a log
// level. The empty string is the default/fallback log level.
var config atomic.Value

func init() {
	config.Store(map[string]Level{"": LevelError})
}

// SetConfig atomically sets the new log levels used by all Log instances.
func SetConfig(c map[string]Level) {
	config.Store(c)
}

// Pair is a field/value pair, for use in logged lines.
type Pair struct {
	key   string
	value any
}

// Field is a shorthand for making a Pair.
func Field(k string, v any) Pair {
	return Pair{k, v}
}

// Log is an instance potentially with its own field/value pairs added to any
// logging output.
type Log struct {
	fields []Pair
}

// New returns a new Log instance. Each log invocation adds field "pkg".
func New(pkg string) *Log {
	return &Log{
		fields: []Pair{{"pkg", pkg}},
	}
}

// Fields returns a copy of the logger with fields added. Each logged line
// includes these fields.
func (l *Log) Fields(fields ...Pair) *Log {
	nl := *l
	nl.fields = append(fields, nl.fields...)
	return &nl
}

func (l *Log) Fatal(text string, fields ...Pair) { l.Fatalx(text, nil, fields...) }
func (l *Log) Fatalx(text string, err error, fields ...Pair) {
	l.plog(LevelFatal, err, text, fields...)
	os.Exit(1)
}

func (l *Log) Print(text string, fields ...Pair) {
	l.logx(LevelPrint, nil, text, fields...)
}
func (l *Log) Printx(text string, err error, fields ...Pair) {
	l.logx(LevelPrint, err, text, fields...)
}

func (l *Log) Debug(text string, fields ...Pair) {
	l.logx(LevelDebug, nil, text, fields...)
}
func (l *Log) Debugx(text string, err error, fields ...Pair) {
	l.logx(LevelDebug, err, text, fields...)
}

func (l *Log) Info(text string, fields ...Pair) { l.logx(LevelInfo, nil, text, fields...) }
func (l *Log) Infox(text string, err error, fields ...Pair) {
	l.logx(LevelInfo, err, text, fields...)
}

func (l *Log) Error(text string, fields ...Pair) {
	l.logx(LevelError, nil, text, fields...)
}
func (l *Log) Errorx(text string, err error, fields ...Pair) {
	l.logx(LevelError, err, text, fields...)
}

// Check logs an error if err is not nil. Convenient for logging errors of
// cleanup calls that are not reason to fail an operation.
func (l *Log) Check(err error, text string, fields ...Pair) {
	if err != nil {
		l.Errorx(text, err, fields...)
	}
}

func (l *Log) logx(level Level, err error, text string, fields ...Pair) {
	if !l.match(level) {
		return
	}
	l.plog(level, err, text, fields...)
}

// escape logfmt string if required, otherwise return original string.
func logfmtValue(s string) string {
	for _, c := range s {
		if c == '"' || c == '\\' || c <= ' ' || c == '=' || c >= 0x7f {
			return fmt.Sprintf("%q", s)
		}
	}
	return s
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	switch r := v.(type) {
	case string:
		return r
	case int:
		return strconv.Itoa(r)
	case int64:
		return strconv.FormatInt(r, 10)
	case bool:
		if r {
			return "true"
		}
		return "false"
	case time.Time:
		return r.Format(time.RFC3339)
	case []string:
		return "[" + strings.Join(r, ",") + "]"
	case error:
		return r.Error()
	}
	if r, ok := v.(fmt.Stringer); ok {
		return r.String()
	}
	return fmt.Sprintf("%v", v)
}

func (l *Log) plog(level Level, err error, text string, fields ...Pair) {
	fields = append(l.fields, fields...)
	// Build up a buffer and do a single write, so partial log lines don't interleave.
	b := &bytes.Buffer{}
	fmt.Fprintf(b, "l=%s m=%s", LevelStrings[level], logfmtValue(text))
	if err != nil {
		fmt.Fprintf(b, " err=%s", logfmtValue(err.Error()))
	}
	for _, kv := range fields {
		fmt.Fprintf(b, " %s=%s", kv.key, logfmtValue(stringValue(kv.value)))
	}
	b.WriteString("\n")
	os.Stderr.Write(b.Bytes())
}

func (l *Log) match(level Level) bool {
	if level == LevelPrint || level == LevelFatal {
		return true
	}

	cl := config.Load().(map[string]Level)

	for _, kv := range l.fields {
		if kv.key != "pkg" {
			continue
		}
		pkg, ok := kv.value.(string)
		if !ok {
			continue
		}
		if v, ok := cl[pkg]; ok {
			return v >= level
		}
	}
	v, ok := cl[""]
	return ok && v >= level
}
