package stash

import (
	"time"

	"github.com/google/uuid"
)

// Logger takes slog-style alternating key/value args.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// Metrics is told about finished uploads and deletes and about every
// consistency violation the service detects.
type Metrics interface {
	// Uploaded is called once per committed upload; deduplicated reports
	// whether the blob already existed.
	Uploaded(size int64, deduplicated bool)

	// Deleted is called once per removed file entry; reclaimed reports
	// whether its blob was erased.
	Deleted(reclaimed bool)

	ConsistencyViolation(kind string)
}

type NopMetrics struct{}

func (NopMetrics) Uploaded(int64, bool)        {}
func (NopMetrics) Deleted(bool)                {}
func (NopMetrics) ConsistencyViolation(string) {}

// Clock stamps entries with their creation time.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator names file and directory entries. Name collision suffixes
// are cut from these IDs, so two calls must never return the same value.
type IDGenerator interface {
	New() string
}

type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
