// Package errors provides the structured error categories from spec §7:
// Capacity, Validation, Risk, Venue, Fatal. Grounded on
// internal/common/errors/errors.go's TradSysError (ErrorCode enum, a struct
// carrying code/message/cause/timestamp, New/Wrap/Is/As helpers) but pared
// down to what the hot path needs: no caller-location capture (runtime.Caller
// is itself a non-trivial allocation-adjacent call unsuitable for a function
// that may run on the sub-microsecond path) and no JSON tags (these errors
// are surfaced through typed results and telemetry counters, not serialized
// API responses, per spec §7's propagation policy).
package errors

import (
	"errors"
	"fmt"
)

// Category is the coarse error kind from spec §7.
type Category string

const (
	Capacity   Category = "CAPACITY"
	Validation Category = "VALIDATION"
	Risk       Category = "RISK"
	Venue      Category = "VENUE"
	Fatal      Category = "FATAL"
)

// Code identifies a specific error within a category.
type Code string

const (
	// Capacity
	CodeRingFull      Code = "RING_FULL"
	CodePoolExhausted Code = "POOL_EXHAUSTED"
	CodeSlotTableFull Code = "SLOT_TABLE_FULL"

	// Validation
	CodeInvalidOrder       Code = "INVALID_ORDER"
	CodeInvalidTick        Code = "INVALID_TICK"
	CodeBadChecksum        Code = "BAD_CHECKSUM"
	CodeDuplicateSequence  Code = "DUPLICATE_SEQUENCE"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeOrderNotFound      Code = "ORDER_NOT_FOUND"
	CodeDuplicateOrderID   Code = "DUPLICATE_ORDER_ID"

	// Risk
	CodeWarningIssued  Code = "WARNING_ISSUED"
	CodePositionReduce Code = "POSITION_REDUCE"
	CodeTradeRejected  Code = "TRADE_REJECTED"
	CodeEmergencyHalt  Code = "EMERGENCY_HALT"

	// Venue
	CodeVenueReject     Code = "VENUE_REJECT"
	CodeVenueTimeout    Code = "VENUE_TIMEOUT"
	CodeVenueDisconnect Code = "VENUE_DISCONNECT"

	// Fatal
	CodeCalibrationFailed Code = "CALIBRATION_FAILED"
	CodePoolInitFailed    Code = "POOL_INIT_FAILED"
)

// EngineError is a structured error carrying a category, a specific code,
// and an optional cause.
type EngineError struct {
	Category Category
	Code     Code
	Message  string
	Cause    error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s/%s: %s (cause: %v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s/%s: %s", e.Category, e.Code, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// New constructs an EngineError.
func New(cat Category, code Code, message string) *EngineError {
	return &EngineError{Category: cat, Code: code, Message: message}
}

// Newf constructs an EngineError with a formatted message.
func Newf(cat Category, code Code, format string, args ...interface{}) *EngineError {
	return New(cat, code, fmt.Sprintf(format, args...))
}

// Wrap attaches cause to a new EngineError.
func Wrap(cause error, cat Category, code Code, message string) *EngineError {
	return &EngineError{Category: cat, Code: code, Message: message, Cause: cause}
}

// Is reports whether err is an EngineError with the given code.
func Is(err error, code Code) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// CategoryOf extracts the category from err, or "" if err is not an
// EngineError.
func CategoryOf(err error) Category {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ""
}
