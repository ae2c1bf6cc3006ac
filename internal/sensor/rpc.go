// Package sensor wraps the opaque FPMCU wire protocol in a typed, synchronous
// RPC surface (component A of the fingerprint coordination service) and the
// concrete driver state machine built on top of it (component B).
package sensor

import (
	"context"
	"fmt"
	"time"

	"fpauthd/internal/driver"
)

// Mode is the FPMCU's mode bitmask, written with fp_mode.
type Mode uint32

const (
	ModeReset        Mode = 1 << 0
	ModeResetSensor   Mode = 1 << 1
	ModeEnrollSession Mode = 1 << 2
	ModeEnrollImage   Mode = 1 << 3
	ModeMatch         Mode = 1 << 4
)

func (m Mode) String() string {
	switch m {
	case ModeReset:
		return "reset"
	case ModeResetSensor:
		return "reset_sensor"
	case ModeEnrollSession:
		return "enroll_session"
	case ModeEnrollSession | ModeEnrollImage:
		return "enroll_session|enroll_image"
	case ModeMatch:
		return "match"
	default:
		return fmt.Sprintf("mode(0x%x)", uint32(m))
	}
}

// ProtocolInfo is the result of get_protocol_info.
type ProtocolInfo struct {
	MaxReadSize  uint32
	MaxWriteSize uint32
	Version      uint32
}

// EncryptionStatus is fp_get_encryption_status's reply.
type EncryptionStatus struct {
	SeedSet bool
}

// EnrollError classifies the error field of an Enroll fingerprint event.
type EnrollError int

const (
	EnrollErrorNone EnrollError = iota
	EnrollErrorLowQuality
	EnrollErrorGeneric
)

// MatchResultCode classifies the outcome field of a Match fingerprint event.
type MatchResultCode int

const (
	MatchResultOK MatchResultCode = iota
	MatchResultLowQuality
	MatchResultOther
)

// EventKind distinguishes the two event families the MCU can report.
type EventKind int

const (
	EventKindFingerprint EventKind = iota
	EventKindHostEvent
)

// HostEventKind enumerates the host-event payloads the driver understands.
type HostEventKind int

const (
	HostEventInterfaceReady HostEventKind = iota
	HostEventOther
)

// FingerprintEvent is the payload of an EventKindFingerprint event. Exactly
// one of the Enroll* or Match* fields is meaningful, selected by IsEnroll.
type FingerprintEvent struct {
	IsEnroll bool

	// Enroll payload
	EnrollPercent uint8
	EnrollError   EnrollError

	// Match payload
	Matched      bool
	MatchSlot    int
	MatchUpdated bool
	MatchResult  MatchResultCode
}

// Event is a single item read off the MCU's event-wait channel.
type Event struct {
	Kind        EventKind
	Fingerprint FingerprintEvent
	HostEvent   HostEventKind
}

// RPC is the synchronous, strongly-typed surface over the FPMCU device file.
// WaitEvent is the only call expected to block; every other method is short
// and non-blocking, failing with the I/O error propagated unchanged.
type RPC interface {
	GetProtocolInfo(ctx context.Context) (ProtocolInfo, error)
	FPInfo(ctx context.Context) (driver.SensorInfo, error)
	GetMode(ctx context.Context) (Mode, error)
	FPMode(ctx context.Context, mode Mode) error
	FPSetSeed(ctx context.Context, seed [32]byte) error
	FPSetContext(ctx context.Context, context [32]byte) error
	FPGetEncryptionStatus(ctx context.Context) (EncryptionStatus, error)
	FPUploadTemplate(ctx context.Context, slot int, template []byte) error
	FPDownloadTemplate(ctx context.Context, slot int) ([]byte, error)
	ECGetUptime(ctx context.Context) (time.Duration, error)
	TemplateValidCount(ctx context.Context) (uint32, error)
	// WaitEvent blocks until the device reports an event whose Kind is in
	// accepted, or ctx is cancelled.
	WaitEvent(ctx context.Context, accepted ...EventKind) (Event, error)
	// Close releases the underlying device handle.
	Close() error
}
