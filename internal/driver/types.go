package driver

import (
	"errors"
	"fmt"
)

// ErrLowQuality is returned by Driver.StartOrContinueEnroll, and reported as
// a NoMatchReason by Driver.MatchTemplates, when the MCU judged the scanned
// image too poor to use. It is caller-retriable and never terminates an
// operation by itself.
var ErrLowQuality = errors.New("driver: low quality fingerprint image")

// ErrGenericEnroll is returned by Driver.StartOrContinueEnroll for any
// enroll failure that isn't low image quality.
var ErrGenericEnroll = errors.New("driver: enroll step failed")

// SensorInfo is the immutable sensor description read once at driver open
// time: {template_max, template_size, vendor, product, model, version,
// templates_version}.
type SensorInfo struct {
	TemplateMax      uint32
	TemplateSize     uint32
	Vendor           string
	Product          string
	Model            string
	Version          string
	TemplatesVersion uint32
}

// Key returns the identifier used as the on-disk directory key for a user's
// templates, so templates are never reused across incompatible sensors.
func (s SensorInfo) Key() string {
	return fmt.Sprintf("%s-%s-%s-%s-%d", s.Vendor, s.Product, s.Model, s.Version, s.TemplatesVersion)
}

// EnrollStepStatus discriminates the result of one enroll step.
type EnrollStepStatus int

const (
	EnrollInProgress EnrollStepStatus = iota
	EnrollComplete
)

// EnrollStepResult is returned by StartOrContinueEnroll on success.
type EnrollStepResult struct {
	Status   EnrollStepStatus
	Percent  uint8  // valid when Status == EnrollInProgress
	Template []byte // valid when Status == EnrollComplete
}

// NoMatchReason classifies why MatchTemplates reported no match.
type NoMatchReason int

const (
	NoMatchClean NoMatchReason = iota
	NoMatchLowQuality
	NoMatchOther
)

// MatchOutcome is returned by MatchTemplates on success.
type MatchOutcome struct {
	Matched         bool
	InputIndex      int // valid when Matched
	UpdatedTemplate []byte
	NoMatchReason   NoMatchReason // valid when !Matched
}
