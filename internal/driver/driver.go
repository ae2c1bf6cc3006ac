// Package driver declares the small capability-set abstraction the
// coordinator programs against (§4.C and §9 "polymorphism over driver
// variants"): a Factory that can test compatibility and open a concrete
// Driver, and the opened Driver's enroll/match operations. This keeps the
// coordinator free of any FPMCU-specific types; fpauthd ships exactly one
// binding (internal/sensor's cros_fp driver).
package driver

import (
	"context"
)

// Driver is the opened-driver capability set: {get_max_templates,
// start_or_continue_enroll, match_templates}.
type Driver interface {
	GetMaxTemplates() uint32
	Info() SensorInfo
	StartOrContinueEnroll(ctx context.Context) (EnrollStepResult, error)
	MatchTemplates(ctx context.Context, templates [][]byte) (MatchOutcome, error)

	// Reset puts the MCU back into Reset mode and drops any residency
	// belief, the failure-atomicity step a worker takes after an error or a
	// watchdog timeout (§5 "Failure atomicity", §7 propagation).
	Reset(ctx context.Context) error
}

// Factory is the pre-open capability set: {is_compatible, open_and_init}.
type Factory interface {
	Name() string
	IsCompatible(ctx context.Context) (bool, error)
	OpenAndInit(ctx context.Context) (Driver, error)
}
