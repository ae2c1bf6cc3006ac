// Package fake provides an in-memory sensor.RPC implementation (component H)
// used to exercise the driver state machine and the coordinator without a
// real FPMCU device file.
package fake

import (
	"context"
	"sync"
	"time"

	"fpauthd/internal/driver"
	"fpauthd/internal/sensor"
)

// Clock is the time source the driver reads via ECGetUptime. Tests advance it
// explicitly instead of sleeping, the way the teacher's simulator adapter
// drives timers off an injected interval rather than wall time.
type Clock struct {
	mu  sync.Mutex
	now time.Duration
}

func NewClock(start time.Duration) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// RPC is a fake sensor.RPC backed by in-memory slots, driven by the
// PushEvent and SetValidCount helpers below. It satisfies sensor.RPC.
type RPC struct {
	mu sync.Mutex

	clock *Clock
	info  driver.SensorInfo

	mode       sensor.Mode
	seedSet    bool
	templates  map[int][]byte
	validCount uint32

	events chan sensor.Event
	closed bool
}

// New builds a fake RPC reporting info, with zero templates resident and no
// seed set (mirroring a freshly-reset MCU).
func New(clock *Clock, info driver.SensorInfo) *RPC {
	return &RPC{
		clock:     clock,
		info:      info,
		templates: make(map[int][]byte),
		events:    make(chan sensor.Event, 16),
	}
}

func (r *RPC) GetProtocolInfo(ctx context.Context) (sensor.ProtocolInfo, error) {
	return sensor.ProtocolInfo{MaxReadSize: 4096, MaxWriteSize: 4096, Version: 1}, nil
}

func (r *RPC) FPInfo(ctx context.Context) (driver.SensorInfo, error) {
	return r.info, nil
}

func (r *RPC) GetMode(ctx context.Context) (sensor.Mode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode, nil
}

func (r *RPC) FPMode(ctx context.Context, mode sensor.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mode == sensor.ModeResetSensor {
		// ResetSensor is a transient pulse on real hardware: the MCU reverts
		// to Reset mode once the reset completes.
		r.mode = sensor.ModeReset
		return nil
	}
	r.mode = mode
	return nil
}

func (r *RPC) FPSetSeed(ctx context.Context, seed [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seedSet = true
	return nil
}

func (r *RPC) FPSetContext(ctx context.Context, fpContext [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = make(map[int][]byte)
	r.validCount = 0
	return nil
}

func (r *RPC) FPGetEncryptionStatus(ctx context.Context) (sensor.EncryptionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sensor.EncryptionStatus{SeedSet: r.seedSet}, nil
}

func (r *RPC) FPUploadTemplate(ctx context.Context, slot int, template []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[slot] = append([]byte(nil), template...)
	r.validCount = uint32(len(r.templates))
	return nil
}

func (r *RPC) FPDownloadTemplate(ctx context.Context, slot int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[slot]
	if !ok {
		// An enrolled-but-never-uploaded slot still has real template bytes
		// on actual hardware; fabricate a stable placeholder so callers see
		// a non-empty template the way production code would.
		t = []byte{byte(slot), 0xfe, 0xed}
		r.templates[slot] = t
		r.validCount = uint32(len(r.templates))
	}
	return append([]byte(nil), t...), nil
}

func (r *RPC) ECGetUptime(ctx context.Context) (time.Duration, error) {
	return r.clock.Now(), nil
}

func (r *RPC) TemplateValidCount(ctx context.Context) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validCount, nil
}

// PushEvent queues an event to be returned by the next matching WaitEvent
// call, the fake equivalent of the MCU raising an interrupt.
func (r *RPC) PushEvent(ev sensor.Event) {
	r.events <- ev
}

func (r *RPC) WaitEvent(ctx context.Context, accepted ...sensor.EventKind) (sensor.Event, error) {
	for {
		select {
		case ev := <-r.events:
			for _, k := range accepted {
				if ev.Kind == k {
					return ev, nil
				}
			}
		case <-ctx.Done():
			return sensor.Event{}, ctx.Err()
		}
	}
}

func (r *RPC) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// SetValidCount overrides the reported template_valid counter, used to
// simulate a residency desync detected by checkIfTemplatesGotCleared.
func (r *RPC) SetValidCount(n uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validCount = n
}

// SeedSet reports whether FPSetSeed has been called, for test assertions.
func (r *RPC) SeedSet() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seedSet
}
