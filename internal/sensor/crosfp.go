package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"log/slog"

	"fpauthd/internal/driver"
)

const seedSettleDelay = 1350 * time.Millisecond
const contextSettleDelay = 10 * time.Millisecond

// CrosFP is the driver state machine (§4.B) sequencing a single shared FPMCU
// through Reset / EnrollSession / Match / ResetSensor modes. A CrosFP is
// owned exclusively by one caller at a time; the coordinator enforces that
// by only ever letting the head-of-queue worker touch it.
type CrosFP struct {
	rpc    RPC
	logger *slog.Logger

	seed    [32]byte
	context [32]byte

	protocol ProtocolInfo
	info     driver.SensorInfo

	loadedHashes []uint64 // loadedTemplatesHashes, one per resident slot
}

// Open performs §4.B's OpenAndInit: resets the sensor, reads protocol and
// sensor info, and returns a driver with no residency beliefs.
func Open(ctx context.Context, rpc RPC, seed, fpContext [32]byte, logger *slog.Logger) (*CrosFP, error) {
	if err := rpc.FPMode(ctx, ModeReset); err != nil {
		return nil, fmt.Errorf("open_and_init: fp_mode(reset): %w", err)
	}
	if err := rpc.FPMode(ctx, ModeResetSensor); err != nil {
		return nil, fmt.Errorf("open_and_init: fp_mode(reset_sensor): %w", err)
	}

	protocol, err := rpc.GetProtocolInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("open_and_init: get_protocol_info: %w", err)
	}
	info, err := rpc.FPInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("open_and_init: fp_info: %w", err)
	}

	return &CrosFP{
		rpc:      rpc,
		logger:   logger,
		seed:     seed,
		context:  fpContext,
		protocol: protocol,
		info:     info,
	}, nil
}

// GetMaxTemplates returns the sensor's advertised template capacity.
func (d *CrosFP) GetMaxTemplates() uint32 { return d.info.TemplateMax }

// Reset drives the MCU back to Reset mode and drops our residency belief,
// since a reset can leave actual resident slots in an unknown state. Used by
// the coordinator on operation failure or watchdog timeout (§5, §7).
func (d *CrosFP) Reset(ctx context.Context) error {
	d.loadedHashes = nil
	if err := d.rpc.FPMode(ctx, ModeReset); err != nil {
		return fmt.Errorf("reset: fp_mode(reset): %w", err)
	}
	return nil
}

// Info returns the immutable sensor description read at open time.
func (d *CrosFP) Info() driver.SensorInfo { return d.info }

func hash64(template []byte) uint64 {
	return xxhash.Sum64(template)
}

// ensureSeedIsSet implements §4.B.1's EnsureSeedIsSet.
func (d *CrosFP) ensureSeedIsSet(ctx context.Context) error {
	uptime, err := d.rpc.ECGetUptime(ctx)
	if err != nil {
		return fmt.Errorf("ensure_seed_is_set: ec_get_uptime: %w", err)
	}
	if uptime < seedSettleDelay {
		select {
		case <-time.After(seedSettleDelay - uptime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	status, err := d.rpc.FPGetEncryptionStatus(ctx)
	if err != nil {
		return fmt.Errorf("ensure_seed_is_set: fp_get_encryption_status: %w", err)
	}
	if status.SeedSet {
		return nil
	}

	if err := d.rpc.FPSetSeed(ctx, d.seed); err != nil {
		return fmt.Errorf("ensure_seed_is_set: fp_set_seed: %w", err)
	}
	d.loadedHashes = nil
	return nil
}

// setContext implements §4.B.1's SetContext.
func (d *CrosFP) setContext(ctx context.Context) error {
	if err := d.rpc.FPSetContext(ctx, d.context); err != nil {
		return fmt.Errorf("set_context: fp_set_context: %w", err)
	}
	d.loadedHashes = nil
	return nil
}

// checkIfTemplatesGotCleared implements §4.B.1's CheckIfTemplatesGotCleared.
// It panics on an unreconcilable residency desync: continuing risks
// authenticating the wrong user.
func (d *CrosFP) checkIfTemplatesGotCleared(ctx context.Context) error {
	valid, err := d.rpc.TemplateValidCount(ctx)
	if err != nil {
		return fmt.Errorf("check_if_templates_got_cleared: %w", err)
	}
	switch {
	case int(valid) == len(d.loadedHashes):
		return nil
	case valid == 0:
		d.loadedHashes = nil
		return nil
	default:
		panic(fmt.Sprintf("sensor: template residency desync: mcu reports %d valid templates, driver tracked %d", valid, len(d.loadedHashes)))
	}
}

// StartOrContinueEnroll implements §4.B.2.
func (d *CrosFP) StartOrContinueEnroll(ctx context.Context) (driver.EnrollStepResult, error) {
	if err := d.ensureSeedIsSet(ctx); err != nil {
		return driver.EnrollStepResult{}, err
	}
	if err := d.checkIfTemplatesGotCleared(ctx); err != nil {
		return driver.EnrollStepResult{}, err
	}

	if uint32(len(d.loadedHashes)) >= d.info.TemplateMax {
		if err := d.setContext(ctx); err != nil {
			return driver.EnrollStepResult{}, err
		}
	} else if len(d.loadedHashes) == 0 {
		mode, err := d.rpc.GetMode(ctx)
		if err != nil {
			return driver.EnrollStepResult{}, fmt.Errorf("start_or_continue_enroll: get_mode: %w", err)
		}
		switch mode {
		case ModeEnrollSession, ModeEnrollSession | ModeEnrollImage:
			// leave context alone
		case ModeReset:
			if err := d.setContext(ctx); err != nil {
				return driver.EnrollStepResult{}, err
			}
		default:
			panic(fmt.Sprintf("sensor: unexpected mode %s at start of enroll", mode))
		}
	}

	if err := d.rpc.FPMode(ctx, ModeEnrollSession|ModeEnrollImage); err != nil {
		return driver.EnrollStepResult{}, fmt.Errorf("start_or_continue_enroll: fp_mode: %w", err)
	}

	ev, err := d.rpc.WaitEvent(ctx, EventKindFingerprint)
	if err != nil {
		return driver.EnrollStepResult{}, fmt.Errorf("start_or_continue_enroll: wait_event: %w", err)
	}
	if !ev.Fingerprint.IsEnroll {
		panic("sensor: expected enroll fingerprint event, got match event")
	}

	switch ev.Fingerprint.EnrollError {
	case EnrollErrorLowQuality:
		return driver.EnrollStepResult{}, driver.ErrLowQuality
	case EnrollErrorGeneric:
		return driver.EnrollStepResult{}, driver.ErrGenericEnroll
	}

	if ev.Fingerprint.EnrollPercent == 100 {
		slot := len(d.loadedHashes)
		template, err := d.rpc.FPDownloadTemplate(ctx, slot)
		if err != nil {
			return driver.EnrollStepResult{}, fmt.Errorf("start_or_continue_enroll: fp_download_template: %w", err)
		}
		d.loadedHashes = append(d.loadedHashes, hash64(template))
		return driver.EnrollStepResult{Status: driver.EnrollComplete, Template: template}, nil
	}

	return driver.EnrollStepResult{Status: driver.EnrollInProgress, Percent: ev.Fingerprint.EnrollPercent}, nil
}

// MatchTemplates implements §4.B.3.
func (d *CrosFP) MatchTemplates(ctx context.Context, templates [][]byte) (driver.MatchOutcome, error) {
	hashes := make([]uint64, len(templates))
	for i, t := range templates {
		hashes[i] = hash64(t)
	}

	if err := d.checkIfTemplatesGotCleared(ctx); err != nil {
		return driver.MatchOutcome{}, err
	}

	for {
		if err := d.ensureSeedIsSet(ctx); err != nil {
			return driver.MatchOutcome{}, err
		}

		if !sameSet(hashes, d.loadedHashes) {
			if err := d.rpc.FPMode(ctx, ModeReset); err != nil {
				return driver.MatchOutcome{}, fmt.Errorf("match_templates: fp_mode(reset): %w", err)
			}
			if err := d.setContext(ctx); err != nil {
				return driver.MatchOutcome{}, err
			}
			select {
			case <-time.After(contextSettleDelay):
			case <-ctx.Done():
				return driver.MatchOutcome{}, ctx.Err()
			}
			for slot, t := range templates {
				if err := d.rpc.FPUploadTemplate(ctx, slot, t); err != nil {
					return driver.MatchOutcome{}, fmt.Errorf("match_templates: fp_upload_template(%d): %w", slot, err)
				}
			}
			d.loadedHashes = append([]uint64(nil), hashes...)
		}

		if err := d.rpc.FPMode(ctx, ModeMatch); err != nil {
			return driver.MatchOutcome{}, fmt.Errorf("match_templates: fp_mode(match): %w", err)
		}

		ev, err := d.rpc.WaitEvent(ctx, EventKindFingerprint, EventKindHostEvent)
		if err != nil {
			return driver.MatchOutcome{}, fmt.Errorf("match_templates: wait_event: %w", err)
		}
		if ev.Kind == EventKindHostEvent {
			if ev.HostEvent != HostEventInterfaceReady {
				panic(fmt.Sprintf("sensor: unexpected host event %d during match", ev.HostEvent))
			}
			continue
		}
		return d.decodeMatchEvent(ctx, ev.Fingerprint, hashes)
	}
}

func (d *CrosFP) decodeMatchEvent(ctx context.Context, fe FingerprintEvent, hashes []uint64) (driver.MatchOutcome, error) {
	if fe.IsEnroll {
		panic("sensor: expected match fingerprint event, got enroll event")
	}

	if !fe.Matched {
		switch fe.MatchResult {
		case MatchResultOK:
			return driver.MatchOutcome{Matched: false, NoMatchReason: driver.NoMatchClean}, nil
		case MatchResultLowQuality:
			return driver.MatchOutcome{Matched: false, NoMatchReason: driver.NoMatchLowQuality}, nil
		default:
			return driver.MatchOutcome{Matched: false, NoMatchReason: driver.NoMatchOther}, nil
		}
	}

	slotHash := d.loadedHashes[fe.MatchSlot]
	inputIndex := lowestIndexOf(hashes, slotHash)

	outcome := driver.MatchOutcome{Matched: true, InputIndex: inputIndex}
	if fe.MatchUpdated {
		template, err := d.rpc.FPDownloadTemplate(ctx, fe.MatchSlot)
		if err != nil {
			return driver.MatchOutcome{}, fmt.Errorf("match_templates: fp_download_template(updated): %w", err)
		}
		d.loadedHashes[fe.MatchSlot] = hash64(template)
		outcome.UpdatedTemplate = template
	}
	return outcome, nil
}

// lowestIndexOf returns the lowest index i such that hashes[i] == target,
// the documented tie-break for duplicate/colliding input templates.
func lowestIndexOf(hashes []uint64, target uint64) int {
	for i, h := range hashes {
		if h == target {
			return i
		}
	}
	panic("sensor: matched slot hash not found among input hashes")
}

func sameSet(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[uint64]int, len(a))
	for _, h := range a {
		seen[h]++
	}
	for _, h := range b {
		seen[h]--
		if seen[h] < 0 {
			return false
		}
	}
	return true
}
