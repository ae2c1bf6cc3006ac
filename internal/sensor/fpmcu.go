package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"fpauthd/internal/driver"
)

// wire command opcodes for the cros_fp character device. The device speaks a
// simple framed protocol: a one-byte opcode, a big-endian uint16 payload
// length, then the payload; replies mirror the same framing. The exact byte
// layout is treated as an implementation detail of the kernel driver and is
// not part of this service's contract — see §6.4 of the design notes.
const (
	cmdGetProtocolInfo byte = 0x01
	cmdFPInfo          byte = 0x02
	cmdGetMode         byte = 0x03
	cmdFPMode          byte = 0x04
	cmdFPSetSeed       byte = 0x05
	cmdFPSetContext    byte = 0x06
	cmdEncryptionStat  byte = 0x07
	cmdUploadTemplate  byte = 0x08
	cmdDownloadTemplate byte = 0x09
	cmdECUptime        byte = 0x0a
	cmdTemplateValid   byte = 0x0b
	cmdWaitEvent       byte = 0x0c
)

// FPMCU is the concrete RPC binding talking to the kernel-exposed cros_fp
// character device. It serializes access to the device handle with a mutex
// because the kernel interface does not support concurrent in-flight
// commands; the driver state machine above it additionally guarantees only
// one goroutine ever calls into an open FPMCU at a time (the head-of-queue
// worker), so this mutex exists to make that guarantee cheap to verify
// rather than to paper over concurrent callers.
type FPMCU struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// OpenDevice opens the device node at path. It returns an error satisfying
// os.IsNotExist when the node does not exist, which IsCompatible relies on.
func OpenDevice(path string) (*FPMCU, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &FPMCU{path: path, file: f}, nil
}

func (d *FPMCU) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// transact writes a framed command and reads back a framed reply. It is the
// only place that touches the raw device handle.
func (d *FPMCU) transact(opcode byte, payload []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil, fmt.Errorf("sensor: device closed")
	}

	header := make([]byte, 3)
	header[0] = opcode
	binary.BigEndian.PutUint16(header[1:], uint16(len(payload)))
	if _, err := d.file.Write(append(header, payload...)); err != nil {
		return nil, fmt.Errorf("sensor: write command 0x%02x: %w", opcode, err)
	}

	replyHeader := make([]byte, 3)
	if _, err := io.ReadFull(d.file, replyHeader); err != nil {
		return nil, fmt.Errorf("sensor: read reply header for 0x%02x: %w", opcode, err)
	}
	n := binary.BigEndian.Uint16(replyHeader[1:])
	reply := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(d.file, reply); err != nil {
			return nil, fmt.Errorf("sensor: read reply body for 0x%02x: %w", opcode, err)
		}
	}
	if replyHeader[0] != 0 {
		return nil, fmt.Errorf("sensor: command 0x%02x failed with status %d", opcode, replyHeader[0])
	}
	return reply, nil
}

func (d *FPMCU) GetProtocolInfo(ctx context.Context) (ProtocolInfo, error) {
	reply, err := d.transact(cmdGetProtocolInfo, nil)
	if err != nil {
		return ProtocolInfo{}, err
	}
	if len(reply) < 12 {
		return ProtocolInfo{}, errors.New("sensor: short get_protocol_info reply")
	}
	return ProtocolInfo{
		MaxReadSize:  binary.BigEndian.Uint32(reply[0:4]),
		MaxWriteSize: binary.BigEndian.Uint32(reply[4:8]),
		Version:      binary.BigEndian.Uint32(reply[8:12]),
	}, nil
}

func (d *FPMCU) FPInfo(ctx context.Context) (driver.SensorInfo, error) {
	reply, err := d.transact(cmdFPInfo, nil)
	if err != nil {
		return driver.SensorInfo{}, err
	}
	if len(reply) < 12 {
		return driver.SensorInfo{}, errors.New("sensor: short fp_info reply")
	}
	return driver.SensorInfo{
		TemplateMax:      binary.BigEndian.Uint32(reply[0:4]),
		TemplateSize:     binary.BigEndian.Uint32(reply[4:8]),
		TemplatesVersion: binary.BigEndian.Uint32(reply[8:12]),
		Vendor:           "cros_fp",
		Product:          "fpmcu",
		Model:            "generic",
		Version:          fmt.Sprintf("%d", binary.BigEndian.Uint32(reply[8:12])),
	}, nil
}

func (d *FPMCU) GetMode(ctx context.Context) (Mode, error) {
	reply, err := d.transact(cmdGetMode, nil)
	if err != nil {
		return 0, err
	}
	if len(reply) < 4 {
		return 0, errors.New("sensor: short get_mode reply")
	}
	return Mode(binary.BigEndian.Uint32(reply)), nil
}

func (d *FPMCU) FPMode(ctx context.Context, mode Mode) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(mode))
	_, err := d.transact(cmdFPMode, payload)
	return err
}

func (d *FPMCU) FPSetSeed(ctx context.Context, seed [32]byte) error {
	_, err := d.transact(cmdFPSetSeed, seed[:])
	return err
}

func (d *FPMCU) FPSetContext(ctx context.Context, context [32]byte) error {
	_, err := d.transact(cmdFPSetContext, context[:])
	return err
}

func (d *FPMCU) FPGetEncryptionStatus(ctx context.Context) (EncryptionStatus, error) {
	reply, err := d.transact(cmdEncryptionStat, nil)
	if err != nil {
		return EncryptionStatus{}, err
	}
	if len(reply) < 1 {
		return EncryptionStatus{}, errors.New("sensor: short encryption status reply")
	}
	return EncryptionStatus{SeedSet: reply[0] != 0}, nil
}

func (d *FPMCU) FPUploadTemplate(ctx context.Context, slot int, template []byte) error {
	payload := make([]byte, 4+len(template))
	binary.BigEndian.PutUint32(payload[:4], uint32(slot))
	copy(payload[4:], template)
	_, err := d.transact(cmdUploadTemplate, payload)
	return err
}

func (d *FPMCU) FPDownloadTemplate(ctx context.Context, slot int) ([]byte, error) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(slot))
	return d.transact(cmdDownloadTemplate, payload)
}

func (d *FPMCU) ECGetUptime(ctx context.Context) (time.Duration, error) {
	reply, err := d.transact(cmdECUptime, nil)
	if err != nil {
		return 0, err
	}
	if len(reply) < 8 {
		return 0, errors.New("sensor: short ec_get_uptime reply")
	}
	ms := binary.BigEndian.Uint64(reply)
	return time.Duration(ms) * time.Millisecond, nil
}

func (d *FPMCU) TemplateValidCount(ctx context.Context) (uint32, error) {
	reply, err := d.transact(cmdTemplateValid, nil)
	if err != nil {
		return 0, err
	}
	if len(reply) < 4 {
		return 0, errors.New("sensor: short template_valid reply")
	}
	return binary.BigEndian.Uint32(reply), nil
}

// WaitEvent issues wait-event commands until the device reports an event
// whose Kind is in accepted. ctx is checked only between device replies: a
// command already blocked on the device is not interrupted by cancellation.
func (d *FPMCU) WaitEvent(ctx context.Context, accepted ...EventKind) (Event, error) {
	for {
		reply, err := d.transact(cmdWaitEvent, nil)
		if err != nil {
			return Event{}, err
		}
		ev, err := decodeEvent(reply)
		if err != nil {
			return Event{}, err
		}
		for _, k := range accepted {
			if ev.Kind == k {
				return ev, nil
			}
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		default:
		}
	}
}

func decodeEvent(b []byte) (Event, error) {
	if len(b) < 1 {
		return Event{}, errors.New("sensor: empty event reply")
	}
	switch b[0] {
	case 0:
		if len(b) < 3 {
			return Event{}, errors.New("sensor: short fingerprint event")
		}
		fe := FingerprintEvent{IsEnroll: b[1] == 0}
		if fe.IsEnroll {
			fe.EnrollPercent = b[2]
			if len(b) > 3 {
				fe.EnrollError = EnrollError(b[3])
			}
		} else {
			fe.Matched = b[2] != 0
			if len(b) > 3 {
				fe.MatchSlot = int(b[3])
			}
			if len(b) > 4 {
				fe.MatchUpdated = b[4] != 0
			}
			if len(b) > 5 {
				fe.MatchResult = MatchResultCode(b[5])
			}
		}
		return Event{Kind: EventKindFingerprint, Fingerprint: fe}, nil
	case 1:
		if len(b) < 2 {
			return Event{}, errors.New("sensor: short host event")
		}
		return Event{Kind: EventKindHostEvent, HostEvent: HostEventKind(b[1])}, nil
	default:
		return Event{}, fmt.Errorf("sensor: unknown event tag %d", b[0])
	}
}
