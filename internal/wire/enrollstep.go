package wire

import (
	"encoding/binary"
	"fmt"
)

// EnrollStep result tags, per §6.2: InProgress(u8) | Complete(bytes) |
// GenericError | LowQuality.
const (
	enrollTagInProgress   byte = 0
	enrollTagComplete     byte = 1
	enrollTagGenericError byte = 2
	enrollTagLowQuality   byte = 3
)

// EnrollStepReply mirrors the server-side {id, result} pair the alternative
// stateless-step API (§6.1 EnrollStep, §4.K's fpctl) encodes to bytes.
type EnrollStepReply struct {
	ID         uint32
	InProgress bool   // tag 0
	Percent    uint8  // valid when InProgress
	Complete   bool   // tag 1
	Template   []byte // valid when Complete
	GenericErr bool   // tag 2
	LowQuality bool   // tag 3
}

// EncodeEnrollStep lays out {id uint32 LE}{tag byte}{payload} as specified
// in §6.2.
func EncodeEnrollStep(r EnrollStepReply) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, r.ID)

	switch {
	case r.InProgress:
		return append(buf, enrollTagInProgress, r.Percent)
	case r.Complete:
		buf = append(buf, enrollTagComplete)
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(r.Template)))
		buf = append(buf, lenBuf...)
		return append(buf, r.Template...)
	case r.GenericErr:
		return append(buf, enrollTagGenericError)
	case r.LowQuality:
		return append(buf, enrollTagLowQuality)
	default:
		panic("wire: EnrollStepReply has no result set")
	}
}

// DecodeEnrollStep is EncodeEnrollStep's inverse.
func DecodeEnrollStep(b []byte) (EnrollStepReply, error) {
	if len(b) < 5 {
		return EnrollStepReply{}, fmt.Errorf("wire: short enroll step reply: %d bytes", len(b))
	}
	id := binary.LittleEndian.Uint32(b[0:4])
	tag := b[4]
	rest := b[5:]

	switch tag {
	case enrollTagInProgress:
		if len(rest) < 1 {
			return EnrollStepReply{}, fmt.Errorf("wire: short in-progress payload")
		}
		return EnrollStepReply{ID: id, InProgress: true, Percent: rest[0]}, nil
	case enrollTagComplete:
		if len(rest) < 4 {
			return EnrollStepReply{}, fmt.Errorf("wire: short complete length prefix")
		}
		n := binary.LittleEndian.Uint32(rest[0:4])
		rest = rest[4:]
		if uint32(len(rest)) < n {
			return EnrollStepReply{}, fmt.Errorf("wire: truncated template: want %d, have %d", n, len(rest))
		}
		tmpl := append([]byte(nil), rest[:n]...)
		return EnrollStepReply{ID: id, Complete: true, Template: tmpl}, nil
	case enrollTagGenericError:
		return EnrollStepReply{ID: id, GenericErr: true}, nil
	case enrollTagLowQuality:
		return EnrollStepReply{ID: id, LowQuality: true}, nil
	default:
		return EnrollStepReply{}, fmt.Errorf("wire: unknown enroll step tag %d", tag)
	}
}
