// Package wire implements the compact binary encodings the service boundary
// (§6.2) uses for bus replies that don't map cleanly onto plain D-Bus
// structs: the three-valued match decision and the stateless enroll-step
// reply. Both formats are documented here and round-trip tested with
// literal byte vectors, per §6.2's requirement that implementations
// document which compact binary encoding is used.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Match result tags. Tag 0 carries no payload ("not yet decided"); tag 1
// carries no payload ("decided, no match"); tag 2 is followed by a
// little-endian uint32 matched index.
const (
	matchTagPending  byte = 0
	matchTagNoMatch  byte = 1
	matchTagMatched  byte = 2
)

// EncodeMatchResult encodes the three-valued decision described in §6.2 and
// the distilled spec's Option<Option<u32>>: decided=false is "not yet
// decided"; decided=true, matched=false is "no match"; decided=true,
// matched=true carries index.
func EncodeMatchResult(decided, matched bool, index uint32) []byte {
	if !decided {
		return []byte{matchTagPending}
	}
	if !matched {
		return []byte{matchTagNoMatch}
	}
	buf := make([]byte, 5)
	buf[0] = matchTagMatched
	binary.LittleEndian.PutUint32(buf[1:], index)
	return buf
}

// DecodeMatchResult is EncodeMatchResult's inverse, used by bus clients
// (fpctl, the auth plug-in) that receive the raw reply bytes.
func DecodeMatchResult(b []byte) (decided, matched bool, index uint32, err error) {
	if len(b) == 0 {
		return false, false, 0, fmt.Errorf("wire: empty match result")
	}
	switch b[0] {
	case matchTagPending:
		return false, false, 0, nil
	case matchTagNoMatch:
		return true, false, 0, nil
	case matchTagMatched:
		if len(b) < 5 {
			return false, false, 0, fmt.Errorf("wire: short matched payload: %d bytes", len(b))
		}
		return true, true, binary.LittleEndian.Uint32(b[1:5]), nil
	default:
		return false, false, 0, fmt.Errorf("wire: unknown match result tag %d", b[0])
	}
}
