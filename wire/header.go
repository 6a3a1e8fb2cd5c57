package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// SizeReqHdr / SizeRespHdr are the fixed header sizes of §6:
//   request:  stream-id[2] opcode[2] opcode-specific[16] dlen[4]  = 24
//   response: stream-id[2] status[2] dlen[4]                      = 8
const (
	SizeReqHdr  = 2 + 2 + 16 + 4
	SizeRespHdr = 2 + 2 + 4

	// MaxBodyLen bounds a single frame's body, guarding against a
	// corrupted dlen field turning into an unbounded allocation.
	MaxBodyLen = 16 << 20
)

var ErrCorruptedHeader = errors.New("xrdcl/wire: corrupted header")

// ReqHeader is the fixed portion of every outgoing request.
type ReqHeader struct {
	SID       SID
	Opcode    Opcode
	Specific  [16]byte // opcode-specific fixed fields, interpreted per §6 body table
	BodyLen   uint32
}

func (h ReqHeader) Marshal() []byte {
	b := make([]byte, SizeReqHdr)
	binary.BigEndian.PutUint16(b[0:2], uint16(h.SID))
	binary.BigEndian.PutUint16(b[2:4], uint16(h.Opcode))
	copy(b[4:20], h.Specific[:])
	binary.BigEndian.PutUint32(b[20:24], h.BodyLen)
	return b
}

func UnmarshalReqHeader(b []byte) (ReqHeader, error) {
	if len(b) < SizeReqHdr {
		return ReqHeader{}, errors.WithStack(ErrCorruptedHeader)
	}
	var h ReqHeader
	h.SID = SID(binary.BigEndian.Uint16(b[0:2]))
	h.Opcode = Opcode(binary.BigEndian.Uint16(b[2:4]))
	copy(h.Specific[:], b[4:20])
	h.BodyLen = binary.BigEndian.Uint32(b[20:24])
	return h, nil
}

// RespHeader is the fixed portion of every incoming response. `status`
// replies are special-cased at the framing layer (§7: "header corruption,
// special-cased for status replies because their header differs from the
// legacy one") — RespHeader itself is uniform; the StatusKind lives in
// the first two bytes of the body when Status == StStatus.
type RespHeader struct {
	SID     SID
	Status  Status
	BodyLen uint32
}

func (h RespHeader) Marshal() []byte {
	b := make([]byte, SizeRespHdr)
	binary.BigEndian.PutUint16(b[0:2], uint16(h.SID))
	binary.BigEndian.PutUint16(b[2:4], uint16(h.Status))
	binary.BigEndian.PutUint32(b[4:8], h.BodyLen)
	return b
}

func UnmarshalRespHeader(b []byte) (RespHeader, error) {
	if len(b) < SizeRespHdr {
		return RespHeader{}, errors.WithStack(ErrCorruptedHeader)
	}
	var h RespHeader
	h.SID = SID(binary.BigEndian.Uint16(b[0:2]))
	h.Status = Status(binary.BigEndian.Uint16(b[2:4]))
	h.BodyLen = binary.BigEndian.Uint32(b[4:8])
	if h.BodyLen > MaxBodyLen {
		return RespHeader{}, errors.Wrapf(ErrCorruptedHeader, "dlen %d exceeds max %d", h.BodyLen, MaxBodyLen)
	}
	return h, nil
}

// PeekStatusKind extracts the StatusKind sub-response from the first two
// bytes of a `status`-tagged response body (§6: PartialResult,
// ChecksumResp, BytesExchanged).
func PeekStatusKind(body []byte) (StatusKind, error) {
	if len(body) < 2 {
		return 0, errors.WithStack(ErrCorruptedHeader)
	}
	return StatusKind(binary.BigEndian.Uint16(body[0:2])), nil
}
