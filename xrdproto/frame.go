package xrdproto

import (
	"github.com/xrootd-go/xrdcl/wire"
)

// GetHeader reads exactly one RespHeader's worth of bytes from buf,
// returning the parsed header and the number of bytes it consumed.
// The caller owns buffering partial reads; GetHeader never blocks.
func GetHeader(buf []byte) (wire.RespHeader, int, error) {
	if len(buf) < wire.SizeRespHdr {
		return wire.RespHeader{}, 0, nil
	}
	h, err := wire.UnmarshalRespHeader(buf[:wire.SizeRespHdr])
	if err != nil {
		return wire.RespHeader{}, 0, err
	}
	return h, wire.SizeRespHdr, nil
}

// GetBody returns the complete body for h out of buf if it's fully
// present, or (nil, false) if more bytes are needed.
func GetBody(h wire.RespHeader, buf []byte) ([]byte, bool) {
	if uint32(len(buf)) < h.BodyLen {
		return nil, false
	}
	return buf[:h.BodyLen], true
}
