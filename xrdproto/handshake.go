// Package xrdproto holds the protocol-specific hooks the Stream layer
// calls into: the handshake/login state machine, response framing,
// protocol-internal message absorption, sub-stream selection, and
// idle/health policy (spec §4.6). Everything here is pure logic over a
// caller-supplied socket/buffer — no goroutines of its own.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package xrdproto

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/xrootd-go/xrdcl/wire"
)

// HandShakeOutcome is what HandShake reports back to its Stream caller
// after each partial I/O step.
type HandShakeOutcome int

const (
	HSRetry HandShakeOutcome = iota // need more bytes, call again
	HSOk                            // fully established
	HSError
)

type hsStage int

const (
	hsSendInitial hsStage = iota
	hsAwaitInitialReply
	hsSendProtocol
	hsAwaitProtocolReply
	hsSendLogin
	hsAwaitLoginReply
	hsDone
)

// HandShakeData is the mutable state threaded across the partial
// reads/writes that make up the handshake, per the data model's
// HandShakeData entry (§3). The caller owns one instance per
// connection attempt and discards it once HandShake returns HSOk or
// HSError.
type HandShakeData struct {
	stage     hsStage
	sessionID int64
	protoVers uint32
	err       error
}

// initialHandshake is xrootd's fixed 20-byte legacy preamble: four
// zero bytes, the 2-byte "stream" marker (0), a 2-byte protocol
// sub-code, then an 8-byte zero pad and the 4-byte request code.
var initialHandshake = []byte{
	0, 0, 0, 0,
	0, 0,
	0, 0,
	0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 4,
}

// HandShake drives one step of login/protocol negotiation. in/out are
// the socket's read/write sides; the caller is responsible for
// actually performing the I/O the returned (out, outcome) pair
// describes: non-nil bytes to write, or a request for more bytes to
// read (signaled by HSRetry with nil out-bytes).
func HandShake(state *HandShakeData, in []byte) (out []byte, outcome HandShakeOutcome) {
	switch state.stage {
	case hsSendInitial:
		state.stage = hsAwaitInitialReply
		return initialHandshake, HSRetry
	case hsAwaitInitialReply:
		if len(in) < 8 {
			return nil, HSRetry
		}
		state.protoVers = binary.BigEndian.Uint32(in[4:8])
		state.stage = hsSendProtocol
		fallthrough
	case hsSendProtocol:
		body := wire.QueryBody{InfoType: 0}.Marshal()
		hdr := wire.ReqHeader{Opcode: wire.OpProtocol, BodyLen: uint32(len(body))}
		state.stage = hsAwaitProtocolReply
		return append(hdr.Marshal(), body...), HSRetry
	case hsAwaitProtocolReply:
		if len(in) < wire.SizeRespHdr {
			return nil, HSRetry
		}
		rh, err := wire.UnmarshalRespHeader(in[:wire.SizeRespHdr])
		if err != nil {
			state.err = err
			return nil, HSError
		}
		if !rh.Status.Ok() {
			state.err = errors.Errorf("xrdproto: protocol handshake failed, status=%s", rh.Status)
			return nil, HSError
		}
		state.stage = hsSendLogin
		fallthrough
	case hsSendLogin:
		hdr := wire.ReqHeader{Opcode: wire.OpAuth}
		state.stage = hsAwaitLoginReply
		return hdr.Marshal(), HSRetry
	case hsAwaitLoginReply:
		if len(in) < wire.SizeRespHdr {
			return nil, HSRetry
		}
		rh, err := wire.UnmarshalRespHeader(in[:wire.SizeRespHdr])
		if err != nil {
			state.err = err
			return nil, HSError
		}
		if rh.Status == wire.StAuthMore {
			// external auth step resumes the transport; the caller
			// re-enters HandShake at hsAwaitLoginReply once it's done
			return nil, HSRetry
		}
		if !rh.Status.Ok() {
			state.err = errors.Errorf("xrdproto: login failed, status=%s", rh.Status)
			return nil, HSError
		}
		state.sessionID = time.Now().UnixNano()
		state.stage = hsDone
		return nil, HSOk
	default:
		return nil, HSOk
	}
}

func (s *HandShakeData) SessionID() int64 { return s.sessionID }
func (s *HandShakeData) Err() error       { return s.err }
