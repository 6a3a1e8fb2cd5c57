// Package wire is the XRootD binary protocol codec: fixed request/response
// headers, per-opcode body layouts, endian marshalling, and the stream-id
// pool. Grounded on the teacher's transport/pdu.go framing idiom (a small
// pdu-like struct tracking read/write offsets over an owned buffer) and
// the protocol layout of spec §2.2/§6.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package wire

// Opcode identifies a request kind. Values are our own 2-byte numbering,
// not the original XRootD kXR_* wire values (irrelevant to a from-scratch
// reimplementation; only the *set* of recognized opcodes and their
// framing obligations come from spec §6).
type Opcode uint16

const (
	OpAuth Opcode = iota + 1
	OpQuery
	OpLocate
	OpStat
	OpStatX
	OpDirList
	OpOpen
	OpClose
	OpRead
	OpReadV
	OpWrite
	OpPgRead
	OpPgWrite
	OpTruncate
	OpRm
	OpRmdir
	OpMkdir
	OpChmod
	OpMv
	OpPing
	OpProtocol
	OpPrepare
	OpFattr
	OpSigver
	OpBind
)

var opcodeNames = map[Opcode]string{
	OpAuth: "auth", OpQuery: "query", OpLocate: "locate", OpStat: "stat",
	OpStatX: "statx", OpDirList: "dirlist", OpOpen: "open", OpClose: "close",
	OpRead: "read", OpReadV: "readv", OpWrite: "write", OpPgRead: "pgread",
	OpPgWrite: "pgwrite", OpTruncate: "truncate", OpRm: "rm", OpRmdir: "rmdir",
	OpMkdir: "mkdir", OpChmod: "chmod", OpMv: "mv", OpPing: "ping",
	OpProtocol: "protocol", OpPrepare: "prepare", OpFattr: "fattr",
	OpSigver: "sigver", OpBind: "bind",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return "opcode(?)"
}

// RequiresResponseBody reports whether a successful `ok` reply to this
// opcode is expected to carry a body (stat/locate/dirlist/read/readv do;
// close/rm/mkdir typically don't beyond an empty body).
func (o Opcode) RequiresResponseBody() bool {
	switch o {
	case OpStat, OpStatX, OpLocate, OpDirList, OpRead, OpReadV, OpPgRead, OpQuery, OpProtocol, OpFattr:
		return true
	default:
		return false
	}
}
