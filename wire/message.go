package wire

import (
	"encoding/binary"
	"fmt"
)

// Message is an owned byte buffer with independent read and write
// cursors, carrying a SessionID tag (0 = any session) and the marshalled
// header at offset 0. Grounded on the teacher's small pdu struct
// (transport/pdu.go: roff/woff over a single buffer) generalized from a
// streaming object frame to a full request/response message.
type Message struct {
	buf       []byte
	roff      int
	woff      int
	SessionID int64
	desc      string // obfuscated description for logs, never the raw path
}

func NewMessage(capacity int) *Message {
	return &Message{buf: make([]byte, 0, capacity)}
}

func WrapMessage(b []byte) *Message {
	return &Message{buf: b, woff: len(b)}
}

func (m *Message) Bytes() []byte { return m.buf[:m.woff] }
func (m *Message) Len() int      { return m.woff }

func (m *Message) Write(p []byte) (int, error) {
	m.buf = append(m.buf[:m.woff], p...)
	m.woff = len(m.buf)
	return len(p), nil
}

func (m *Message) Read(p []byte) (int, error) {
	if m.roff >= m.woff {
		return 0, nil
	}
	n := copy(p, m.buf[m.roff:m.woff])
	m.roff += n
	return n, nil
}

func (m *Message) Reset() {
	m.buf = m.buf[:0]
	m.roff, m.woff = 0, 0
}

func (m *Message) SetDesc(d string) { m.desc = d }

// SetHeaderSID patches the 2-byte stream-id field at offset 0 of the
// marshalled ReqHeader in place — the Stream calls this right after
// SIDManager.Alloc so the value actually written to the wire matches
// the key it dispatches the eventual response by (§3's SID contract).
func (m *Message) SetHeaderSID(sid SID) {
	if len(m.buf) < 2 {
		return
	}
	binary.BigEndian.PutUint16(m.buf[0:2], uint16(sid))
}

// String never includes the raw buffer contents (which may embed a path
// or credential material) — only the caller-supplied obfuscated
// description plus size, matching the teacher's log-redaction posture.
func (m *Message) String() string {
	if m.desc != "" {
		return fmt.Sprintf("msg[%s %dB]", m.desc, m.woff)
	}
	return fmt.Sprintf("msg[%dB]", m.woff)
}
