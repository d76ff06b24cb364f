/*
Copyright (c) The SIL Kit-Go Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrEndOfBuffer is returned when a read consumes more bytes than remain.
var ErrEndOfBuffer = errors.New("wire: end of buffer")

// MessageBuffer is a growable byte buffer parameterized by the negotiated
// ProtocolVersion, used to serialize and deserialize wire messages. Writes
// append at the end; reads consume at rPos.
type MessageBuffer struct {
	Version ProtocolVersion
	buf     []byte
	rPos    int
}

// NewMessageBuffer returns an empty write-oriented MessageBuffer.
func NewMessageBuffer(version ProtocolVersion) *MessageBuffer {
	return &MessageBuffer{Version: version}
}

// NewMessageBufferFromBytes returns a read-oriented MessageBuffer over an
// existing payload, e.g. one just taken off the wire.
func NewMessageBufferFromBytes(version ProtocolVersion, data []byte) *MessageBuffer {
	return &MessageBuffer{Version: version, buf: data}
}

// Bytes returns the full underlying buffer.
func (m *MessageBuffer) Bytes() []byte { return m.buf }

// Remaining returns how many unread bytes remain.
func (m *MessageBuffer) Remaining() int { return len(m.buf) - m.rPos }

func (m *MessageBuffer) ensure(n int) error {
	if m.Remaining() < n {
		return ErrEndOfBuffer
	}
	return nil
}

// --- writers ---

// PutU8 appends a single byte.
func (m *MessageBuffer) PutU8(v uint8) { m.buf = append(m.buf, v) }

// PutU32 appends a little-endian uint32.
func (m *MessageBuffer) PutU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	m.buf = append(m.buf, tmp[:]...)
}

// PutU64 appends a little-endian uint64.
func (m *MessageBuffer) PutU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	m.buf = append(m.buf, tmp[:]...)
}

// PutI64 appends a little-endian int64, used for nanosecond durations and
// timestamps.
func (m *MessageBuffer) PutI64(v int64) { m.PutU64(uint64(v)) }

// PutF64 appends a little-endian IEC-559 double, bit-exact round-trip.
func (m *MessageBuffer) PutF64(v float64) { m.PutU64(math.Float64bits(v)) }

// PutBytes appends a {length:u32, bytes} raw-byte vector.
func (m *MessageBuffer) PutBytes(b []byte) {
	m.PutU32(uint32(len(b)))
	m.buf = append(m.buf, b...)
}

// PutString appends a {length:u32, bytes} string.
func (m *MessageBuffer) PutString(s string) { m.PutBytes([]byte(s)) }

// PutStringMap appends a {count:u32, {key,value}...} string-to-string map.
func (m *MessageBuffer) PutStringMap(mm map[string]string) {
	m.PutU32(uint32(len(mm)))
	for k, v := range mm {
		m.PutString(k)
		m.PutString(v)
	}
}

// PutStringSlice appends a {count:u32, items...} vector of strings.
func (m *MessageBuffer) PutStringSlice(ss []string) {
	m.PutU32(uint32(len(ss)))
	for _, s := range ss {
		m.PutString(s)
	}
}

// --- readers ---

// GetU8 consumes a single byte.
func (m *MessageBuffer) GetU8() (uint8, error) {
	if err := m.ensure(1); err != nil {
		return 0, err
	}
	v := m.buf[m.rPos]
	m.rPos++
	return v, nil
}

// GetU32 consumes a little-endian uint32.
func (m *MessageBuffer) GetU32() (uint32, error) {
	if err := m.ensure(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(m.buf[m.rPos:])
	m.rPos += 4
	return v, nil
}

// GetU64 consumes a little-endian uint64.
func (m *MessageBuffer) GetU64() (uint64, error) {
	if err := m.ensure(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(m.buf[m.rPos:])
	m.rPos += 8
	return v, nil
}

// GetI64 consumes a little-endian int64.
func (m *MessageBuffer) GetI64() (int64, error) {
	v, err := m.GetU64()
	return int64(v), err
}

// GetF64 consumes a little-endian IEC-559 double.
func (m *MessageBuffer) GetF64() (float64, error) {
	v, err := m.GetU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// GetBytes consumes a {length:u32, bytes} raw-byte vector.
func (m *MessageBuffer) GetBytes() ([]byte, error) {
	n, err := m.GetU32()
	if err != nil {
		return nil, err
	}
	if err := m.ensure(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, m.buf[m.rPos:m.rPos+int(n)])
	m.rPos += int(n)
	return b, nil
}

// GetString consumes a {length:u32, bytes} string.
func (m *MessageBuffer) GetString() (string, error) {
	b, err := m.GetBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetStringMap consumes a {count:u32, {key,value}...} string-to-string map.
func (m *MessageBuffer) GetStringMap() (map[string]string, error) {
	n, err := m.GetU32()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := m.GetString()
		if err != nil {
			return nil, err
		}
		v, err := m.GetString()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// GetStringSlice consumes a {count:u32, items...} vector of strings.
func (m *MessageBuffer) GetStringSlice() ([]string, error) {
	n, err := m.GetU32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := m.GetString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Peeker snapshots rPos on construction and restores it on Release, letting
// callers inspect headers (e.g. to branch on message kind) without
// disturbing the buffer for the real decode pass that follows.
type Peeker struct {
	buf    *MessageBuffer
	saved  int
	active bool
}

// NewPeeker starts a non-destructive read window over buf.
func NewPeeker(buf *MessageBuffer) *Peeker {
	return &Peeker{buf: buf, saved: buf.rPos, active: true}
}

// Release restores rPos to the position captured at construction. Safe to
// call more than once; only the first call has an effect.
func (p *Peeker) Release() {
	if !p.active {
		return
	}
	p.buf.rPos = p.saved
	p.active = false
}
