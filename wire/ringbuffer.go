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
	"errors"
)

// ErrBufferFull reports a ring buffer with no free region. Write never
// returns it, since Write grows the buffer instead.
var ErrBufferFull = errors.New("wire: ring buffer full")

// MutableBuffer is a writable view into the RingBuffer's backing storage,
// returned by GetWritingBuffers for vectored writes.
type MutableBuffer []byte

// RingBuffer is a bounded FIFO of raw bytes backing a peer's send path. It
// supports wrap-around storage and exposes its free region as up to two
// contiguous segments so a caller can hand them directly to a vectored
// socket write instead of copying through an intermediate buffer.
//
// Invariants: size <= capacity; wPos, rPos < capacity; Reserve preserves the
// already-enqueued prefix.
type RingBuffer struct {
	buf  []byte
	rPos int
	wPos int
	size int
}

// NewRingBuffer allocates a RingBuffer with the given initial capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Len returns the number of unread bytes currently enqueued.
func (r *RingBuffer) Len() int { return r.size }

// Cap returns the buffer's current backing capacity.
func (r *RingBuffer) Cap() int { return len(r.buf) }

// Free returns the number of bytes that can be written before the buffer is full.
func (r *RingBuffer) Free() int { return len(r.buf) - r.size }

// Write copies p into the buffer, growing it (doubling) if there isn't
// enough free space. It never partially writes.
func (r *RingBuffer) Write(p []byte) (int, error) {
	if len(p) > r.Free() {
		need := r.size + len(p)
		newCap := r.Cap()
		for newCap < need {
			newCap *= 2
		}
		r.Reserve(newCap)
	}
	for _, b := range p {
		r.buf[r.wPos] = b
		r.wPos = (r.wPos + 1) % len(r.buf)
	}
	r.size += len(p)
	return len(p), nil
}

// GetWritingBuffers returns up to two contiguous slices covering the current
// free region: the tail segment from wPos to either the end of the backing
// array or rPos, and (if the free region wraps) the head segment from index
// 0 up to rPos. The caller fills them directly and then calls AdvanceWPos(n)
// with the total number of bytes actually written.
func (r *RingBuffer) GetWritingBuffers() []MutableBuffer {
	free := r.Free()
	if free == 0 {
		return nil
	}
	cap := len(r.buf)
	// The free region starts at wPos and is `free` bytes long, wrapping at
	// cap. It fits in a single contiguous slice iff it doesn't cross the
	// end of the backing array.
	tail := cap - r.wPos
	if free <= tail {
		return []MutableBuffer{MutableBuffer(r.buf[r.wPos : r.wPos+free])}
	}
	return []MutableBuffer{
		MutableBuffer(r.buf[r.wPos:cap]),
		MutableBuffer(r.buf[0 : free-tail]),
	}
}

// GetReadableBuffers returns up to two contiguous slices covering the
// currently enqueued (unread) region, starting at rPos, for a vectored
// socket write. The caller must release exactly the number of bytes it
// successfully wrote via AdvanceRPos; nothing is consumed by this call.
func (r *RingBuffer) GetReadableBuffers() []MutableBuffer {
	if r.size == 0 {
		return nil
	}
	cap := len(r.buf)
	tail := cap - r.rPos
	if r.size <= tail {
		return []MutableBuffer{MutableBuffer(r.buf[r.rPos : r.rPos+r.size])}
	}
	return []MutableBuffer{
		MutableBuffer(r.buf[r.rPos:cap]),
		MutableBuffer(r.buf[0 : r.size-tail]),
	}
}

// AdvanceWPos advances the write cursor by n bytes after the caller has
// filled the slices returned by GetWritingBuffers.
func (r *RingBuffer) AdvanceWPos(n int) {
	r.wPos = (r.wPos + n) % len(r.buf)
	r.size += n
}

// AdvanceRPos releases n bytes from the front of the buffer, e.g. once a
// vectored send of that length has completed.
func (r *RingBuffer) AdvanceRPos(n int) {
	r.rPos = (r.rPos + n) % len(r.buf)
	r.size -= n
}

// Peek copies up to len(p) unread bytes into p without consuming them,
// returning the number of bytes copied.
func (r *RingBuffer) Peek(p []byte) int {
	n := len(p)
	if n > r.size {
		n = r.size
	}
	pos := r.rPos
	for i := 0; i < n; i++ {
		p[i] = r.buf[pos]
		pos = (pos + 1) % len(r.buf)
	}
	return n
}

// Read copies unread bytes into p and advances the read cursor by the
// number of bytes copied (a Peek followed by AdvanceRPos).
func (r *RingBuffer) Read(p []byte) int {
	n := r.Peek(p)
	r.AdvanceRPos(n)
	return n
}

// Reserve grows the backing capacity to at least newCap, copying the
// already-enqueued (but not yet read) bytes into the new array starting at
// index 0 and resetting rPos=0, wPos=size. It is a no-op if newCap is not
// larger than the current capacity. Reserve is callable mid-life without
// any data loss, per the RingBuffer invariant.
func (r *RingBuffer) Reserve(newCap int) {
	if newCap <= len(r.buf) {
		return
	}
	nb := make([]byte, newCap)
	tmp := make([]byte, r.size)
	r.Peek(tmp)
	copy(nb, tmp)
	r.buf = nb
	r.rPos = 0
	r.wPos = r.size
}
