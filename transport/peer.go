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

package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/silkit/ib/wire"
)

// AggregationMode controls whether small outbound messages are coalesced
// into a single ring buffer write/send before release.
type AggregationMode uint8

// AggregationMode values, per SPEC_FULL's middleware.enableMessageAggregation.
const (
	AggregationOff AggregationMode = iota
	AggregationOn
	AggregationAuto
)

const (
	initialSendBufferCapacity = 4 << 10
	maxSendBufferCapacity     = 64 << 20
	socketReadBufferSize      = 64 << 10
)

// Peer is one connection to a remote participant: a send queue backed by a
// RingBuffer, drained by a dedicated writer goroutine, and a receive
// accumulator fed by a dedicated reader goroutine.
type Peer struct {
	conn            net.Conn
	ParticipantName string
	ParticipantID   wire.ParticipantID
	Version         wire.ProtocolVersion
	Aggregation     AggregationMode
	// Info is the full PeerInfo learned about this peer during the
	// handshake (acceptor URIs, capabilities blob).
	Info wire.PeerInfo

	mu       sync.Mutex
	sendBuf  *wire.RingBuffer
	queued   int // messages enqueued since the last drain, for Auto aggregation
	notify   chan struct{}
	slow     bool
	closed   bool
	closeErr error

	log *log.Entry
}

// newPeer wraps an established connection as a Peer. It starts no
// goroutines; Manager.addPeer starts runWriter and runReader.
func newPeer(conn net.Conn, info wire.PeerInfo, version wire.ProtocolVersion) *Peer {
	name, id := info.ParticipantName, info.ParticipantID
	return &Peer{
		conn:            conn,
		ParticipantName: name,
		ParticipantID:   id,
		Version:         version,
		Info:            info,
		sendBuf:         wire.NewRingBuffer(initialSendBufferCapacity),
		notify:          make(chan struct{}, 1),
		log:             log.WithField("peer", name),
	}
}

// Send serializes msg, enqueues its framed bytes on the send ring buffer,
// and wakes the writer goroutine. Backpressure: if the buffer has no free
// region the RingBuffer grows (doubling) up to maxSendBufferCapacity; past
// that the peer is marked slow and the send is rejected so callers can drop
// or disconnect per policy instead of blocking forever.
func (p *Peer) Send(msg any) error {
	kind, payload, err := wire.Serialize(p.Version, msg)
	if err != nil {
		return err
	}
	frame := wire.EncodeFrame(kind, payload)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.slow {
		return ErrPeerSlow
	}
	if len(frame) > p.sendBuf.Free() && p.sendBuf.Cap() >= maxSendBufferCapacity {
		p.slow = true
		return ErrPeerSlow
	}
	if _, err := p.sendBuf.Write(frame); err != nil {
		return err
	}
	if p.sendBuf.Cap() > maxSendBufferCapacity {
		p.slow = true
	}
	p.queued++
	shouldFlush := p.Aggregation == AggregationOff || (p.Aggregation == AggregationAuto && p.queued <= 1)
	if shouldFlush {
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// runWriter drains the send ring buffer via vectored writes until done is
// closed or the connection errors out. It is started once per peer, dialed
// or accepted.
func (p *Peer) runWriter(done <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-p.notify:
		case <-ticker.C:
		}
		if err := p.flush(); err != nil {
			p.log.Errorf("failed flushing send buffer: %v", err)
			p.fail(err)
			return
		}
	}
}

func (p *Peer) flush() error {
	for {
		p.mu.Lock()
		bufs := p.sendBuf.GetReadableBuffers()
		p.mu.Unlock()
		if len(bufs) == 0 {
			p.mu.Lock()
			p.queued = 0
			p.mu.Unlock()
			return nil
		}
		netBufs := make(net.Buffers, len(bufs))
		for i, b := range bufs {
			netBufs[i] = append([]byte(nil), b...)
		}
		n, err := netBufs.WriteTo(p.conn)
		p.mu.Lock()
		p.sendBuf.AdvanceRPos(int(n))
		p.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

func (p *Peer) fail(err error) {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.closeErr = err
	}
	p.mu.Unlock()
	_ = p.conn.Close()
}

// Close marks the peer closed and closes the underlying socket.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.conn.Close()
}

// runReader reads length-prefixed frames off the socket and invokes handle
// for each fully-received one, until the socket errors or closes.
func (p *Peer) runReader(handle func(kind wire.Kind, msg any)) error {
	acc := make([]byte, 0, socketReadBufferSize)
	readBuf := make([]byte, socketReadBufferSize)
	for {
		n, err := p.conn.Read(readBuf)
		if n > 0 {
			acc = append(acc, readBuf[:n]...)
			for {
				if len(acc) < wire.HeaderLength {
					break
				}
				var header [wire.HeaderLength]byte
				copy(header[:], acc[:wire.HeaderLength])
				total, kind := wire.DecodeFrameHeader(header)
				if uint32(len(acc)) < total {
					break
				}
				payload := acc[wire.HeaderLength:total]
				msg, derr := wire.Deserialize(p.Version, kind, payload)
				if derr != nil {
					return fmt.Errorf("transport: framing violation from %s: %w", p.ParticipantName, derr)
				}
				handle(kind, msg)
				acc = acc[total:]
			}
		}
		if err != nil {
			return err
		}
	}
}
