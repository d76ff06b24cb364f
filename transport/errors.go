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

// Package transport implements the peer-to-peer transport fabric: URI
// dialing/listening, the handshake, and the per-peer ring-buffer-backed
// send/receive paths.
package transport

import "errors"

// Errors surfaced by the transport layer: TransportError / ProtocolError
// kinds.
var (
	ErrDuplicatePeerName = errors.New("transport: duplicate participant name")
	ErrHandshakeFailed   = errors.New("transport: handshake failed")
	ErrVersionMismatch   = errors.New("transport: protocol version cannot be negotiated")
	ErrUnknownScheme     = errors.New("transport: unknown URI scheme")
	ErrPeerSlow          = errors.New("transport: peer send buffer exceeded maximum, peer marked slow")
	ErrPeerNotFound      = errors.New("transport: peer not found")
	ErrClosed            = errors.New("transport: connection closed")
)
