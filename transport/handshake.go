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
	"io"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/silkit/ib/wire"
)

func writeFrame(conn net.Conn, version wire.ProtocolVersion, msg any) error {
	kind, payload, err := wire.Serialize(version, msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(wire.EncodeFrame(kind, payload))
	return err
}

func readFrame(conn net.Conn, version wire.ProtocolVersion) (wire.Kind, any, error) {
	var header [wire.HeaderLength]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return 0, nil, err
	}
	total, kind := wire.DecodeFrameHeader(header)
	payload := make([]byte, int(total)-wire.HeaderLength)
	if len(payload) > 0 {
		if _, err := io.ReadFull(conn, payload); err != nil {
			return 0, nil, err
		}
	}
	msg, err := wire.Deserialize(version, kind, payload)
	return kind, msg, err
}

// dialerHandshake performs the joining side of the handshake: send our
// ParticipantAnnouncement, then read back the acceptor's
// ParticipantAnnouncementReply.
func dialerHandshake(conn net.Conn, local wire.PeerInfo, localVersion wire.ProtocolVersion) (*Peer, error) {
	if err := writeFrame(conn, localVersion, wire.ParticipantAnnouncement{Peer: local, ProtocolVersion: localVersion}); err != nil {
		return nil, fmt.Errorf("%w: sending announcement: %v", ErrHandshakeFailed, err)
	}
	kind, msg, err := readFrame(conn, localVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: reading reply: %v", ErrHandshakeFailed, err)
	}
	reply, ok := msg.(wire.ParticipantAnnouncementReply)
	if !ok || kind != wire.KindParticipantAnnouncementReply {
		return nil, fmt.Errorf("%w: unexpected message %T during handshake", ErrHandshakeFailed, msg)
	}
	if reply.Status != wire.HandshakeSuccess {
		return nil, fmt.Errorf("%w: remote rejected handshake", ErrHandshakeFailed)
	}
	negotiated, err := wire.Negotiate(localVersion, reply.ProtocolVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVersionMismatch, err)
	}
	log.Infof("handshake with %s succeeded, negotiated protocol %s", reply.RemotePeer.ParticipantName, negotiated)
	return newPeer(conn, reply.RemotePeer, negotiated), nil
}

// acceptorHandshake performs the listening side: read the joining peer's
// ParticipantAnnouncement, validate it isn't a duplicate name, and reply.
func acceptorHandshake(conn net.Conn, local wire.PeerInfo, localVersion wire.ProtocolVersion, nameTaken func(string) bool) (*Peer, error) {
	kind, msg, err := readFrame(conn, localVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: reading announcement: %v", ErrHandshakeFailed, err)
	}
	announce, ok := msg.(wire.ParticipantAnnouncement)
	if !ok || kind != wire.KindParticipantAnnouncement {
		return nil, fmt.Errorf("%w: unexpected message %T during handshake", ErrHandshakeFailed, msg)
	}

	negotiated, negErr := wire.Negotiate(localVersion, announce.ProtocolVersion)
	status := wire.HandshakeSuccess
	var resultErr error
	if negErr != nil {
		status = wire.HandshakeFailed
		resultErr = fmt.Errorf("%w: %v", ErrVersionMismatch, negErr)
	} else if nameTaken(announce.Peer.ParticipantName) {
		status = wire.HandshakeFailed
		resultErr = fmt.Errorf("%w: %q", ErrDuplicatePeerName, announce.Peer.ParticipantName)
	}

	reply := wire.ParticipantAnnouncementReply{Status: status, ProtocolVersion: localVersion, RemotePeer: local}
	if werr := writeFrame(conn, localVersion, reply); werr != nil {
		return nil, fmt.Errorf("%w: sending reply: %v", ErrHandshakeFailed, werr)
	}
	if resultErr != nil {
		return nil, resultErr
	}
	log.Infof("accepted handshake from %s, negotiated protocol %s", announce.Peer.ParticipantName, negotiated)
	return newPeer(conn, announce.Peer, negotiated), nil
}
