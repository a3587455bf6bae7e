/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package servicehub implements the control-channel wire framing and the
// hub/host dispatcher that hands accepted client sockets, by serviceId, from
// a single listening process to the worker process that registered for it.
package servicehub

import (
	"bytes"
	"encoding/binary"
	"fmt"

	liberr "github.com/pronet-go/pronet/errors"
)

// Magic is the fixed 8-byte sentinel bracketing every ServicePacket; both
// magic1 and magic2 use the same literal value for wire compatibility.
var Magic = [8]byte{'*', '*', '*', '*', '*', '*', '*', '*'}

// OldSock carries the previous-socket recycling metadata; on POSIX its
// unixSocket/sockId fields are meaningful, its Windows duplication-info
// analogue is never populated and always serializes as zero.
type OldSock struct {
	ExpireTick int64
	SockId     int64
	UnixSocket bool
}

// C2S is the client(host)-to-server(hub) payload.
type C2S struct {
	ServiceId uint8
	ProcessId uint64
	TotalSock uint64
	Old       OldSock
}

// S2C is the server(hub)-to-client(host) payload.
type S2C struct {
	ServiceId  uint8
	ServiceOpt uint8
	Nonce      [32]byte
	Old        OldSock
}

const (
	oldSockWire = 8 + 8 + 1 // expireTick, sockId, unixSocket
	c2sWire     = 1 + 8 + 8 + oldSockWire
	s2cWire     = 1 + 1 + 32 + oldSockWire
	packetWire  = 8 + c2sWire + s2cWire + 8
)

// ServicePacket is one control-channel frame: magic1, C2S payload, S2C
// payload, magic2.
type ServicePacket struct {
	C2S C2S
	S2C S2C
}

func putOldSock(buf *bytes.Buffer, o OldSock) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(o.ExpireTick))
	buf.Write(tmp[:])
	binary.BigEndian.PutUint64(tmp[:], uint64(o.SockId))
	buf.Write(tmp[:])
	if o.UnixSocket {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func getOldSock(b []byte) OldSock {
	return OldSock{
		ExpireTick: int64(binary.BigEndian.Uint64(b[0:8])),
		SockId:     int64(binary.BigEndian.Uint64(b[8:16])),
		UnixSocket: b[16] != 0,
	}
}

// Encode serializes p to its fixed wire layout.
func Encode(p ServicePacket) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, packetWire))
	buf.Write(Magic[:])

	buf.WriteByte(p.C2S.ServiceId)
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], p.C2S.ProcessId)
	buf.Write(tmp8[:])
	binary.BigEndian.PutUint64(tmp8[:], p.C2S.TotalSock)
	buf.Write(tmp8[:])
	putOldSock(buf, p.C2S.Old)

	buf.WriteByte(p.S2C.ServiceId)
	buf.WriteByte(p.S2C.ServiceOpt)
	buf.Write(p.S2C.Nonce[:])
	putOldSock(buf, p.S2C.Old)

	buf.Write(Magic[:])
	return buf.Bytes()
}

// Decode parses a fixed-length ServicePacket frame. A magic mismatch
// (either sentinel) is reported as a Protocol-kind error; per spec, the
// caller must close the control pipe immediately on this error.
func Decode(b []byte) (ServicePacket, liberr.Error) {
	if len(b) != packetWire {
		return ServicePacket{}, liberr.New(uint16(liberr.MinPkgServiceHub+1), fmt.Sprintf("short frame: want %d got %d", packetWire, len(b)))
	}
	if !bytes.Equal(b[0:8], Magic[:]) || !bytes.Equal(b[packetWire-8:packetWire], Magic[:]) {
		return ServicePacket{}, liberr.New(uint16(liberr.MinPkgServiceHub+2), "magic mismatch")
	}

	off := 8
	var p ServicePacket
	p.C2S.ServiceId = b[off]
	off++
	p.C2S.ProcessId = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	p.C2S.TotalSock = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	p.C2S.Old = getOldSock(b[off : off+oldSockWire])
	off += oldSockWire

	p.S2C.ServiceId = b[off]
	off++
	p.S2C.ServiceOpt = b[off]
	off++
	copy(p.S2C.Nonce[:], b[off:off+32])
	off += 32
	p.S2C.Old = getOldSock(b[off : off+oldSockWire])
	off += oldSockWire

	return p, nil
}

// WireSize is the fixed on-wire length of every ServicePacket frame.
const WireSize = packetWire
