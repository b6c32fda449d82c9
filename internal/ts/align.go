// Package ts locates MPEG-TS alignment points inside a raw byte window.
//
// The consumer engine uses these lookups to start a recording on a video PES
// boundary and to pick safe cutover points when switching destinations
// mid-stream. All three lookups are pure functions over a read-only window;
// a window that ends mid-packet simply yields no match and the caller retries
// once more bytes have arrived.
package ts

import (
	"github.com/Comcast/gots/packet"
)

// PacketSize is the fixed MPEG-TS packet length in bytes.
const PacketSize = packet.PacketSize

// SyncByte starts every MPEG-TS packet.
const SyncByte = 0x47

// PIDAny disables PID filtering in VideoPESStart. It is used during initial
// lock-on while the video PID is still unknown.
const PIDAny = -1

// VideoPESStart returns the byte offset of the first packet in window that
// starts a video PES, or -1 if the window contains none. When pid is PIDAny
// every PID is considered; otherwise only packets on the given PID match. A
// match requires the payload_unit_start_indicator and a payload beginning
// with an MPEG video PES start code (00 00 01 E0-EF).
func VideoPESStart(window []byte, pid int) int {
	for offset := nextCandidate(window, 0); offset != -1; offset = nextCandidate(window, offset+1) {
		pkt := packetAt(window, offset)

		if !packet.PayloadUnitStartIndicator(pkt) {
			continue
		}
		if pid != PIDAny && packet.Pid(pkt) != pid {
			continue
		}

		payload := payloadStart(window, offset, pkt)
		if len(payload) < 4 {
			continue
		}
		if payload[0] == 0x00 && payload[1] == 0x00 && payload[2] == 0x01 &&
			payload[3] >= 0xE0 && payload[3] <= 0xEF {
			return offset
		}
	}

	return -1
}

// PATStart returns the byte offset of the first packet in window that starts
// a program association table (PID 0 with the payload_unit_start_indicator
// set), or -1 if the window contains none.
func PATStart(window []byte) int {
	for offset := nextCandidate(window, 0); offset != -1; offset = nextCandidate(window, offset+1) {
		pkt := packetAt(window, offset)

		if packet.IsPat(pkt) && packet.PayloadUnitStartIndicator(pkt) {
			return offset
		}
	}

	return -1
}

// RandomAccessIndicator returns the byte offset of the first packet in
// window whose adaptation field carries the random-access-indicator bit, or
// -1 if the window contains none.
func RandomAccessIndicator(window []byte) int {
	for offset := nextCandidate(window, 0); offset != -1; offset = nextCandidate(window, offset+1) {
		pkt := packetAt(window, offset)

		if !packet.ContainsAdaptationField(pkt) {
			continue
		}

		// adaptation_field_length is the byte after the TS header; the flag
		// byte that follows carries random_access_indicator at 0x40.
		raw := window[offset:]
		if raw[4] >= 1 && raw[5]&0x40 != 0 {
			return offset
		}
	}

	return -1
}

// PIDAt returns the PID of the packet starting at offset. The caller is
// expected to pass an offset previously returned by one of the lookups.
func PIDAt(window []byte, offset int) int {
	return packet.Pid(packetAt(window, offset))
}

// nextCandidate returns the offset of the next plausible packet start at or
// after from: a sync byte with a full packet remaining in the window and the
// following packet boundary also in sync (or the window ending exactly at
// the packet edge). Returns -1 when the window holds no further candidates.
func nextCandidate(window []byte, from int) int {
	for i := from; i+PacketSize <= len(window); i++ {
		if window[i] != SyncByte {
			continue
		}

		next := i + PacketSize
		if next < len(window) && window[next] != SyncByte {
			continue
		}
		return i
	}

	return -1
}

// packetAt copies the 188-byte frame at offset into a gots packet.
func packetAt(window []byte, offset int) *packet.Packet {
	pkt := new(packet.Packet)
	copy(pkt[:], window[offset:offset+PacketSize])
	return pkt
}

// payloadStart returns the payload bytes of the packet at offset, skipping
// the adaptation field when one is present. Returns nil when the packet
// carries no payload.
func payloadStart(window []byte, offset int, pkt *packet.Packet) []byte {
	if !packet.ContainsPayload(pkt) {
		return nil
	}

	raw := window[offset : offset+PacketSize]
	start := 4
	if packet.ContainsAdaptationField(pkt) {
		start += 1 + int(raw[4])
	}
	if start >= PacketSize {
		return nil
	}

	return raw[start:]
}
