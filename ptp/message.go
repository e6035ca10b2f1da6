// Package ptp implements a minimal IEEE 1588-2008 PTPv2 slave: enough of the
// event/general multicast exchange (Announce, Sync, Follow_Up, Delay_Req,
// Delay_Resp) to discipline clock.EmbeddedSlave.
package ptp

import "encoding/binary"

// Multicast addresses and ports for PTP event/general messages over UDP/IPv4.
const (
	MulticastAddr = "224.0.1.129"
	EventPort     = 319
	GeneralPort   = 320
)

// MessageType is the low nibble of the PTP header's first byte.
type MessageType uint8

const (
	MsgSync      MessageType = 0x0
	MsgDelayReq  MessageType = 0x1
	MsgFollowUp  MessageType = 0x8
	MsgDelayResp MessageType = 0x9
	MsgAnnounce  MessageType = 0xB
)

// headerSize is the fixed 34-byte PTPv2 common header.
const headerSize = 34

// Header is the PTPv2 common message header (IEEE 1588-2008 §13.3).
type Header struct {
	MessageType  MessageType
	Version      uint8
	MessageLen   uint16
	DomainNumber uint8
	Flags        uint16
	CorrectionNs int64 // correctionField, sub-nanosecond part discarded
	SourcePortID [10]byte
	SequenceID   uint16
	ControlField uint8
	LogInterval  int8
}

// MarshalBinary encodes the header into a 34-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, headerSize)
	b[0] = byte(h.MessageType) & 0x0F
	b[1] = h.Version & 0x0F
	binary.BigEndian.PutUint16(b[2:4], h.MessageLen)
	b[4] = h.DomainNumber
	binary.BigEndian.PutUint16(b[6:8], h.Flags)
	binary.BigEndian.PutUint64(b[8:16], uint64(h.CorrectionNs)<<16)
	copy(b[20:30], h.SourcePortID[:])
	binary.BigEndian.PutUint16(b[30:32], h.SequenceID)
	b[32] = h.ControlField
	b[33] = byte(h.LogInterval)
	return b, nil
}

// UnmarshalBinary decodes the fixed 34-byte common header.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return errShortHeader
	}
	h.MessageType = MessageType(b[0] & 0x0F)
	h.Version = b[1] & 0x0F
	h.MessageLen = binary.BigEndian.Uint16(b[2:4])
	h.DomainNumber = b[4]
	h.Flags = binary.BigEndian.Uint16(b[6:8])
	h.CorrectionNs = int64(binary.BigEndian.Uint64(b[8:16]) >> 16)
	copy(h.SourcePortID[:], b[20:30])
	h.SequenceID = binary.BigEndian.Uint16(b[30:32])
	h.ControlField = b[32]
	h.LogInterval = int8(b[33])
	return nil
}

var errShortHeader = shortBufferError("ptp: header buffer shorter than 34 bytes")

type shortBufferError string

func (e shortBufferError) Error() string { return string(e) }

// encodeTimestamp packs a PTP Timestamp field (48-bit seconds, 32-bit
// nanoseconds) at offset off in b.
func encodeTimestamp(b []byte, off int, sec int64, nsec uint32) {
	b[off] = byte(sec >> 40)
	b[off+1] = byte(sec >> 32)
	b[off+2] = byte(sec >> 24)
	b[off+3] = byte(sec >> 16)
	b[off+4] = byte(sec >> 8)
	b[off+5] = byte(sec)
	binary.BigEndian.PutUint32(b[off+6:off+10], nsec)
}

// decodeTimestamp reads a PTP Timestamp field at offset off in b.
func decodeTimestamp(b []byte, off int) (sec int64, nsec uint32) {
	sec = int64(b[off])<<40 | int64(b[off+1])<<32 | int64(b[off+2])<<24 |
		int64(b[off+3])<<16 | int64(b[off+4])<<8 | int64(b[off+5])
	nsec = binary.BigEndian.Uint32(b[off+6 : off+10])
	return sec, nsec
}
