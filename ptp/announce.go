package ptp

import "encoding/binary"

// announceBodyOffset is where the Announce message body starts, after the
// common header.
const announceBodyOffset = headerSize + 10 // skip originTimestamp (10 bytes)

// ClockQuality describes a grandmaster's reported clock class/accuracy, the
// fields BMCA compares after priority1.
type ClockQuality struct {
	Class    uint8
	Accuracy uint8
	Variance uint16
}

// AnnounceDataSet is the subset of an Announce message's body BMCA needs.
type AnnounceDataSet struct {
	Priority1           uint8
	ClockQuality        ClockQuality
	Priority2           uint8
	GrandmasterIdentity [8]byte
	StepsRemoved        uint16
}

// decodeAnnounce parses the Announce body (offsets relative to the body per
// IEEE 1588-2008 Table 32) out of a full packet buffer.
func decodeAnnounce(buf []byte) AnnounceDataSet {
	b := buf[announceBodyOffset:]
	var a AnnounceDataSet
	// b[0:2] currentUtcOffset, skipped (not needed for BMCA/offset math here)
	a.Priority1 = b[3]
	a.ClockQuality.Class = b[4]
	a.ClockQuality.Accuracy = b[5]
	a.ClockQuality.Variance = binary.BigEndian.Uint16(b[6:8])
	a.Priority2 = b[8]
	copy(a.GrandmasterIdentity[:], b[9:17])
	a.StepsRemoved = binary.BigEndian.Uint16(b[17:19])
	return a
}

// betterThan implements a simplified BMCA comparison (IEEE 1588-2008
// 9.3.2.3): lower priority1 wins outright; on a tie, lower clock class,
// then lower accuracy, then lower priority2, then lower grandmaster
// identity (bytewise) decide. Omits the full dataset comparison
// algorithm's "same master" and steps-removed branches.
func (a AnnounceDataSet) betterThan(b AnnounceDataSet) bool {
	if a.Priority1 != b.Priority1 {
		return a.Priority1 < b.Priority1
	}
	if a.ClockQuality.Class != b.ClockQuality.Class {
		return a.ClockQuality.Class < b.ClockQuality.Class
	}
	if a.ClockQuality.Accuracy != b.ClockQuality.Accuracy {
		return a.ClockQuality.Accuracy < b.ClockQuality.Accuracy
	}
	if a.Priority2 != b.Priority2 {
		return a.Priority2 < b.Priority2
	}
	for i := range a.GrandmasterIdentity {
		if a.GrandmasterIdentity[i] != b.GrandmasterIdentity[i] {
			return a.GrandmasterIdentity[i] < b.GrandmasterIdentity[i]
		}
	}
	return false
}
