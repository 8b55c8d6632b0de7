package cync

import "fmt"

// Inner structs are the 0x7E-bounded units carried inside 0x73 and 0x83
// bodies:
//
//	Offset  Length  Field
//	0       1       0x7E boundary
//	1       1       Message counter
//	2-4     3       Reserved
//	5       1       Direction marker (0xF8/0xF9/0xFA)
//	6       1       Function byte
//	...             Function-specific content
//	len-2   1       Checksum
//	len-1   1       0x7E boundary
//
// The checksum is the byte sum over inner[6 : len-2], modulo 256. Devices
// get it wrong in documented ways (see ChecksumMemory), so verification is
// advisory: a bad sum is logged, never fatal.
const (
	innerBoundary = 0x7E

	// innerMinLen is boundary + counter + reserved + marker/function +
	// checksum + boundary; nothing shorter can be decoded.
	innerMinLen = 9

	// Offsets shared by every inner struct.
	innerCounterIdx  = 1
	innerMarkerIdx   = 5
	innerFunctionIdx = 6
	innerSumStart    = 6
)

// Direction markers at innerMarkerIdx.
const (
	markerRequest  = 0xF8 // bridge-originated control
	markerResponse = 0xF9 // device response (acks, mesh replies)
	markerReport   = 0xFA // device-originated report
)

// Function bytes at innerFunctionIdx.
const (
	funcMeshInfo = 0x52 // mesh-info request and reply
	funcVersion  = 0x8E // firmware version report
	funcStatus   = 0xDB // internal status report (followed by 0x13)
)

// innerChecksum computes the additive checksum for a complete inner
// struct: the sum of inner[6] through the byte before the checksum slot.
func innerChecksum(inner []byte) byte {
	var sum int
	for _, b := range inner[innerSumStart : len(inner)-2] {
		sum += int(b)
	}
	return byte(sum)
}

// sealInner writes the checksum into the last-but-one slot. The caller
// builds the struct with both boundary bytes already in place.
func sealInner(inner []byte) {
	inner[len(inner)-2] = innerChecksum(inner)
}

// checkInner validates the shape of a received inner struct and returns
// whether its checksum matches. Shape errors are real errors; a checksum
// mismatch is not.
func checkInner(inner []byte) (sumOK bool, err error) {
	if len(inner) < innerMinLen {
		return false, fmt.Errorf("%w: inner struct %d bytes", ErrFrameTooShort, len(inner))
	}
	if inner[0] != innerBoundary || inner[len(inner)-1] != innerBoundary {
		return false, fmt.Errorf("%w: missing 0x7E boundary", ErrBadInnerStruct)
	}
	return inner[len(inner)-2] == innerChecksum(inner), nil
}

// ChecksumMemory implements the stale-checksum policy for streamed 0x83
// status pages. Some firmware streams multi-page reports where every page
// repeats the first page's checksum: the first valid sum is remembered,
// later frames carrying that exact stale sum are accepted quietly, and a
// differing bad sum drops the memory.
//
// Not safe for concurrent use; each session owns one.
type ChecksumMemory struct {
	sum   byte
	valid bool
}

// Verdict classifies a checksum check against the memory.
type Verdict int

const (
	// ChecksumValid means the sum matched its own struct.
	ChecksumValid Verdict = iota
	// ChecksumStale means the sum was wrong but repeats the remembered
	// valid sum; the frame is accepted without complaint.
	ChecksumStale
	// ChecksumBad means the sum was wrong and unexplained. The frame is
	// still applied (verification is advisory) but logged.
	ChecksumBad
)

// Check records and classifies one frame's checksum.
func (m *ChecksumMemory) Check(inner []byte, sumOK bool) Verdict {
	actual := inner[len(inner)-2]
	if sumOK {
		m.sum = actual
		m.valid = true
		return ChecksumValid
	}
	if m.valid && actual == m.sum {
		return ChecksumStale
	}
	m.valid = false
	return ChecksumBad
}
