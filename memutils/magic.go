package memutils

import "encoding/binary"

// corruptionDetectionMagicValue is the 4-byte pattern written across freed memory when
// corruption detection is enabled
const corruptionDetectionMagicValue uint32 = 0x7F84E666

const magicValueSize = 4

// WriteMagicValue fills data with an easy-to-identify marker. Any trailing bytes that do not
// fit a whole marker are left untouched.
func WriteMagicValue(data []byte) {
	for offset := 0; offset+magicValueSize <= len(data); offset += magicValueSize {
		binary.LittleEndian.PutUint32(data[offset:], corruptionDetectionMagicValue)
	}
}

// ValidateMagicValue verifies that the marker written by WriteMagicValue is still present across
// data. It returns the offset of the first damaged marker and false, or -1 and true.
func ValidateMagicValue(data []byte) (int, bool) {
	for offset := 0; offset+magicValueSize <= len(data); offset += magicValueSize {
		if binary.LittleEndian.Uint32(data[offset:]) != corruptionDetectionMagicValue {
			return offset, false
		}
	}

	return -1, true
}
