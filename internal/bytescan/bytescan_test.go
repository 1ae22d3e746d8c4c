package bytescan

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/standardbeagle/cryptoscan/internal/types"
)

func TestExtractAsciiStrings(t *testing.T) {
	data := []byte{0, 0, 'h', 'e', 'l', 'l', 'o', 0, 'h', 'i', 0, 'w', 'o', 'r', 'l', 'd', '!'}
	out := ExtractAsciiStrings(data, DefaultMinStringLength)
	if assert.Len(t, out, 2) {
		assert.Equal(t, int64(2), out[0].Offset)
		assert.Equal(t, "hello", out[0].Text)
		assert.Equal(t, "world!", out[1].Text)
	}
}

func TestScanStringsWithOffsets(t *testing.T) {
	strs := []types.AsciiString{{Offset: 10, Text: "use MD5 here and MD5 there"}}
	pat := types.RegexPattern{Name: "Weak hash MD5", Regexp: regexp.MustCompile(`MD5`)}
	matches := ScanStringsWithOffsets(strs, []types.RegexPattern{pat})
	if assert.Len(t, matches, 2) {
		assert.Equal(t, int64(14), matches[0].Offset)
		assert.Equal(t, int64(27), matches[1].Offset)
	}
}

func TestScanBytesWithOffsetsOverlapping(t *testing.T) {
	needle := []byte{0xAA, 0xBB, 0xAA}
	data := []byte{0xAA, 0xBB, 0xAA, 0xBB, 0xAA}
	p := types.BytePattern{Name: "n", Bytes: needle, Type: types.BytePatternBytes}
	matches := ScanBytesWithOffsets(data, []types.BytePattern{p})
	if assert.Len(t, matches, 2) {
		assert.Equal(t, int64(0), matches[0].Offset)
		assert.Equal(t, int64(2), matches[1].Offset)
	}
}

func TestScanBytesWithOffsetsSingleRepeatedByteSkipsRun(t *testing.T) {
	needle := []byte{0x00, 0x00, 0x00}
	data := bytes.Repeat([]byte{0x00}, 10)
	p := types.BytePattern{Name: "zeros", Bytes: needle, Type: types.BytePatternBytes}
	matches := ScanBytesWithOffsets(data, []types.BytePattern{p})
	assert.Len(t, matches, 1)
	assert.Equal(t, int64(0), matches[0].Offset)
}

func TestScanBytesWithOffsetsLowEntropyNonOverlapping(t *testing.T) {
	needle := bytes.Repeat([]byte{0x01, 0x02}, 8) // 16 bytes, 2 distinct values
	data := append(append([]byte{}, needle...), needle...)
	p := types.BytePattern{Name: "lowent", Bytes: needle, Type: types.BytePatternBytes}
	matches := ScanBytesWithOffsets(data, []types.BytePattern{p})
	if assert.Len(t, matches, 2) {
		assert.Equal(t, int64(0), matches[0].Offset)
		assert.Equal(t, int64(16), matches[1].Offset)
	}
}

func TestScanBytesWithOffsetsHexUppercase(t *testing.T) {
	p := types.BytePattern{Name: "oid", Bytes: []byte{0x2a, 0x86, 0x48}, Type: types.BytePatternOID}
	matches := ScanBytesWithOffsets([]byte{0x2a, 0x86, 0x48}, []types.BytePattern{p})
	if assert.Len(t, matches, 1) {
		assert.Equal(t, "2A8648", matches[0].HexMatch)
	}
}
