// Package bytescan implements the byte/string matcher (C2): printable-ASCII
// string extraction with source offsets, regex matching over those runs,
// and a byte-pattern scanner with the progress-skip heuristics needed to
// avoid quadratic output on degenerate payloads.
package bytescan

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/standardbeagle/cryptoscan/internal/types"
)

// DefaultMinStringLength is the minimum run length ExtractAsciiStrings
// emits.
const DefaultMinStringLength = 4

func isPrintable(b byte) bool {
	return b >= 0x20 && b <= 0x7E
}

// ExtractAsciiStrings walks data and returns every maximal printable-ASCII
// run of length at least minLen as an (offset, text) pair.
func ExtractAsciiStrings(data []byte, minLen int) []types.AsciiString {
	var out []types.AsciiString
	n := len(data)
	i := 0
	for i < n {
		for i < n && !isPrintable(data[i]) {
			i++
		}
		if i >= n {
			break
		}
		start := i
		for i < n && isPrintable(data[i]) {
			i++
		}
		if i-start >= minLen {
			out = append(out, types.AsciiString{Offset: int64(start), Text: string(data[start:i])})
		}
	}
	return out
}

// StringMatch is one regex hit over an extracted ASCII run.
type StringMatch struct {
	PatternName string
	Match       string
	Offset      int64
}

// ScanStringsWithOffsets runs every compiled regex over every extracted
// string, computing the absolute offset of each match as run.Offset +
// match start within the run.
func ScanStringsWithOffsets(strs []types.AsciiString, patterns []types.RegexPattern) []StringMatch {
	var out []StringMatch
	for _, p := range patterns {
		if p.Regexp == nil {
			continue
		}
		for _, s := range strs {
			locs := p.Regexp.FindAllStringIndex(s.Text, -1)
			for _, loc := range locs {
				out = append(out, StringMatch{
					PatternName: p.Name,
					Match:       s.Text[loc[0]:loc[1]],
					Offset:      s.Offset + int64(loc[0]),
				})
			}
		}
	}
	return out
}

// ByteMatch is one byte-pattern hit, rendered as uppercase hex.
type ByteMatch struct {
	PatternName string
	HexMatch    string
	Offset      int64
}

func isAllSameByte(needle []byte) (byte, bool) {
	if len(needle) == 0 {
		return 0, false
	}
	v := needle[0]
	for _, b := range needle {
		if b != v {
			return 0, false
		}
	}
	return v, true
}

func isLowEntropy(needle []byte) bool {
	if len(needle) < 16 {
		return false
	}
	var seen [256]bool
	distinct := 0
	for _, b := range needle {
		if !seen[b] {
			seen[b] = true
			distinct++
			if distinct > 2 {
				break
			}
		}
	}
	return distinct <= 2
}

func hexUpper(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, v := range b {
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}

// WindowedMatch is a byte-pattern hit that survived the OID-anchor
// windowing policy shared by the plain-.class, archive-.class-entry, and
// whole-file-binary dispatch paths.
type WindowedMatch struct {
	PatternName string
	HexMatch    string
	Offset      int64
	Type        types.BytePatternType
}

// ScanBytesWithOIDWindow runs ScanBytesWithOffsets over data, then applies
// the shared retention policy: OID-typed hits are always kept and form an
// anchor set; curve_param/prime hits survive only within 2048 bytes
// (absolute) of some anchor; any byte pattern whose name carries the
// " n)" curve-order distinguisher is dropped outright; every other type is
// dropped. This is the OID-context windowing described for the whole-file
// binary analyzer and reused verbatim for .class files (standalone or
// inside an archive).
func ScanBytesWithOIDWindow(data []byte, bytePatterns []types.BytePattern) []WindowedMatch {
	const ctxWindow = 2048

	byteMatches := ScanBytesWithOffsets(data, bytePatterns)
	typeByName := make(map[string]types.BytePatternType, len(bytePatterns))
	for _, bp := range bytePatterns {
		typeByName[bp.Name] = bp.Type
	}

	var oidAnchors []int64
	for _, m := range byteMatches {
		if typeByName[m.PatternName].IsOIDType() {
			oidAnchors = append(oidAnchors, m.Offset)
		}
	}
	oidAnchors = sortUniqueInt64(oidAnchors)

	var out []WindowedMatch
	for _, m := range byteMatches {
		t := typeByName[m.PatternName]
		if strings.Contains(m.PatternName, " n)") {
			continue
		}
		switch {
		case t.IsOIDType():
			// always kept
		case t == types.BytePatternCurveParam || t == types.BytePatternPrime:
			if !nearAnyOffset(oidAnchors, m.Offset, ctxWindow) {
				continue
			}
		default:
			continue
		}
		out = append(out, WindowedMatch{PatternName: m.PatternName, HexMatch: m.HexMatch, Offset: m.Offset, Type: t})
	}
	return out
}

func nearAnyOffset(sorted []int64, offset int64, window int64) bool {
	for _, a := range sorted {
		d := a - offset
		if d < 0 {
			d = -d
		}
		if d <= window {
			return true
		}
	}
	return false
}

func sortUniqueInt64(s []int64) []int64 {
	if len(s) < 2 {
		return s
	}
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// ScanBytesWithOffsets linearly searches data for each byte pattern. Two
// skip policies bound the scan on degenerate needles without missing any
// non-overlapping occurrence outside the run just consumed:
//   - a needle that is a single repeated byte skips past the full maximal
//     run of that byte once a hit is found;
//   - a needle of at least 16 bytes with at most 2 distinct byte values
//     advances by the needle's length (non-overlapping);
//   - otherwise the scan advances by one byte (overlapping, complete).
func ScanBytesWithOffsets(data []byte, patterns []types.BytePattern) []ByteMatch {
	var out []ByteMatch
	for _, p := range patterns {
		needle := p.Bytes
		if len(needle) == 0 || len(data) < len(needle) {
			continue
		}
		sameVal, allSame := isAllSameByte(needle)
		lowEntropy := isLowEntropy(needle)
		hex := hexUpper(needle)

		pos := 0
		for pos <= len(data)-len(needle) {
			idx := bytes.Index(data[pos:], needle)
			if idx < 0 {
				break
			}
			off := pos + idx
			out = append(out, ByteMatch{PatternName: p.Name, HexMatch: hex, Offset: int64(off)})

			switch {
			case allSame:
				j := off + len(needle)
				for j < len(data) && data[j] == sameVal {
					j++
				}
				pos = j
			case lowEntropy:
				pos = off + len(needle)
			default:
				pos = off + 1
			}
		}
	}
	return out
}
