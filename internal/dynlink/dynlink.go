// Package dynlink implements the dynamic-link parser (C3): ELF dynamic
// section (DT_NEEDED) and PE import directory walking. Every read is bounds
// checked against the buffer length before use; a malformed or truncated
// buffer yields whatever imports were discovered so far, never a panic or
// an aborted scan.
package dynlink

import (
	"encoding/binary"

	"github.com/standardbeagle/cryptoscan/internal/types"
)

const (
	maxDynlinkNameBytes = 4096
	maxPEDllNameBytes   = 1024
	maxPEFuncNameBytes  = 2048
)

// IsELF reports whether buf begins with the ELF magic.
func IsELF(buf []byte) bool {
	return len(buf) >= 4 && buf[0] == 0x7F && buf[1] == 'E' && buf[2] == 'L' && buf[3] == 'F'
}

// IsPE reports whether buf is an MZ/PE executable.
func IsPE(buf []byte) bool {
	if len(buf) < 0x40 {
		return false
	}
	if buf[0] != 'M' || buf[1] != 'Z' {
		return false
	}
	lfanew := binary.LittleEndian.Uint32(buf[0x3C:])
	if uint64(lfanew)+4 > uint64(len(buf)) {
		return false
	}
	p := buf[lfanew:]
	return p[0] == 'P' && p[1] == 'E' && p[2] == 0 && p[3] == 0
}

func u16(be bool, b []byte) uint16 {
	if be {
		return binary.BigEndian.Uint16(b)
	}
	return binary.LittleEndian.Uint16(b)
}

func u32(be bool, b []byte) uint32 {
	if be {
		return binary.BigEndian.Uint32(b)
	}
	return binary.LittleEndian.Uint32(b)
}

func u64(be bool, b []byte) uint64 {
	if be {
		return binary.BigEndian.Uint64(b)
	}
	return binary.LittleEndian.Uint64(b)
}

func cstringAt(buf []byte, off int, maxLen int) string {
	if off < 0 || off >= len(buf) {
		return ""
	}
	end := off
	for end < len(buf) && buf[end] != 0 && end-off < maxLen {
		end++
	}
	return string(buf[off:end])
}

// vaddrToOffset64 scans PT_LOAD (p_type==1) segments of a 64-bit ELF to
// translate a virtual address into a file offset.
func vaddrToOffset64(buf []byte, be bool, va uint64, phoff uint64, phentsize, phnum uint16) uint64 {
	const phdrSize = 56
	for i := uint16(0); i < phnum; i++ {
		off := int(phoff) + int(i)*int(phentsize)
		if off+phdrSize > len(buf) {
			break
		}
		pType := u32(be, buf[off:])
		pOffset := u64(be, buf[off+8:])
		pVaddr := u64(be, buf[off+16:])
		pMemsz := u64(be, buf[off+40:])
		if pType == 1 {
			if va >= pVaddr && va < pVaddr+pMemsz {
				delta := va - pVaddr
				foff := pOffset + delta
				if foff < uint64(len(buf)) {
					return foff
				}
			}
		}
	}
	return 0
}

func vaddrToOffset32(buf []byte, be bool, va uint32, phoff uint32, phentsize, phnum uint16) uint32 {
	const phdrSize = 32
	for i := uint16(0); i < phnum; i++ {
		off := int(phoff) + int(i)*int(phentsize)
		if off+phdrSize > len(buf) {
			break
		}
		pType := u32(be, buf[off:])
		pOffset := u32(be, buf[off+4:])
		pVaddr := u32(be, buf[off+8:])
		pMemsz := u32(be, buf[off+20:])
		if pType == 1 {
			if va >= pVaddr && va < pVaddr+pMemsz {
				delta := va - pVaddr
				foff := pOffset + delta
				if foff < uint32(len(buf)) {
					return foff
				}
			}
		}
	}
	return 0
}

// ParseELF walks the dynamic section and returns one Import per DT_NEEDED
// entry. Funcs is always empty for ELF imports.
func ParseELF(buf []byte) []types.Import {
	var out []types.Import
	if !IsELF(buf) || len(buf) < 0x40 {
		return out
	}
	eiClass := buf[4]
	be := buf[5] == 2

	switch eiClass {
	case 2: // 64-bit
		ePhoff := u64(be, buf[0x20:])
		ePhentsize := u16(be, buf[0x36:])
		ePhnum := u16(be, buf[0x38:])

		var dynOff, dynSz uint64
		for i := uint16(0); i < ePhnum; i++ {
			off := int(ePhoff) + int(i)*int(ePhentsize)
			if off+56 > len(buf) {
				break
			}
			pType := u32(be, buf[off:])
			pOffset := u64(be, buf[off+8:])
			pFilesz := u64(be, buf[off+32:])
			if pType == 2 {
				dynOff, dynSz = pOffset, pFilesz
			}
		}
		if dynOff == 0 || dynSz == 0 {
			return out
		}
		var strtabVA uint64
		var needed []uint64
		for i := uint64(0); i+16 <= dynSz; i += 16 {
			off := int(dynOff + i)
			if off+16 > len(buf) {
				break
			}
			dTag := u64(be, buf[off:])
			dVal := u64(be, buf[off+8:])
			if dTag == 0 {
				break
			}
			switch dTag {
			case 5:
				strtabVA = dVal
			case 1:
				needed = append(needed, dVal)
			}
		}
		if strtabVA == 0 {
			return out
		}
		strtabOff := vaddrToOffset64(buf, be, strtabVA, ePhoff, ePhentsize, ePhnum)
		if strtabOff == 0 || strtabOff >= uint64(len(buf)) {
			return out
		}
		for _, noff := range needed {
			name := cstringAt(buf, int(strtabOff+noff), maxDynlinkNameBytes)
			if name != "" {
				out = append(out, types.Import{Lib: name})
			}
		}
		return out

	case 1: // 32-bit
		ePhoff := u32(be, buf[0x1C:])
		ePhentsize := u16(be, buf[0x2A:])
		ePhnum := u16(be, buf[0x2C:])

		var dynOff, dynSz uint32
		for i := uint16(0); i < ePhnum; i++ {
			off := int(ePhoff) + int(i)*int(ePhentsize)
			if off+32 > len(buf) {
				break
			}
			pType := u32(be, buf[off:])
			pOffset := u32(be, buf[off+4:])
			pFilesz := u32(be, buf[off+16:])
			if pType == 2 {
				dynOff, dynSz = pOffset, pFilesz
			}
		}
		if dynOff == 0 || dynSz == 0 {
			return out
		}
		var strtabVA uint32
		var needed []uint32
		for i := uint32(0); i+8 <= dynSz; i += 8 {
			off := int(dynOff + i)
			if off+8 > len(buf) {
				break
			}
			dTag := u32(be, buf[off:])
			dVal := u32(be, buf[off+4:])
			if dTag == 0 {
				break
			}
			switch dTag {
			case 5:
				strtabVA = dVal
			case 1:
				needed = append(needed, dVal)
			}
		}
		if strtabVA == 0 {
			return out
		}
		strtabOff := vaddrToOffset32(buf, be, strtabVA, ePhoff, ePhentsize, ePhnum)
		if strtabOff == 0 || strtabOff >= uint32(len(buf)) {
			return out
		}
		for _, noff := range needed {
			name := cstringAt(buf, int(strtabOff+noff), maxDynlinkNameBytes)
			if name != "" {
				out = append(out, types.Import{Lib: name})
			}
		}
		return out
	}
	return out
}

type peSection struct {
	va, rawSize, rawPtr uint32
}

func rvaToOffset(buf []byte, rva uint32, secs []peSection) int {
	for _, s := range secs {
		start := s.va
		end := s.va + s.rawSize
		if s.rawSize == 0 {
			end = s.va + 1
		}
		if rva >= start && rva < end {
			delta := rva - start
			off := int(s.rawPtr) + int(delta)
			if off < len(buf) {
				return off
			}
		}
	}
	return 0
}

// ParsePE walks the import data directory and returns one Import per DLL,
// each with its ordered list of imported function names (ordinal-only
// thunk entries are skipped, as the source does).
func ParsePE(buf []byte) []types.Import {
	var out []types.Import
	if !IsPE(buf) {
		return out
	}
	lfanew := int(binary.LittleEndian.Uint32(buf[0x3C:]))
	if lfanew+24 > len(buf) {
		return out
	}
	numSecs := int(binary.LittleEndian.Uint16(buf[lfanew+6:]))
	optSize := int(binary.LittleEndian.Uint16(buf[lfanew+20:]))
	opt := lfanew + 24
	if opt+optSize > len(buf) {
		return out
	}
	magic := binary.LittleEndian.Uint16(buf[opt:])
	peplus := magic == 0x20B
	ddOff := 96
	if peplus {
		ddOff = 112
	}
	if ddOff+16 > optSize {
		return out
	}
	impRVA := binary.LittleEndian.Uint32(buf[opt+ddOff+8:])
	impSize := binary.LittleEndian.Uint32(buf[opt+ddOff+12:])
	sectHdr := opt + optSize

	secs := make([]peSection, 0, numSecs)
	for i := 0; i < numSecs; i++ {
		sh := sectHdr + i*40
		if sh+40 > len(buf) {
			break
		}
		secs = append(secs, peSection{
			va:      binary.LittleEndian.Uint32(buf[sh+12:]),
			rawSize: binary.LittleEndian.Uint32(buf[sh+16:]),
			rawPtr:  binary.LittleEndian.Uint32(buf[sh+20:]),
		})
	}
	if impRVA == 0 || impSize == 0 {
		return out
	}
	impOff := rvaToOffset(buf, impRVA, secs)
	if impOff == 0 || impOff >= len(buf) {
		return out
	}

	cur := impOff
	for {
		if cur+20 > len(buf) {
			break
		}
		oft := binary.LittleEndian.Uint32(buf[cur:])
		nameRVA := binary.LittleEndian.Uint32(buf[cur+12:])
		ft := binary.LittleEndian.Uint32(buf[cur+16:])
		if oft == 0 && nameRVA == 0 && ft == 0 {
			break
		}
		var dll string
		if nameRVA != 0 {
			if nameOff := rvaToOffset(buf, nameRVA, secs); nameOff != 0 {
				dll = cstringAt(buf, nameOff, maxPEDllNameBytes)
			}
		}
		var funcs []string
		thunkRVA := oft
		if thunkRVA == 0 {
			thunkRVA = ft
		}
		if thunkRVA != 0 {
			if thunkOff := rvaToOffset(buf, thunkRVA, secs); thunkOff != 0 {
				funcs = walkThunks(buf, thunkOff, peplus, secs)
			}
		}
		if dll != "" {
			out = append(out, types.Import{Lib: dll, Funcs: funcs})
		}
		cur += 20
	}
	return out
}

func walkThunks(buf []byte, thunkOff int, peplus bool, secs []peSection) []string {
	var funcs []string
	for {
		var ent uint64
		var isOrd bool
		if peplus {
			if thunkOff+8 > len(buf) {
				break
			}
			ent = binary.LittleEndian.Uint64(buf[thunkOff:])
			if ent == 0 {
				break
			}
			isOrd = ent>>63 != 0
			thunkOff += 8
		} else {
			if thunkOff+4 > len(buf) {
				break
			}
			ent = uint64(binary.LittleEndian.Uint32(buf[thunkOff:]))
			if ent == 0 {
				break
			}
			isOrd = ent>>31 != 0
			thunkOff += 4
		}
		if isOrd {
			continue
		}
		ibnRVA := uint32(ent & 0x7FFFFFFF)
		ibnOff := rvaToOffset(buf, ibnRVA, secs)
		if ibnOff == 0 || ibnOff+2 >= len(buf) {
			continue
		}
		fn := cstringAt(buf, ibnOff+2, maxPEFuncNameBytes)
		if fn != "" {
			funcs = append(funcs, fn)
		}
	}
	return funcs
}
