package dispatch

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cryptoscan/internal/patterns"
	"github.com/standardbeagle/cryptoscan/internal/types"
)

func testRegistry(t *testing.T) *patterns.Registry {
	t.Helper()
	reg, err := patterns.LoadFile("../patterns/testdata/patterns.json")
	require.NoError(t, err)
	return reg
}

func TestScanFileRoutesCertExtensionToCertscan(t *testing.T) {
	data := []byte("not actually a certificate, just text")
	dets := ScanFile("host.key", data, testRegistry(t), types.ArchiveLimits{})
	for _, d := range dets {
		assert.Equal(t, types.EvidenceOID, d.EvidenceKind)
	}
}

func TestScanFileRoutesPEMSniffEvenWithoutCertExtension(t *testing.T) {
	pem := []byte("-----BEGIN CERTIFICATE-----\nnotreallybase64\n-----END CERTIFICATE-----\n")
	dets := ScanFile("blob.dat", pem, testRegistry(t), types.ArchiveLimits{})
	for _, d := range dets {
		assert.Equal(t, types.EvidenceOID, d.EvidenceKind)
	}
}

func TestScanFileRoutesPythonToASTExtractor(t *testing.T) {
	src := []byte("import hashlib\nh = hashlib.new(\"md5\")\n")
	dets := ScanFile("hasher.py", src, testRegistry(t), types.ArchiveLimits{})
	require.NotEmpty(t, dets)
	for _, d := range dets {
		assert.Equal(t, types.EvidenceAST, d.EvidenceKind)
	}
}

func TestScanFileRoutesJavaToASTExtractor(t *testing.T) {
	src := []byte(`
import java.security.MessageDigest;
class Foo {
    void hash() throws Exception {
        MessageDigest md = MessageDigest.getInstance("MD5");
    }
}
`)
	dets := ScanFile("Foo.java", src, testRegistry(t), types.ArchiveLimits{})
	require.NotEmpty(t, dets)
	for _, d := range dets {
		assert.Equal(t, types.EvidenceAST, d.EvidenceKind)
	}
}

func TestScanFileRoutesCppToASTExtractor(t *testing.T) {
	src := []byte(`
#include <openssl/des.h>
void f() { DES_set_key(nullptr, nullptr); }
`)
	dets := ScanFile("legacy.cpp", src, testRegistry(t), types.ArchiveLimits{})
	require.NotEmpty(t, dets)
	for _, d := range dets {
		assert.Equal(t, types.EvidenceAST, d.EvidenceKind)
	}
}

func buildClassWithUTF8Entries(entries ...string) []byte {
	var body []byte
	for _, e := range entries {
		body = append(body, 1)
		body = append(body, byte(len(e)>>8), byte(len(e)))
		body = append(body, e...)
	}
	header := make([]byte, 10)
	header[0], header[1], header[2], header[3] = 0xCA, 0xFE, 0xBA, 0xBE
	cpCount := len(entries) + 1
	header[8] = byte(cpCount >> 8)
	header[9] = byte(cpCount)
	return append(header, body...)
}

func TestScanFileDispatchesClassToBothAnalyzers(t *testing.T) {
	buf := buildClassWithUTF8Entries("javax/crypto/Cipher", "getInstance", "AES/ECB", "SHA-1")
	dets := ScanFile("Weak.class", buf, testRegistry(t), types.ArchiveLimits{})
	require.NotEmpty(t, dets)
	foundBytecode, foundText := false, false
	for _, d := range dets {
		if d.EvidenceKind == types.EvidenceBytecode {
			foundBytecode = true
		}
		if d.EvidenceKind == types.EvidenceText {
			foundText = true
		}
	}
	assert.True(t, foundBytecode, "expected a bytecode detection from the JVM class reader, got %+v", dets)
	assert.True(t, foundText, "expected a text detection from the byte/string scan, got %+v", dets)
}

func TestScanFileRoutesArchiveExtensionToArchiveWalker(t *testing.T) {
	dets := ScanFile("broken.jar", []byte("not a zip"), testRegistry(t), types.ArchiveLimits{})
	assert.Nil(t, dets)
}

func TestIsVersionedSharedObject(t *testing.T) {
	assert.True(t, isVersionedSharedObject("/usr/lib/libcrypto.so.3"))
	assert.True(t, isVersionedSharedObject("/usr/lib/libfoo.SO.1.2.3"))
	assert.False(t, isVersionedSharedObject("/usr/lib/libcrypto.so"))
	assert.False(t, isVersionedSharedObject("readme.txt"))
}

// buildMinimalELF64 constructs a minimal little-endian 64-bit ELF with a
// single PT_LOAD segment (identity vaddr==file offset) and a PT_DYNAMIC
// segment carrying one DT_STRTAB and one DT_NEEDED entry naming lib.
func buildMinimalELF64(t *testing.T, lib string) []byte {
	t.Helper()
	const (
		phoff     = 0x40
		phentsize = 56
		phnum     = 2
		dynOff    = phoff + phentsize*phnum
		dynSz     = 48
		strtabOff = dynOff + dynSz
	)
	strtab := append([]byte{0x00}, append([]byte(lib), 0x00)...)
	total := strtabOff + len(strtab)

	buf := make([]byte, total)
	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4] = 2
	buf[5] = 1

	binary.LittleEndian.PutUint64(buf[0x20:], phoff)
	binary.LittleEndian.PutUint16(buf[0x36:], phentsize)
	binary.LittleEndian.PutUint16(buf[0x38:], phnum)

	putPhdr64 := func(off int, pType uint32, pOffset, pVaddr, pFilesz, pMemsz uint64) {
		binary.LittleEndian.PutUint32(buf[off+0:], pType)
		binary.LittleEndian.PutUint32(buf[off+4:], 0)
		binary.LittleEndian.PutUint64(buf[off+8:], pOffset)
		binary.LittleEndian.PutUint64(buf[off+16:], pVaddr)
		binary.LittleEndian.PutUint64(buf[off+24:], pVaddr)
		binary.LittleEndian.PutUint64(buf[off+32:], pFilesz)
		binary.LittleEndian.PutUint64(buf[off+40:], pMemsz)
	}
	putPhdr64(phoff, 1, 0, 0, uint64(total), uint64(total))
	putPhdr64(phoff+phentsize, 2, dynOff, dynOff, uint64(dynSz), uint64(dynSz))

	putDyn := func(idx int, tag, val uint64) {
		off := dynOff + idx*16
		binary.LittleEndian.PutUint64(buf[off:], tag)
		binary.LittleEndian.PutUint64(buf[off+8:], val)
	}
	putDyn(0, 5, uint64(strtabOff))
	putDyn(1, 1, 1)
	putDyn(2, 0, 0)

	copy(buf[strtabOff:], strtab)
	return buf
}

func TestScanFileClassifiesELFCryptoImportAsMedium(t *testing.T) {
	buf := buildMinimalELF64(t, "libcrypto.so.3")
	dets := ScanFile("app.so", buf, testRegistry(t), types.ArchiveLimits{})
	require.NotEmpty(t, dets)
	var found bool
	for _, d := range dets {
		if d.EvidenceKind == types.EvidenceImport && d.MatchString == "libcrypto.so.3" {
			found = true
			assert.Equal(t, types.SeverityMedium, d.Severity)
		}
	}
	assert.True(t, found, "expected a DT_NEEDED import detection for libcrypto.so.3, got %+v", dets)
}

func TestScanFileClassifiesELFNonCryptoImportAsLow(t *testing.T) {
	buf := buildMinimalELF64(t, "libm.so.6")
	dets := ScanFile("app.so", buf, testRegistry(t), types.ArchiveLimits{})
	require.NotEmpty(t, dets)
	for _, d := range dets {
		if d.EvidenceKind == types.EvidenceImport {
			assert.Equal(t, types.SeverityLow, d.Severity)
		}
	}
}

// buildMinimalPE32 constructs a minimal little-endian PE32 image with one
// section and one import descriptor for dll importing the given function
// names (via FirstThunk only; OriginalFirstThunk left null).
func buildMinimalPE32(t *testing.T, dll string, funcs []string) []byte {
	t.Helper()
	const (
		lfanew  = 0x80
		optSize = 224
		sectRVA = 0x1000
	)
	nt := lfanew
	opt := nt + 24
	sectHdr := opt + optSize
	rawPtr := sectHdr + 40

	descRVA := sectRVA
	nameRVA := sectRVA + 0x30
	thunkRVA := sectRVA + 0x40
	ibnRVA := make([]uint32, len(funcs))
	cursor := uint32(sectRVA + 0x60)
	for i, fn := range funcs {
		ibnRVA[i] = cursor
		cursor += uint32(2 + len(fn) + 1 + 1)
	}
	sectionBytes := int(cursor-sectRVA) + 16

	total := rawPtr + sectionBytes
	buf := make([]byte, total)

	buf[0], buf[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(buf[0x3C:], uint32(lfanew))
	buf[nt], buf[nt+1], buf[nt+2], buf[nt+3] = 'P', 'E', 0, 0
	binary.LittleEndian.PutUint16(buf[nt+6:], 1)
	binary.LittleEndian.PutUint16(buf[nt+20:], optSize)

	binary.LittleEndian.PutUint16(buf[opt:], 0x10B)
	const ddOff = 96
	binary.LittleEndian.PutUint32(buf[opt+ddOff+8:], sectRVA)
	binary.LittleEndian.PutUint32(buf[opt+ddOff+12:], uint32(sectionBytes))

	copy(buf[sectHdr:sectHdr+8], []byte(".idata\x00\x00"))
	binary.LittleEndian.PutUint32(buf[sectHdr+8:], uint32(sectionBytes))
	binary.LittleEndian.PutUint32(buf[sectHdr+12:], sectRVA)
	binary.LittleEndian.PutUint32(buf[sectHdr+16:], uint32(sectionBytes))
	binary.LittleEndian.PutUint32(buf[sectHdr+20:], uint32(rawPtr))

	off := func(rva uint32) int { return rawPtr + int(rva-sectRVA) }

	binary.LittleEndian.PutUint32(buf[off(uint32(descRVA)):], 0)
	binary.LittleEndian.PutUint32(buf[off(uint32(descRVA))+12:], uint32(nameRVA))
	binary.LittleEndian.PutUint32(buf[off(uint32(descRVA))+16:], uint32(thunkRVA))

	copy(buf[off(uint32(nameRVA)):], append([]byte(dll), 0x00))

	thunkOff := off(uint32(thunkRVA))
	for i := range funcs {
		binary.LittleEndian.PutUint32(buf[thunkOff+i*4:], ibnRVA[i])
	}

	for i, fn := range funcs {
		ibn := off(ibnRVA[i])
		binary.LittleEndian.PutUint16(buf[ibn:], 0)
		copy(buf[ibn+2:], append([]byte(fn), 0x00))
	}

	return buf
}

func TestScanFileClassifiesPECryptoDLLAsMedium(t *testing.T) {
	buf := buildMinimalPE32(t, "bcrypt.dll", []string{"BCryptOpenAlgorithmProvider"})
	dets := ScanFile("app.exe", buf, testRegistry(t), types.ArchiveLimits{})
	require.NotEmpty(t, dets)
	var foundImport, foundAPI bool
	for _, d := range dets {
		if d.EvidenceKind == types.EvidenceImport && d.MatchString == "bcrypt.dll" {
			foundImport = true
			assert.Equal(t, types.SeverityMedium, d.Severity)
		}
		if d.EvidenceKind == types.EvidenceAPI && d.MatchString == "BCryptOpenAlgorithmProvider" {
			foundAPI = true
		}
	}
	assert.True(t, foundImport, "expected a PE import detection for bcrypt.dll, got %+v", dets)
	assert.True(t, foundAPI, "expected an API detection for BCryptOpenAlgorithmProvider, got %+v", dets)
}

func TestScanFileDetectsImportedWeakCryptoFunction(t *testing.T) {
	// RC2_CBC_encrypt matches the ImportedWeakCrypto token list ("rc2") but
	// none of the registry's explicit API regexes, so it isn't also
	// collected as an API-evidence match and so survives the postprocessor's
	// ImportedWeakCrypto-vs-API-name suppression step.
	buf := buildMinimalPE32(t, "libeay32.dll", []string{"RC2_CBC_encrypt"})
	dets := ScanFile("app.exe", buf, testRegistry(t), types.ArchiveLimits{})
	require.NotEmpty(t, dets)
	var found bool
	for _, d := range dets {
		if d.AlgorithmName == "ImportedWeakCrypto" {
			found = true
			assert.Equal(t, types.SeverityMedium, d.Severity)
			assert.Equal(t, types.EvidenceAPI, d.EvidenceKind)
		}
	}
	assert.True(t, found, "expected an ImportedWeakCrypto detection, got %+v", dets)
}

func TestScanFileWholeBinaryPathPostprocessesDuplicates(t *testing.T) {
	buf := buildMinimalPE32(t, "libeay32.dll", []string{"MD5_Init"})
	// MD5_Init both matches the "API (OpenSSL)" regex pattern over the
	// string scan and the ImportedWeakCrypto token list; the postprocessor
	// must not emit the same evidence_kind+algorithm+match triple twice.
	dets := ScanFile("app.exe", buf, testRegistry(t), types.ArchiveLimits{})
	seen := make(map[string]int)
	for _, d := range dets {
		key := string(d.EvidenceKind) + "|" + d.AlgorithmName + "|" + d.MatchString
		seen[key]++
	}
	for key, count := range seen {
		assert.Equal(t, 1, count, "detection %q should be deduplicated by the postprocessor", key)
	}
}

func TestScanFileUnknownExtensionNoMagicYieldsNil(t *testing.T) {
	assert.Nil(t, ScanFile("readme.txt", []byte("just some plain text"), testRegistry(t), types.ArchiveLimits{}))
}
