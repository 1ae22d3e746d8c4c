// Package jvmclass implements the JVM class reader (C5): a constant-pool
// walk over a .class file followed by four co-occurrence rules over the
// UTF8/Integer constants it collected. Detections always carry locus 0 —
// the constant pool does not preserve bytecode offsets for the strings it
// interns, so there is nothing more precise to report.
package jvmclass

import (
	"encoding/binary"

	"github.com/standardbeagle/cryptoscan/internal/types"
)

const classMagic = 0xCAFEBABE

const (
	tagUTF8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagInvokeDynamic      = 18
)

// constantPool holds the subset of constant-pool entries the co-occurrence
// rules below care about: every UTF8 string (class/method names, including
// fully qualified class names recorded in internal "/"-separated form or the
// external "." form some bytecode emitters use) and every integer constant.
type constantPool struct {
	utf8 map[string]struct{}
	ints map[int32]struct{}
}

func (p *constantPool) has(s string) bool {
	_, ok := p.utf8[s]
	return ok
}

func (p *constantPool) hasAny(ss ...string) bool {
	for _, s := range ss {
		if p.has(s) {
			return true
		}
	}
	return false
}

func (p *constantPool) hasInt(v int32) bool {
	_, ok := p.ints[v]
	return ok
}

// parseConstantPool walks the constant-pool entries of a .class file
// starting just after the minor/major version fields. It returns ok=false
// if the buffer is too short to be a class file, isn't CAFEBABE-tagged, or
// the pool is truncated or carries an unrecognised tag — in every such case
// the original scanner abandons the file rather than guess at a resync
// point, and this port does the same.
func parseConstantPool(buf []byte) (*constantPool, bool) {
	if len(buf) < 16 {
		return nil, false
	}
	if binary.BigEndian.Uint32(buf[0:4]) != classMagic {
		return nil, false
	}

	off := 8
	if off+2 > len(buf) {
		return nil, false
	}
	cpCount := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2

	pool := &constantPool{utf8: make(map[string]struct{}), ints: make(map[int32]struct{})}

	for i := 1; i < cpCount; i++ {
		if off >= len(buf) {
			return nil, false
		}
		tag := buf[off]
		off++

		switch tag {
		case tagUTF8:
			if off+2 > len(buf) {
				return nil, false
			}
			n := int(binary.BigEndian.Uint16(buf[off:]))
			off += 2
			if off+n > len(buf) {
				return nil, false
			}
			pool.utf8[string(buf[off:off+n])] = struct{}{}
			off += n

		case tagInteger:
			if off+4 > len(buf) {
				return nil, false
			}
			pool.ints[int32(binary.BigEndian.Uint32(buf[off:]))] = struct{}{}
			off += 4

		case tagLong, tagDouble:
			// 8-byte value; these entries occupy two constant-pool slots.
			if off+8 > len(buf) {
				return nil, false
			}
			off += 8
			i++

		case tagClass, tagString, tagMethodType:
			if off+2 > len(buf) {
				return nil, false
			}
			off += 2

		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType, tagInvokeDynamic:
			if off+4 > len(buf) {
				return nil, false
			}
			off += 4

		case tagMethodHandle:
			if off+3 > len(buf) {
				return nil, false
			}
			off += 3

		case tagFloat:
			if off+4 > len(buf) {
				return nil, false
			}
			off += 4

		default:
			return nil, false
		}
	}

	return pool, true
}

func detection(displayName, algorithm, match string, sev types.Severity) types.Detection {
	return types.Detection{
		FilePath:      displayName,
		Locus:         0,
		AlgorithmName: algorithm,
		MatchString:   match,
		EvidenceKind:  types.EvidenceBytecode,
		Severity:      sev,
	}
}

// ScanClassBytes applies the four weak-crypto co-occurrence rules to a
// single .class file's constant pool: MessageDigest.getInstance(MD5|SHA-1),
// Cipher.getInstance of an ECB/RC4 mode, Signature.getInstance of an
// MD5/SHA1-with-RSA scheme, and KeyPairGenerator.initialize with a key size
// of 512/768/1024 bits. A rule fires only when every one of its named
// constants is present somewhere in the pool — the scanner never attempts
// to correlate which method body a given constant was loaded from.
func ScanClassBytes(displayName string, buf []byte) []types.Detection {
	pool, ok := parseConstantPool(buf)
	if !ok {
		return nil
	}

	var out []types.Detection

	if pool.hasAny("java/security/MessageDigest", "java.security.MessageDigest") &&
		pool.has("getInstance") &&
		pool.hasAny("MD5", "SHA1", "SHA-1") {
		out = append(out, detection(displayName,
			"Java: MessageDigest.getInstance(MD5|SHA-1)", "MD5|SHA1", types.SeverityMedium))
	}

	if pool.hasAny("javax/crypto/Cipher", "javax.crypto.Cipher") &&
		pool.has("getInstance") &&
		pool.hasAny("DES/ECB", "RC4", "AES/ECB") {
		out = append(out, detection(displayName,
			"Java: Cipher.getInstance(DES/ECB|RC4|AES/ECB)", "modes", types.SeverityHigh))
	}

	if pool.hasAny("java/security/Signature", "java.security.Signature") &&
		pool.has("getInstance") &&
		pool.hasAny("MD5withRSA", "SHA1withRSA", "SHA-1withRSA") {
		out = append(out, detection(displayName,
			"Java: Signature.getInstance(MD5withRSA|SHA1withRSA)", "MD5|SHA1", types.SeverityMedium))
	}

	if pool.hasAny("java/security/KeyPairGenerator", "java.security.KeyPairGenerator") &&
		pool.hasAny("initialize", "java/security/KeyPairGenerator.initialize") &&
		(pool.hasInt(512) || pool.hasInt(768) || pool.hasInt(1024)) {
		out = append(out, detection(displayName,
			"Java: KeyPairGenerator.initialize(weak key size)", "512|768|1024", types.SeverityMedium))
	}

	return out
}
