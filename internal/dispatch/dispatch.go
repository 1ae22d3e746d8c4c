// Package dispatch implements the per-file dispatcher (C8): choosing which
// analyzer(s) to run over a file by extension or magic bytes, and — for the
// whole-file binary analyzer path — the import-severity classification and
// OID-anchor-windowed byte scan, followed by the postprocessor.
package dispatch

import (
	"strings"

	"github.com/standardbeagle/cryptoscan/internal/archive"
	"github.com/standardbeagle/cryptoscan/internal/astscan"
	"github.com/standardbeagle/cryptoscan/internal/bytescan"
	"github.com/standardbeagle/cryptoscan/internal/certscan"
	"github.com/standardbeagle/cryptoscan/internal/dynlink"
	"github.com/standardbeagle/cryptoscan/internal/jvmclass"
	"github.com/standardbeagle/cryptoscan/internal/patterns"
	"github.com/standardbeagle/cryptoscan/internal/postprocess"
	"github.com/standardbeagle/cryptoscan/internal/types"
)

var certKeyExts = map[string]struct{}{
	".cer": {}, ".crt": {}, ".der": {}, ".pem": {}, ".p7b": {}, ".p7c": {},
	".pfx": {}, ".p12": {}, ".key": {}, ".pub": {}, ".csr": {},
}

var archiveExts = map[string]struct{}{
	".jar": {}, ".zip": {}, ".war": {}, ".ear": {}, ".apk": {}, ".aar": {}, ".jmod": {},
}

var binaryExts = map[string]struct{}{
	".so": {}, ".dll": {}, ".exe": {}, ".a": {}, ".ld": {},
}

func lowerExt(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[i:])
}

// isVersionedSharedObject reports whether path looks like libfoo.so.1.2.3:
// an extension-insensitive dispatch needs this since lowerExt alone only
// sees the final ".3" segment.
func isVersionedSharedObject(path string) bool {
	idx := strings.Index(strings.ToLower(path), ".so.")
	return idx >= 0
}

// ScanFile dispatches path (whose content is already loaded into data) to
// the appropriate analyzer(s) and returns its detections. reg must be
// non-nil; a zero Registry (no patterns loaded) is valid and yields no
// pattern-based detections.
func ScanFile(path string, data []byte, reg *patterns.Registry, limits types.ArchiveLimits) []types.Detection {
	ext := lowerExt(path)

	if _, ok := certKeyExts[ext]; ok || certscan.IsLikelyPEM(data) {
		return certscan.Scan(path, data, reg.Bytes)
	}

	if lang := astscan.LangForExt(ext); lang != "" {
		return scanASTFile(path, lang, reg, data)
	}

	if ext == ".class" {
		out := jvmclass.ScanClassBytes(path, data)
		out = append(out, classByteStringScan(path, reg, data)...)
		return out
	}

	if _, ok := archiveExts[ext]; ok {
		return archive.Scan(path, reg, limits)
	}

	if dynlink.IsELF(data) || dynlink.IsPE(data) ||
		binaryExtMatch(ext) || isVersionedSharedObject(path) {
		return scanWholeFileBinary(path, data, reg)
	}

	return nil
}

func binaryExtMatch(ext string) bool {
	_, ok := binaryExts[ext]
	return ok
}

// HasCandidateExtension reports whether path's extension alone marks it as
// an analyzer candidate (§4.8/§4.10): cert/key, AST source, .class, archive,
// or binary extensions, plus the versioned "libfoo.so.N" naming convention.
// It does not account for magic-sniffed PEM/ELF/PE content; callers that
// need the full candidate test for an extensionless or disguised file
// should fall back to HasCandidateMagic on a header peek.
func HasCandidateExtension(path string) bool {
	ext := lowerExt(path)
	if _, ok := certKeyExts[ext]; ok {
		return true
	}
	if astscan.LangForExt(ext) != "" {
		return true
	}
	if ext == ".class" {
		return true
	}
	if _, ok := archiveExts[ext]; ok {
		return true
	}
	if binaryExtMatch(ext) {
		return true
	}
	return isVersionedSharedObject(path)
}

// HasCandidateMagic reports whether peek (a leading slice of a file's
// content, as small as a few KB) carries ELF/PE magic or looks like
// PEM-armored text. It is the fallback candidate test for files whose
// extension doesn't already mark them via HasCandidateExtension.
func HasCandidateMagic(peek []byte) bool {
	return dynlink.IsELF(peek) || dynlink.IsPE(peek) || certscan.IsLikelyPEM(peek)
}

func scanASTFile(path string, lang types.AstLang, reg *patterns.Registry, data []byte) []types.Detection {
	syms := astscan.ExtractCallSites(path, lang, data)
	var out []types.Detection
	for _, s := range syms {
		for _, cand := range candidateStrings(s) {
			for _, rp := range reg.Regex {
				if m := rp.Regexp.FindString(cand); m != "" {
					out = append(out, types.Detection{
						FilePath:      s.FilePath,
						Locus:         int64(s.Line),
						AlgorithmName: rp.Name,
						MatchString:   m,
						EvidenceKind:  types.EvidenceAST,
						Severity:      patterns.SeverityOf(rp.Name, m),
					})
				}
			}
		}
	}
	return out
}

func candidateStrings(s types.AstSymbol) []string {
	cands := []string{s.CalleeFull}
	if s.CalleeBase != s.CalleeFull {
		cands = append(cands, s.CalleeBase)
	}
	if s.FirstArg != "" {
		cands = append(cands, s.FirstArg)
	}
	return cands
}

// classByteStringScan mirrors archive's identical helper for a standalone
// .class file: string+regex scan plus OID-anchor-windowed byte scan.
func classByteStringScan(path string, reg *patterns.Registry, data []byte) []types.Detection {
	var out []types.Detection

	strs := bytescan.ExtractAsciiStrings(data, bytescan.DefaultMinStringLength)
	for _, m := range bytescan.ScanStringsWithOffsets(strs, reg.Regex) {
		out = append(out, types.Detection{
			FilePath:      path,
			Locus:         m.Offset,
			AlgorithmName: m.PatternName,
			MatchString:   m.Match,
			EvidenceKind:  patterns.EvidenceKindOf(m.PatternName),
			Severity:      patterns.SeverityOf(m.PatternName, m.Match),
		})
	}

	out = append(out, oidWindowedByteDetections(path, reg, data)...)
	return out
}

// oidWindowedByteDetections applies the shared OID-anchor-windowing policy
// (§4.8) to data's byte-pattern hits.
func oidWindowedByteDetections(path string, reg *patterns.Registry, data []byte) []types.Detection {
	var out []types.Detection
	for _, m := range bytescan.ScanBytesWithOIDWindow(data, reg.Bytes) {
		out = append(out, types.Detection{
			FilePath:      path,
			Locus:         m.Offset,
			AlgorithmName: m.PatternName,
			MatchString:   m.HexMatch,
			EvidenceKind:  patterns.EvidenceLabelForByteType(m.Type),
			Severity:      patterns.SeverityOfByteType(m.Type),
		})
	}
	return out
}

var elfCryptoLibTokens = []string{
	"crypto", "openssl", "mbed", "wolf", "gnutls", "nss", "gcrypt", "sodium", "nettle", "botan",
}

var peCryptoDLLTokens = []string{
	"crypt", "bcrypt", "crypt32", "ncrypt", "schannel", "secur32", "libcrypto", "openssl",
}

var importedWeakCryptoTokens = []string{
	"md5", "sha1", "des_", "rc4", "rc2", "rsa_generate_key", "seed",
}

func containsAny(s string, tokens []string) bool {
	lower := strings.ToLower(s)
	for _, t := range tokens {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// scanWholeFileBinary implements §4.8's whole-file binary analyzer: a
// string+byte scan with OID-anchor windowing, plus ELF/PE import
// classification, followed by the postprocessor.
func scanWholeFileBinary(path string, data []byte, reg *patterns.Registry) []types.Detection {
	var out []types.Detection

	strs := bytescan.ExtractAsciiStrings(data, bytescan.DefaultMinStringLength)
	for _, m := range bytescan.ScanStringsWithOffsets(strs, reg.Regex) {
		out = append(out, types.Detection{
			FilePath:      path,
			Locus:         m.Offset,
			AlgorithmName: m.PatternName,
			MatchString:   m.Match,
			EvidenceKind:  patterns.EvidenceKindOf(m.PatternName),
			Severity:      patterns.SeverityOf(m.PatternName, m.Match),
		})
	}

	out = append(out, oidWindowedByteDetections(path, reg, data)...)

	if dynlink.IsELF(data) {
		for _, imp := range dynlink.ParseELF(data) {
			sev := types.SeverityLow
			if containsAny(imp.Lib, elfCryptoLibTokens) {
				sev = types.SeverityMedium
			}
			out = append(out, types.Detection{
				FilePath:      path,
				AlgorithmName: "ELF DT_NEEDED",
				MatchString:   imp.Lib,
				EvidenceKind:  types.EvidenceImport,
				Severity:      sev,
			})
		}
	} else if dynlink.IsPE(data) {
		for _, imp := range dynlink.ParsePE(data) {
			sev := types.SeverityLow
			if containsAny(imp.Lib, peCryptoDLLTokens) {
				sev = types.SeverityMedium
			}
			out = append(out, types.Detection{
				FilePath:      path,
				AlgorithmName: "PE import",
				MatchString:   imp.Lib,
				EvidenceKind:  types.EvidenceImport,
				Severity:      sev,
			})

			for _, fn := range imp.Funcs {
				for _, rp := range reg.APIOnly {
					if m := rp.Regexp.FindString(fn); m != "" {
						out = append(out, types.Detection{
							FilePath:      path,
							AlgorithmName: rp.Name,
							MatchString:   m,
							EvidenceKind:  types.EvidenceAPI,
							Severity:      patterns.SeverityOf(rp.Name, m),
						})
					}
				}
				if containsAny(fn, importedWeakCryptoTokens) {
					out = append(out, types.Detection{
						FilePath:      path,
						AlgorithmName: "ImportedWeakCrypto",
						MatchString:   fn,
						EvidenceKind:  types.EvidenceAPI,
						Severity:      types.SeverityMedium,
					})
				}
			}
		}
	}

	return postprocess.Apply(out)
}
