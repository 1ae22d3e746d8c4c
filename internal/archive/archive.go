// Package archive implements the ZIP-family archive walker (C7): it opens a
// .jar/.zip/.war/.ear/.apk/.aar/.jmod file, enumerates entries, and dispatches
// .class entries to the JVM class reader plus a byte/string scan, and .java
// entries to the Java AST extractor. Entry display paths are
// "archive_path::entry_name".
//
// The walker terminates after completing the first matching entry. This
// mirrors the upstream scanner's observed (if likely unintentional)
// contract exactly; see the design notes for the decision to preserve it
// rather than "fix" it into a full-archive scan.
package archive

import (
	"archive/zip"
	"io"
	"strings"

	"github.com/standardbeagle/cryptoscan/internal/astscan"
	"github.com/standardbeagle/cryptoscan/internal/bytescan"
	"github.com/standardbeagle/cryptoscan/internal/jvmclass"
	"github.com/standardbeagle/cryptoscan/internal/patterns"
	"github.com/standardbeagle/cryptoscan/internal/types"
)

// Limits bounds how much of an archive is read; zero fields mean
// unbounded, matching an InstitutionStrict promotion that zeroes jar
// limits (see internal/scan).
type Limits = types.ArchiveLimits

func lowerExt(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i:])
}

// Scan opens filePath as a ZIP-family archive and returns the detections
// from the first matching (.class or .java) entry found, or nil if the
// archive can't be opened or no entry matches.
func Scan(filePath string, reg *patterns.Registry, limits Limits) []types.Detection {
	r, err := zip.OpenReader(filePath)
	if err != nil {
		return nil
	}
	defer r.Close()

	var totalUncompressed int64
	entryCount := 0

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entryCount++
		if limits.MaxEntries > 0 && entryCount > limits.MaxEntries {
			break
		}

		ext := lowerExt(f.Name)
		if ext != ".class" && ext != ".java" {
			continue
		}

		if limits.MaxEntryBytes > 0 && int64(f.UncompressedSize64) > limits.MaxEntryBytes {
			continue
		}
		totalUncompressed += int64(f.UncompressedSize64)
		if limits.MaxTotalBytes > 0 && totalUncompressed > limits.MaxTotalBytes {
			break
		}

		rc, err := f.Open()
		if err != nil {
			continue
		}
		data, err := readAllLimited(rc, limits.MaxEntryBytes)
		rc.Close()
		if err != nil {
			continue
		}

		display := filePath + "::" + f.Name

		if ext == ".java" {
			return scanJavaEntry(display, reg, data)
		}
		return scanClassEntry(display, reg, data)
	}

	return nil
}

// readAllLimited reads rc to completion, or until more than max bytes have
// been read when max > 0 (a zero max means unbounded).
func readAllLimited(rc io.Reader, max int64) ([]byte, error) {
	if max > 0 {
		rc = io.LimitReader(rc, max+1)
	}
	return io.ReadAll(rc)
}

func scanJavaEntry(display string, reg *patterns.Registry, data []byte) []types.Detection {
	syms := astscan.ExtractCallSites(display, types.LangJava, data)
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

func scanClassEntry(display string, reg *patterns.Registry, data []byte) []types.Detection {
	out := jvmclass.ScanClassBytes(display, data)
	out = append(out, classByteStringScan(display, reg, data)...)
	return out
}

// classByteStringScan mirrors the plain-.class dispatch path (§4.8): a
// string+regex scan plus an OID-anchor-windowed byte scan.
func classByteStringScan(display string, reg *patterns.Registry, data []byte) []types.Detection {
	var out []types.Detection

	strs := bytescan.ExtractAsciiStrings(data, bytescan.DefaultMinStringLength)
	for _, m := range bytescan.ScanStringsWithOffsets(strs, reg.Regex) {
		out = append(out, types.Detection{
			FilePath:      display,
			Locus:         m.Offset,
			AlgorithmName: m.PatternName,
			MatchString:   m.Match,
			EvidenceKind:  patterns.EvidenceKindOf(m.PatternName),
			Severity:      patterns.SeverityOf(m.PatternName, m.Match),
		})
	}

	for _, m := range bytescan.ScanBytesWithOIDWindow(data, reg.Bytes) {
		out = append(out, types.Detection{
			FilePath:      display,
			Locus:         m.Offset,
			AlgorithmName: m.PatternName,
			MatchString:   m.HexMatch,
			EvidenceKind:  patterns.EvidenceLabelForByteType(m.Type),
			Severity:      patterns.SeverityOfByteType(m.Type),
		})
	}

	return out
}
