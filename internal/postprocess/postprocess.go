// Package postprocess implements the postprocessor (C9): the per-file
// suppression and deduplication pass applied after a whole-file binary scan
// assembles its raw detection list. It is pure and idempotent — applying it
// twice to its own output yields the same list.
package postprocess

import (
	"strings"

	"github.com/standardbeagle/cryptoscan/internal/types"
)

// curveFamilies is matched in order; the first substring found in the
// lowercased algorithm name wins. A name matching none of these is its own
// family.
var curveFamilies = []string{
	"secp256", "secp384", "secp521",
	"brainpoolp256", "brainpoolp384", "brainpoolp512",
	"prime256v1",
}

func curveFamily(algorithm string) string {
	lower := strings.ToLower(algorithm)
	for _, fam := range curveFamilies {
		if strings.Contains(lower, fam) {
			return fam
		}
	}
	return lower
}

// importLibToken strips the directory (either slash style, since PE paths
// may be Windows-flavored even on a Linux host) and an exact trailing
// ".dll"/".so" from an imported library name, lowercased. A versioned
// SONAME like "libcrypto.so.3" does NOT end exactly in ".so" and so is left
// untouched — matching the source's ends_with check rather than a
// strip-any-extension heuristic.
func importLibToken(lib string) string {
	lower := strings.ToLower(lib)
	if i := strings.LastIndexAny(lower, "/\\"); i >= 0 {
		lower = lower[i+1:]
	}
	switch {
	case strings.HasSuffix(lower, ".dll"), strings.HasSuffix(lower, ".so"):
		if dot := strings.LastIndexByte(lower, '.'); dot >= 0 {
			lower = lower[:dot]
		}
	}
	return lower
}

// Apply runs the six-step suppression/dedup pass over dets, which must all
// originate from the scan of a single file. The input slice is not mutated.
func Apply(dets []types.Detection) []types.Detection {
	apiFuncs := make(map[string]struct{})
	importLibTokens := make(map[string]struct{})
	for _, d := range dets {
		if d.EvidenceKind == types.EvidenceAPI && d.AlgorithmName != "ImportedWeakCrypto" {
			apiFuncs[strings.ToLower(d.MatchString)] = struct{}{}
		}
		if d.EvidenceKind == types.EvidenceImport {
			importLibTokens[importLibToken(d.MatchString)] = struct{}{}
		}
	}

	seenOIDAlgorithm := make(map[string]struct{})
	seenCurveFamily := make(map[string]struct{})

	var out []types.Detection
	for _, d := range dets {
		switch d.EvidenceKind {
		case types.EvidenceOID:
			if _, dup := seenOIDAlgorithm[d.AlgorithmName]; dup {
				continue
			}
			seenOIDAlgorithm[d.AlgorithmName] = struct{}{}

		case types.EvidenceCurveParam:
			fam := curveFamily(d.AlgorithmName)
			if _, dup := seenCurveFamily[fam]; dup {
				continue
			}
			seenCurveFamily[fam] = struct{}{}

		case types.EvidenceText:
			lowerMatch := strings.ToLower(d.MatchString)
			if _, isAPI := apiFuncs[lowerMatch]; isAPI {
				continue
			}
			if overlapsAny(lowerMatch, apiFuncs) {
				continue
			}
			if _, isLib := importLibTokens[lowerMatch]; isLib {
				continue
			}
		}

		if d.AlgorithmName == "ImportedWeakCrypto" {
			if _, isAPI := apiFuncs[strings.ToLower(d.MatchString)]; isAPI {
				continue
			}
		}

		out = append(out, d)
	}

	return dedup(out)
}

// overlapsAny reports whether lowerMatch is a substring of any api name or
// any api name is a substring of lowerMatch.
func overlapsAny(lowerMatch string, apiFuncs map[string]struct{}) bool {
	if lowerMatch == "" {
		return false
	}
	for api := range apiFuncs {
		if api == "" {
			continue
		}
		if strings.Contains(api, lowerMatch) || strings.Contains(lowerMatch, api) {
			return true
		}
	}
	return false
}

func dedup(dets []types.Detection) []types.Detection {
	seen := make(map[string]struct{}, len(dets))
	out := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		key := string(d.EvidenceKind) + "|" + d.AlgorithmName + "|" + strings.ToLower(d.MatchString)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}
