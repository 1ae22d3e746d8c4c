// Package patterns implements the pattern registry (C1): loading and
// compiling the external patterns file into regex patterns, byte patterns,
// and AST rules, plus the name-based classification helpers the rest of the
// pipeline uses to derive evidence kind and severity.
package patterns

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/standardbeagle/cryptoscan/internal/logging"
	"github.com/standardbeagle/cryptoscan/internal/types"
)

// EnvVar is the environment variable that overrides the default patterns
// file path.
const EnvVar = "CRYPTO_PATTERNS"

// DefaultPath is used when EnvVar is unset.
const DefaultPath = "patterns.json"

// fileRegexEntry mirrors one element of the "regex" array in the patterns
// file.
type fileRegexEntry struct {
	Name    string  `json:"name"`
	Pattern string  `json:"pattern"`
	ICase   *bool   `json:"icase"`
	Literal *bool   `json:"literal"`
	Syntax  *string `json:"syntax"`
}

type fileBytesEntry struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
	Type string `json:"type"`
}

type fileAstRuleEntry struct {
	ID           string   `json:"id"`
	Lang         string   `json:"lang"`
	Kind         string   `json:"kind"`
	Callee       string   `json:"callee"`
	Callees      []string `json:"callees"`
	ArgIndex     *int     `json:"arg_index"`
	Kw           string   `json:"kw"`
	KwValueRegex string   `json:"kw_value_regex"`
	ArgRegex     string   `json:"arg_regex"`
	Message      string   `json:"message"`
	Severity     string   `json:"severity"`
}

type fileFormat struct {
	Regex    []fileRegexEntry   `json:"regex"`
	Bytes    []fileBytesEntry   `json:"bytes"`
	AstRules []fileAstRuleEntry `json:"ast_rules"`
}

// Registry is the immutable, loaded-once set of patterns consulted by every
// analyzer.
type Registry struct {
	Regex       []types.RegexPattern
	Bytes       []types.BytePattern
	AstRules    []types.AstRule
	APIOnly     []types.RegexPattern
	SourcePath  string
	LoadWarning string
}

// Path resolves the patterns file location: CRYPTO_PATTERNS if set, else
// DefaultPath in the process working directory.
func Path() string {
	if p := os.Getenv(EnvVar); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads and compiles the patterns file at Path(). A missing or
// unparsable file is not fatal: Load returns an (empty) Registry with
// LoadWarning set and the scan continues with no patterns, matching the
// source's recovery behavior.
func Load() (*Registry, error) {
	return LoadFile(Path())
}

// LoadFile reads and compiles the patterns file at path.
func LoadFile(path string) (*Registry, error) {
	reg := &Registry{SourcePath: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		reg.LoadWarning = fmt.Sprintf("cannot open %s: %v", path, err)
		logging.Warnf("patterns: %s", reg.LoadWarning)
		return reg, nil
	}

	var doc fileFormat
	if err := json.Unmarshal(raw, &doc); err != nil {
		reg.LoadWarning = fmt.Sprintf("JSON parse error in %s: %v", path, err)
		logging.Warnf("patterns: %s", reg.LoadWarning)
		return reg, nil
	}
	validateDocument(raw)

	var warnings []string

	for _, e := range doc.Regex {
		if e.Name == "" || e.Pattern == "" {
			continue
		}
		icase := true
		if e.ICase != nil {
			icase = *e.ICase
		}
		literal := false
		if e.Literal != nil {
			literal = *e.Literal
		}
		syntax := "ECMAScript"
		if e.Syntax != nil && *e.Syntax != "" {
			syntax = *e.Syntax
		}
		rx, err := compile(e.Pattern, icase, literal, syntax)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("[regex] skip %q: %v", e.Name, err))
			continue
		}
		reg.Regex = append(reg.Regex, types.RegexPattern{
			Name: e.Name, Regexp: rx, ICase: icase, Literal: literal, Syntax: syntax,
		})
	}

	for _, e := range doc.Bytes {
		if e.Name == "" || e.Hex == "" {
			continue
		}
		bs := parseHexBytes(e.Hex)
		if len(bs) == 0 {
			warnings = append(warnings, fmt.Sprintf("[bytes] empty for %q", e.Name))
			continue
		}
		typ := e.Type
		if typ == "" {
			typ = string(types.BytePatternBytes)
		}
		reg.Bytes = append(reg.Bytes, types.BytePattern{
			Name: e.Name, Bytes: bs, Type: types.BytePatternType(typ),
		})
	}

	for _, e := range doc.AstRules {
		argIndex := -1
		if e.ArgIndex != nil {
			argIndex = *e.ArgIndex
		}
		reg.AstRules = append(reg.AstRules, types.AstRule{
			ID: e.ID, Lang: types.AstLang(e.Lang), Kind: types.AstRuleKind(e.Kind),
			Callee: e.Callee, Callees: e.Callees, ArgIndex: argIndex,
			ArgRegex: e.ArgRegex, Kw: e.Kw, KwValueRegex: e.KwValueRegex,
			Message: e.Message, Severity: types.Severity(e.Severity),
		})
	}

	reg.LoadWarning = strings.Join(warnings, "\n")
	for _, w := range warnings {
		logging.Warnf("patterns: %s", w)
	}

	reg.APIOnly = deriveAPIOnly(reg.Regex)
	return reg, nil
}

// compile mirrors compileRegexSafe: Go's regexp package is RE2-based and
// has no basic/extended POSIX dialect distinct from ECMAScript, so
// "extended"/"basic" compile through the same path as the default; a
// warning surfaces the difference rather than silently ignoring it
// (Open Question #2).
func compile(pattern string, icase, literal bool, syntax string) (*regexp.Regexp, error) {
	if syntax == "extended" || syntax == "basic" {
		logging.Warnf("patterns: syntax %q requested, compiling as ECMAScript/RE2", syntax)
	}
	actual := pattern
	if literal {
		actual = regexp.QuoteMeta(pattern)
	}
	if icase {
		actual = "(?i)" + actual
	}
	return regexp.Compile(actual)
}

// parseHexBytes tolerates "0x"/"X" separators and arbitrary whitespace
// between hex digit pairs, exactly as the source's tokenizer does: any
// non-hex-digit character other than resetting on 'x'/'X' is simply
// skipped.
func parseHexBytes(s string) []byte {
	var out []byte
	var tok strings.Builder
	isHex := func(c byte) bool {
		return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isHex(c) {
			tok.WriteByte(c)
			if tok.Len() == 2 {
				v, _ := strconv.ParseUint(tok.String(), 16, 8)
				out = append(out, byte(v))
				tok.Reset()
			}
		} else if c == 'x' || c == 'X' {
			tok.Reset()
		}
	}
	return out
}

// deriveAPIOnly keeps only entries whose evidence kind is api, pem, or oid
// (used when scanning PE imported function names).
func deriveAPIOnly(all []types.RegexPattern) []types.RegexPattern {
	var out []types.RegexPattern
	for _, p := range all {
		switch EvidenceKindOf(p.Name) {
		case types.EvidenceAPI, types.EvidencePEM, types.EvidenceOID:
			out = append(out, p)
		}
	}
	return out
}

// EvidenceKindOf classifies a regex pattern's evidence kind from its name.
func EvidenceKindOf(name string) types.EvidenceKind {
	s := strings.ToLower(name)
	switch {
	case strings.Contains(s, "oid"):
		return types.EvidenceOID
	case strings.Contains(s, "pem"):
		return types.EvidencePEM
	case strings.Contains(s, "api"):
		return types.EvidenceAPI
	default:
		return types.EvidenceText
	}
}

// SeverityOf classifies a text/AST/API detection's severity from the
// pattern name it matched (matched string itself is not consulted by the
// source's rule, so it is accepted only for interface symmetry).
func SeverityOf(name, matched string) types.Severity {
	_ = matched
	if strings.Contains(name, "OID dotted") {
		return types.SeverityHigh
	}
	if strings.Contains(name, "PEM Header") {
		return types.SeverityMedium
	}
	if strings.Contains(name, "API (OpenSSL)") ||
		strings.Contains(name, "API (Windows CNG/CAPI)") ||
		strings.Contains(name, "API (libgcrypt)") {
		return types.SeverityMedium
	}
	if strings.Contains(name, "MD5") || strings.Contains(name, "SHA-1") {
		return types.SeverityMedium
	}
	return types.SeverityLow
}

// SeverityOfByteType classifies a byte-pattern detection's severity from
// its type tag.
func SeverityOfByteType(t types.BytePatternType) types.Severity {
	if t.IsOIDType() {
		return types.SeverityHigh
	}
	if t == types.BytePatternCurveParam || t == types.BytePatternPrime {
		return types.SeverityMedium
	}
	return types.SeverityLow
}

// EvidenceLabelForByteType maps a byte-pattern type tag to its evidence
// kind.
func EvidenceLabelForByteType(t types.BytePatternType) types.EvidenceKind {
	if t.IsOIDType() {
		return types.EvidenceOID
	}
	if t == types.BytePatternCurveParam {
		return types.EvidenceCurveParam
	}
	if t == types.BytePatternPrime {
		return types.EvidencePrime
	}
	return types.EvidenceBytes
}
