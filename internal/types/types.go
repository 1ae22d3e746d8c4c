// Package types holds the data model shared by every cryptoscan component:
// detections, pattern definitions, AST rules/symbols, imports, and scan
// profiles/options. Nothing in this package performs I/O.
package types

import "regexp"

// EvidenceKind classifies how a Detection was obtained, independent of its
// Severity.
type EvidenceKind string

const (
	EvidenceText       EvidenceKind = "text"
	EvidenceAPI        EvidenceKind = "api"
	EvidencePEM        EvidenceKind = "pem"
	EvidenceOID        EvidenceKind = "oid"
	EvidenceCurveParam EvidenceKind = "curve_param"
	EvidencePrime      EvidenceKind = "prime"
	EvidenceBytes      EvidenceKind = "bytes"
	EvidenceImport     EvidenceKind = "import"
	EvidenceAST        EvidenceKind = "ast"
	EvidenceBytecode   EvidenceKind = "bytecode"
)

// ValidEvidenceKind reports whether k is a member of the closed evidence-kind
// set.
func ValidEvidenceKind(k EvidenceKind) bool {
	switch k {
	case EvidenceText, EvidenceAPI, EvidencePEM, EvidenceOID, EvidenceCurveParam,
		EvidencePrime, EvidenceBytes, EvidenceImport, EvidenceAST, EvidenceBytecode:
		return true
	default:
		return false
	}
}

// Severity is drawn only from this closed set.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "med"
	SeverityHigh   Severity = "high"
)

// UsesLineLocus reports whether k addresses its Detection.Locus as a
// 1-based source line rather than a byte offset.
func UsesLineLocus(k EvidenceKind) bool {
	return k == EvidenceAST || k == EvidenceBytecode
}

// Detection is the unit of output of the scanner.
type Detection struct {
	FilePath      string       `json:"file_path"`
	Locus         int64        `json:"locus"`
	AlgorithmName string       `json:"algorithm_name"`
	MatchString   string       `json:"match_string"`
	EvidenceKind  EvidenceKind `json:"evidence_kind"`
	Severity      Severity     `json:"severity"`
}

// RegexPattern is a named, compiled regex plus the compile-time flags it was
// built with. Name encodes a classification hint ("OID dotted", "PEM
// Header", "API (OpenSSL)", …) used by EvidenceKindOf/SeverityOf.
type RegexPattern struct {
	Name    string
	Regexp  *regexp.Regexp
	ICase   bool
	Literal bool
	Syntax  string
}

// BytePatternType tags the semantic role of a byte pattern.
type BytePatternType string

const (
	BytePatternOID         BytePatternType = "oid"
	BytePatternASN1OIDDash BytePatternType = "asn1-oid"
	BytePatternASN1OIDUnd  BytePatternType = "asn1_oid"
	BytePatternCurveParam  BytePatternType = "curve_param"
	BytePatternPrime       BytePatternType = "prime"
	BytePatternBytes       BytePatternType = "bytes"
)

// IsOIDType reports whether t is one of the OID-flavored byte pattern types.
func (t BytePatternType) IsOIDType() bool {
	return t == BytePatternOID || t == BytePatternASN1OIDDash || t == BytePatternASN1OIDUnd
}

// BytePattern is a named, non-empty byte-sequence needle.
type BytePattern struct {
	Name  string
	Bytes []byte
	Type  BytePatternType
}

// AstLang enumerates the source languages the AST call-site extractor
// supports.
type AstLang string

const (
	LangCPP    AstLang = "cpp"
	LangJava   AstLang = "java"
	LangPython AstLang = "python"
)

// AstRuleKind distinguishes how an AstRule matches a call site.
type AstRuleKind string

const (
	AstRuleCall            AstRuleKind = "call"
	AstRuleCallFullname    AstRuleKind = "call_fullname"
	AstRuleCallFullnameArg AstRuleKind = "call_fullname+arg"
)

// AstRule is a single rule from the ast_rules section of the patterns file.
type AstRule struct {
	ID           string
	Lang         AstLang
	Kind         AstRuleKind
	Callee       string
	Callees      []string
	ArgIndex     int
	ArgRegex     string
	Kw           string
	KwValueRegex string
	Message      string
	Severity     Severity
}

// AstSymbol is the analyzer output for one call site found by the AST
// extractor.
type AstSymbol struct {
	FilePath   string
	Line       int
	Lang       AstLang
	CalleeFull string
	CalleeBase string
	FirstArg   string
}

// AsciiString is a printable-ASCII run extracted from a byte buffer.
type AsciiString struct {
	Offset int64
	Text   string
}

// Import is one dynamically linked library dependency. Funcs is always
// empty for ELF imports; for PE it holds the ordered list of imported
// function names.
type Import struct {
	Lib   string
	Funcs []string
}

// ScanProfile names one of the three built-in scan profiles.
type ScanProfile string

const (
	ProfileDefault           ScanProfile = "Default"
	ProfileInstitutionStrict ScanProfile = "InstitutionStrict"
	ProfileDeveloperMax      ScanProfile = "DeveloperMax"
)

// ArchiveLimits bounds an archive-walker pass over one container.
type ArchiveLimits struct {
	MaxEntryBytes int64
	MaxTotalBytes int64
	MaxEntries    int
}

// ScanOptions configures one traversal/scheduler run (C10).
type ScanOptions struct {
	Recurse           bool
	DeepJar           bool
	ExcludeSystemDirs bool
	ExcludeDevDirs    bool
	Profile           ScanProfile
	IncludeGlobs      []string
	ExcludeGlobs      []string
	ArchiveLimits     ArchiveLimits
}

// DefaultScanOptions returns the documented defaults (recurse=true,
// deep_jar=true, profile=Default).
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Recurse: true,
		DeepJar: true,
		Profile: ProfileDefault,
	}
}

// OnDetect is invoked once per Detection, serialized against OnProgress by a
// single callback mutex (see internal/scan).
type OnDetect func(Detection)

// OnProgress reports enumeration/execution progress. The two totals are
// fixed at enumeration time.
type OnProgress func(currentPath string, filesDone, filesTotal int, bytesDone, bytesTotal int64)

// IsCancelled is polled by the core between files and before claiming the
// next work index.
type IsCancelled func() bool
