// Package certscan implements the X.509/CSR reader (C4): DER, then PEM
// parsing of certificates and certificate requests, extracting the
// signature-algorithm and public-key OIDs. When no parse attempt succeeds,
// it falls back to a byte-pattern OID scan.
package certscan

import (
	"crypto/x509"
	"encoding/pem"

	"github.com/standardbeagle/cryptoscan/internal/bytescan"
	"github.com/standardbeagle/cryptoscan/internal/patterns"
	"github.com/standardbeagle/cryptoscan/internal/types"
)

const (
	sigAlgDetectionName    = "x509.sig_alg"
	pubKeyAlgDetectionName = "id-ecPublicKey"
)

// sigAlgOIDs maps Go's named signature-algorithm constants to their
// dotted-decimal ASN.1 OIDs, since x509.Certificate never exposes the raw
// AlgorithmIdentifier bytes. RSA-PSS variants share one OID; the PSS
// parameters that disambiguate them live outside the algorithm identifier.
var sigAlgOIDs = map[x509.SignatureAlgorithm]string{
	x509.MD2WithRSA:       "1.2.840.113549.1.1.2",
	x509.MD5WithRSA:       "1.2.840.113549.1.1.4",
	x509.SHA1WithRSA:      "1.2.840.113549.1.1.5",
	x509.SHA256WithRSA:    "1.2.840.113549.1.1.11",
	x509.SHA384WithRSA:    "1.2.840.113549.1.1.12",
	x509.SHA512WithRSA:    "1.2.840.113549.1.1.13",
	x509.SHA256WithRSAPSS: "1.2.840.113549.1.1.10",
	x509.SHA384WithRSAPSS: "1.2.840.113549.1.1.10",
	x509.SHA512WithRSAPSS: "1.2.840.113549.1.1.10",
	x509.DSAWithSHA1:      "1.2.840.10040.4.3",
	x509.DSAWithSHA256:    "2.16.840.1.101.3.4.3.2",
	x509.ECDSAWithSHA1:    "1.2.840.10045.4.1",
	x509.ECDSAWithSHA256:  "1.2.840.10045.4.3.2",
	x509.ECDSAWithSHA384:  "1.2.840.10045.4.3.3",
	x509.ECDSAWithSHA512:  "1.2.840.10045.4.3.4",
	x509.PureEd25519:      "1.3.101.112",
}

// pubKeyAlgOIDs maps Go's named public-key-algorithm constants to their
// dotted-decimal OIDs.
var pubKeyAlgOIDs = map[x509.PublicKeyAlgorithm]string{
	x509.RSA:     "1.2.840.113549.1.1.1",
	x509.DSA:     "1.2.840.10040.4.1",
	x509.ECDSA:   "1.2.840.10045.2.1",
	x509.Ed25519: "1.3.101.112",
}

func sigAlgOID(alg x509.SignatureAlgorithm) string {
	if oid, ok := sigAlgOIDs[alg]; ok {
		return oid
	}
	return alg.String()
}

func pubKeyAlgOID(alg x509.PublicKeyAlgorithm) string {
	if oid, ok := pubKeyAlgOIDs[alg]; ok {
		return oid
	}
	return alg.String()
}

// Scan attempts, in order: DER certificate, PEM certificate, PEM CSR, DER
// CSR. On the first successful parse it emits the signature-algorithm OID
// (severity med) and the public-key-algorithm OID (severity high). If none
// succeed, it falls back to a byte-pattern scan restricted to OID-typed
// patterns.
func Scan(filePath string, data []byte, bytePatterns []types.BytePattern) []types.Detection {
	if cert, err := x509.ParseCertificate(data); err == nil {
		return detectionsForCert(filePath, cert)
	}
	if block, _ := pem.Decode(data); block != nil && block.Type == "CERTIFICATE" {
		if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
			return detectionsForCert(filePath, cert)
		}
	}
	if csr, ok := decodePEMCSR(data); ok {
		return detectionsForCSR(filePath, csr)
	}
	if csr, err := x509.ParseCertificateRequest(data); err == nil {
		return detectionsForCSR(filePath, csr)
	}

	return oidByteFallback(filePath, data, bytePatterns)
}

func decodePEMCSR(data []byte) (*x509.CertificateRequest, bool) {
	block, _ := pem.Decode(data)
	if block == nil || (block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST") {
		return nil, false
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, false
	}
	return csr, true
}

func detectionsForCert(filePath string, cert *x509.Certificate) []types.Detection {
	return []types.Detection{
		{
			FilePath:      filePath,
			AlgorithmName: sigAlgDetectionName,
			MatchString:   sigAlgOID(cert.SignatureAlgorithm),
			EvidenceKind:  types.EvidenceOID,
			Severity:      types.SeverityMedium,
		},
		{
			FilePath:      filePath,
			AlgorithmName: pubKeyAlgDetectionName,
			MatchString:   pubKeyAlgOID(cert.PublicKeyAlgorithm),
			EvidenceKind:  types.EvidenceOID,
			Severity:      types.SeverityHigh,
		},
	}
}

func detectionsForCSR(filePath string, csr *x509.CertificateRequest) []types.Detection {
	return []types.Detection{
		{
			FilePath:      filePath,
			AlgorithmName: sigAlgDetectionName,
			MatchString:   sigAlgOID(csr.SignatureAlgorithm),
			EvidenceKind:  types.EvidenceOID,
			Severity:      types.SeverityMedium,
		},
		{
			FilePath:      filePath,
			AlgorithmName: pubKeyAlgDetectionName,
			MatchString:   pubKeyAlgOID(csr.PublicKeyAlgorithm),
			EvidenceKind:  types.EvidenceOID,
			Severity:      types.SeverityHigh,
		},
	}
}

func oidByteFallback(filePath string, data []byte, bytePatterns []types.BytePattern) []types.Detection {
	var oidOnly []types.BytePattern
	for _, p := range bytePatterns {
		if p.Type.IsOIDType() {
			oidOnly = append(oidOnly, p)
		}
	}
	matches := bytescan.ScanBytesWithOffsets(data, oidOnly)
	out := make([]types.Detection, 0, len(matches))
	for _, m := range matches {
		out = append(out, types.Detection{
			FilePath:      filePath,
			Locus:         m.Offset,
			AlgorithmName: m.PatternName,
			MatchString:   m.HexMatch,
			EvidenceKind:  types.EvidenceOID,
			Severity:      patterns.SeverityOfByteType(types.BytePatternOID),
		})
	}
	return out
}
