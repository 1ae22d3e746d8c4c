package certscan

import "strings"

const pemSniffWindow = 4096

// IsLikelyPEM reports whether data looks like PEM-armored content: at
// least two lines containing "-----BEGIN " or "-----END " within the
// first 4096 bytes. Used by the dispatcher to route PEM-looking files to
// this package even when their extension isn't a recognised cert/key
// extension.
func IsLikelyPEM(data []byte) bool {
	if len(data) > pemSniffWindow {
		data = data[:pemSniffWindow]
	}
	found := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, "-----BEGIN ") || strings.Contains(line, "-----END ") {
			found++
			if found >= 2 {
				return true
			}
		}
	}
	return false
}
