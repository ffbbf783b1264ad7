package quota

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint identifies an anonymous caller by its client-held key plus a
// hash of network address and user agent
func Fingerprint(clientKey, ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + "-" + userAgent))
	return clientKey + "-" + hex.EncodeToString(sum[:])
}
