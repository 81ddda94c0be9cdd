package idempotency

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Fingerprint hashes the request identity (method, path, body) so a replayed
// key can be checked against the original request contents.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
