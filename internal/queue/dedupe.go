package queue

import (
	"crypto/sha256"
	"encoding/hex"
)

// computeDedupeKey implements spec.md §4.2's dedupe_key formula, grounded
// on the teacher's GenerateHashID (internal/idgen/hash.go): stable content
// hashed with crypto/sha256 rather than a non-cryptographic hash, since
// dedupe correctness matters more than speed for a queue key.
func computeDedupeKey(workspace, beadID, parentWorkspace, logicalChangeFingerprint string) string {
	h := sha256.New()
	h.Write([]byte(workspace))
	h.Write([]byte{0})
	h.Write([]byte(beadID))
	h.Write([]byte{0})
	h.Write([]byte(parentWorkspace))
	h.Write([]byte{0})
	h.Write([]byte(logicalChangeFingerprint))
	return hex.EncodeToString(h.Sum(nil))
}
