package correlator

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// ContentHash canonicalises actor+text into the stable hash stored as
// turns.jsonl_entry_hash and used by the in-process dedupe ring.
func ContentHash(actor models.Actor, text string) string {
	h := sha256.New()
	h.Write([]byte(actor))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
