package jobs

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/go-crypt/x/blake2b"

	"github.com/poiesic/syllabus/core"
)

// Fingerprint identifies requests that must produce the same result. The
// owner is part of the scope so private grounding never crosses users through
// the cache.
func Fingerprint(p core.JobParams) string {
	h, _ := blake2b.New(32, nil)
	for _, part := range []string{
		p.TaskType,
		string(p.BookID),
		string(p.ProfileID),
		p.OwnerUserID,
		strconv.Itoa(p.UnitFrom),
		strconv.Itoa(p.UnitTo),
		NormalizeTopic(p.Topic),
		strconv.Itoa(p.ItemCount),
		strings.ToLower(strings.TrimSpace(p.Difficulty)),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeTopic lowercases a topic and collapses its whitespace.
func NormalizeTopic(topic string) string {
	return strings.Join(strings.Fields(strings.ToLower(topic)), " ")
}
