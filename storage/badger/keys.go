package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/syllabus/core"
)

// Key prefixes for different data types
const (
	bookPrefix          = "book"
	nodePrefix          = "node"
	nodeIndexPrefix     = "nodeidx"
	atomPrefix          = "atom"
	atomIndexPrefix     = "atomidx"
	placementPrefix     = "place"
	profilePrefix       = "prof"
	artifactPrefix      = "art"
	artifactIndexPrefix = "artp"
	jobPrefix           = "job"
	jobClaimPrefix      = "jobclaim"
	jobCachePrefix      = "jobcache"
	jobQueuePrefix      = "jobq"
	jobQueueSeq         = "jobqseq"
)

func joinKey(parts ...string) []byte {
	n := len(parts)
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	for _, p := range parts {
		buf = append(buf, p...)
		buf = append(buf, ':')
	}
	return buf[:len(buf)-1]
}

// makeBookKey generates a key for a book catalog entry.
func makeBookKey(id core.ID) []byte {
	return joinKey(bookPrefix, string(id))
}

// makeNodeKey groups nodes under their book so a book deletes by prefix.
// Format: node:bookID:nodeID
func makeNodeKey(bookID, nodeID core.ID) []byte {
	return joinKey(nodePrefix, string(bookID), string(nodeID))
}

func makeNodeBookPrefix(bookID core.ID) []byte {
	return append(joinKey(nodePrefix, string(bookID)), ':')
}

// makeNodeIndexKey maps a node ID to its book ID.
func makeNodeIndexKey(nodeID core.ID) []byte {
	return joinKey(nodeIndexPrefix, string(nodeID))
}

// makeAtomKey generates the primary key for an atom.
// Format: atom:bookID:sequence(8 bytes BigEndian):atomID
// BigEndian sequence keeps atoms of a book in curriculum order.
func makeAtomKey(bookID core.ID, seq int, atomID core.ID) []byte {
	prefix := makeAtomBookPrefix(bookID)
	buf := make([]byte, len(prefix)+8+1+len(atomID))
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(seq))
	offset += 8
	buf[offset] = ':'
	copy(buf[offset+1:], atomID)
	return buf
}

// makeAtomSeqKey generates a partial key positioned at the first atom with seq.
func makeAtomSeqKey(bookID core.ID, seq int) []byte {
	prefix := makeAtomBookPrefix(bookID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(seq))
	return buf
}

func makeAtomBookPrefix(bookID core.ID) []byte {
	return append(joinKey(atomPrefix, string(bookID)), ':')
}

// atomSeqFromKey extracts the sequence index from a primary atom key.
func atomSeqFromKey(key []byte, bookID core.ID) int {
	offset := len(atomPrefix) + 1 + len(bookID) + 1
	if len(key) < offset+8 {
		return -1
	}
	return int(binary.BigEndian.Uint64(key[offset:]))
}

// makeAtomIndexKey maps an atom ID to its primary key.
func makeAtomIndexKey(atomID core.ID) []byte {
	return joinKey(atomIndexPrefix, string(atomID))
}

func makePlacementKey(bookID core.ID) []byte {
	return joinKey(placementPrefix, string(bookID))
}

func makeProfileKey(id core.ID) []byte {
	return joinKey(profilePrefix, string(id))
}

func makeArtifactKey(id core.ID) []byte {
	return joinKey(artifactPrefix, string(id))
}

// makeArtifactIndexKey orders a profile's artifacts by creation time.
// Format: artp:profileID:timestamp(8 bytes BigEndian):artifactID
func makeArtifactIndexKey(profileID core.ID, created time.Time, id core.ID) []byte {
	prefix := makeArtifactProfilePrefix(profileID)
	buf := make([]byte, len(prefix)+8+1+len(id))
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(created.UnixMicro()))
	offset += 8
	buf[offset] = ':'
	copy(buf[offset+1:], id)
	return buf
}

// makePartialArtifactIndexKey positions an iterator at a creation time.
func makePartialArtifactIndexKey(profileID core.ID, created time.Time) []byte {
	prefix := makeArtifactProfilePrefix(profileID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(created.UnixMicro()))
	return buf
}

func makeArtifactProfilePrefix(profileID core.ID) []byte {
	return append(joinKey(artifactIndexPrefix, string(profileID)), ':')
}

func makeJobKey(id core.ID) []byte {
	return joinKey(jobPrefix, string(id))
}

func makeJobClaimKey(fingerprint string) []byte {
	return joinKey(jobClaimPrefix, fingerprint)
}

func makeJobCacheKey(fingerprint string) []byte {
	return joinKey(jobCachePrefix, fingerprint)
}

// makeJobQueueKey orders queued jobs by arrival.
func makeJobQueueKey(seq uint64) []byte {
	prefix := jobQueuePrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}
