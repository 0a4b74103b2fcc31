package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// FileIDPrefix returns the stable id prefix shared by every chunk of one
// file. Deleting all chunks of a file is a prefix delete on this value.
func FileIDPrefix(collection, relPath string) string {
	sum := sha256.Sum256([]byte(collection + ":" + relPath))
	return hex.EncodeToString(sum[:])[:16]
}

// ChunkID returns the persistent id of one chunk. It is a pure function of
// (collection, file, chunk index), so re-indexing overwrites rather than
// duplicates.
func ChunkID(collection, relPath string, chunkIndex int) string {
	return FileIDPrefix(collection, relPath) + "_" + strconv.Itoa(chunkIndex)
}
