package block

import (
	"strconv"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// bufPool holds scratch buffers for hash strings. HashForProof runs once per
// candidate nonce, so reusing the buffer keeps the search loop allocation free.
var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 256)
		return &buf
	},
}

func getBuf() *[]byte {
	return bufPool.Get().(*[]byte)
}

func putBuf(buf *[]byte) {
	// Oversized payloads are not worth keeping around
	if cap(*buf) <= 64*1024 {
		*buf = (*buf)[:0]
		bufPool.Put(buf)
	}
}

// HashStringForProof returns the hash string the block would have with the
// given proof:
//
//	<prevHash hex>:<generation>:<difficulty>:<data>:<proof>
func (b *Block) HashStringForProof(proof uint64) string {
	buf := make([]byte, 0, len(b.prefix)+20)
	buf = append(buf, b.prefix...)
	buf = strconv.AppendUint(buf, proof, 10)
	return string(buf)
}

// HashForProof returns the digest the block would have with the given proof.
func (b *Block) HashForProof(proof uint64) Digest {
	buf := getBuf()
	defer putBuf(buf)

	*buf = append((*buf)[:0], b.prefix...)
	*buf = strconv.AppendUint(*buf, proof, 10)
	return Digest(chainhash.HashH(*buf))
}

// IsValidForProof reports whether the block would be valid with the given
// proof.
func (b *Block) IsValidForProof(proof uint64) bool {
	return MeetsDifficulty(b.HashForProof(proof), b.difficulty)
}

// MeetsDifficulty reports whether the low difficulty bits of d are zero.
// The low end is the tail of the digest: the last difficulty/8 bytes must
// be zero, and the byte before them must have its low difficulty%8 bits clear.
func MeetsDifficulty(d Digest, difficulty uint8) bool {
	fullBytes := int(difficulty / 8)
	remBits := difficulty % 8

	for i := DigestSize - fullBytes; i < DigestSize; i++ {
		if d[i] != 0 {
			return false
		}
	}

	if remBits > 0 {
		mask := byte(1)<<remBits - 1
		if d[DigestSize-fullBytes-1]&mask != 0 {
			return false
		}
	}

	return true
}

// ExpectedTrials is the mean number of candidates needed to find a proof.
func ExpectedTrials(difficulty uint8) float64 {
	trials := 1.0
	for range difficulty {
		trials *= 2
	}
	return trials
}
