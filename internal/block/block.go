// Package block implements the toy proof-of-work block: its field layout,
// the canonical hash string, and the low-bit difficulty predicate.
//
// A block's hash depends only on (prevHash, generation, difficulty, data,
// proof). Everything except the proof is fixed at construction, so a block
// can be snapshotted and shared read-only with any number of mining workers.
package block

import (
	"encoding/hex"
	"strconv"

	"github.com/bardlex/blockmine/pkg/errors"
)

// DigestSize is the width of a block digest in bytes.
const DigestSize = 32

// ErrNotMined is returned when hashing or linking a block that has no proof.
// It signals a programming error: callers must mine or SetProof first.
var ErrNotMined = errors.New(errors.ErrorTypeValidation, "block_hash", "block not yet mined")

// Digest is a SHA-256 block digest.
type Digest [DigestSize]byte

// String returns the lowercase hex rendering in natural byte order.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether every byte is zero.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest decodes a 64-character hex string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != DigestSize*2 {
		return d, errors.Newf(errors.ErrorTypeValidation, "parse_digest",
			"digest must be %d hex characters, got %d", DigestSize*2, len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, errors.Wrap(err, errors.ErrorTypeValidation, "parse_digest", "digest is not valid hex")
	}
	return d, nil
}

// Block is one link of the chain.
type Block struct {
	prevHash   Digest
	generation uint64
	difficulty uint8
	data       string
	proof      uint64
	mined      bool

	// prefix is the hash string up to and including the separator before
	// the proof. It never changes after construction.
	prefix []byte
}

// New builds an unmined block from explicit fields.
func New(prevHash Digest, generation uint64, difficulty uint8, data string) *Block {
	b := &Block{
		prevHash:   prevHash,
		generation: generation,
		difficulty: difficulty,
		data:       data,
	}
	b.prefix = b.buildPrefix()
	return b
}

// Initial builds the first block of a chain: zero predecessor, generation 0,
// empty payload.
func Initial(difficulty uint8) *Block {
	return New(Digest{}, 0, difficulty, "")
}

// Next builds an unmined successor of previous carrying data. previous must
// be mined.
func Next(previous *Block, data string) (*Block, error) {
	prevHash, err := previous.Hash()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "next_block",
			"predecessor must be mined before it can be linked").
			WithContext("generation", previous.generation)
	}
	return New(prevHash, previous.generation+1, previous.difficulty, data), nil
}

func (b *Block) buildPrefix() []byte {
	buf := make([]byte, 0, DigestSize*2+len(b.data)+32)
	buf = hex.AppendEncode(buf, b.prevHash[:])
	buf = append(buf, ':')
	buf = strconv.AppendUint(buf, b.generation, 10)
	buf = append(buf, ':')
	buf = strconv.AppendUint(buf, uint64(b.difficulty), 10)
	buf = append(buf, ':')
	buf = append(buf, b.data...)
	buf = append(buf, ':')
	return buf
}

// PrevHash returns the predecessor digest.
func (b *Block) PrevHash() Digest { return b.prevHash }

// Generation returns the block height, 0 for the initial block.
func (b *Block) Generation() uint64 { return b.generation }

// Difficulty returns the number of low digest bits that must be zero.
func (b *Block) Difficulty() uint8 { return b.difficulty }

// Data returns the payload.
func (b *Block) Data() string { return b.data }

// Proof returns the proof and whether one is set.
func (b *Block) Proof() (uint64, bool) { return b.proof, b.mined }

// IsMined reports whether a proof is set.
func (b *Block) IsMined() bool { return b.mined }

// SetProof records the proof. It must not be called while the block is
// being mined by workers sharing it; mine a Snapshot instead.
func (b *Block) SetProof(proof uint64) {
	b.proof = proof
	b.mined = true
}

// Snapshot returns an independent copy that is safe to share read-only
// across goroutines while the original stays with its owner.
func (b *Block) Snapshot() *Block {
	c := *b
	c.prefix = append([]byte(nil), b.prefix...)
	return &c
}

// HashString returns the canonical hash string for the current proof.
func (b *Block) HashString() (string, error) {
	if !b.mined {
		return "", ErrNotMined
	}
	return b.HashStringForProof(b.proof), nil
}

// Hash returns the digest for the current proof.
func (b *Block) Hash() (Digest, error) {
	if !b.mined {
		return Digest{}, ErrNotMined
	}
	return b.HashForProof(b.proof), nil
}

// MustHash is Hash for callers that treat an unmined block as fatal.
func (b *Block) MustHash() Digest {
	d, err := b.Hash()
	if err != nil {
		panic(err)
	}
	return d
}

// IsValid reports whether the block is mined and its proof satisfies the
// difficulty.
func (b *Block) IsValid() bool {
	if !b.mined {
		return false
	}
	return b.IsValidForProof(b.proof)
}
