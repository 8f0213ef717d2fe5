package mining

import "github.com/bardlex/blockmine/internal/block"

// MineSerial returns the smallest valid proof for b, scanning from zero on
// the calling goroutine. It does not set the proof.
func MineSerial(b *block.Block) uint64 {
	for p := uint64(0); ; p++ {
		if b.IsValidForProof(p) {
			return p
		}
	}
}

// SerialSearch returns the smallest valid proof in [start, end].
func SerialSearch(b *block.Block, start, end uint64) (uint64, bool) {
	if end < start {
		return 0, false
	}
	for p := start; ; p++ {
		if b.IsValidForProof(p) {
			return p, true
		}
		if p == end {
			return 0, false
		}
	}
}
