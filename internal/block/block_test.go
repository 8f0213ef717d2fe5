package block

import (
	"testing"

	"github.com/bardlex/blockmine/pkg/errors"
)

const (
	genesisProof16 = 56231
	nextHashString = "6c71ff02a08a22309b7dbbcee45d291d4ce955caa32031c50d941e3e9dbd0000:1:16:message:2159"
	nextHash       = "9b4417b36afa6d31c728eed7abc14dd84468fdb055d8f3cbe308b0179df40000"
	genesisHash16  = "6c71ff02a08a22309b7dbbcee45d291d4ce955caa32031c50d941e3e9dbd0000"
)

func TestPinnedVectors(t *testing.T) {
	b0 := Initial(16)

	if b0.IsValidForProof(0) {
		t.Error("IsValidForProof(0) = true, want false")
	}
	if !b0.IsValidForProof(genesisProof16) {
		t.Errorf("IsValidForProof(%d) = false, want true", genesisProof16)
	}

	b0.SetProof(genesisProof16)
	if !b0.IsValid() {
		t.Fatal("IsValid() = false after setting a valid proof")
	}
	if got := b0.MustHash().String(); got != genesisHash16 {
		t.Errorf("initial Hash() = %s, want %s", got, genesisHash16)
	}

	b1, err := Next(b0, "message")
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	b1.SetProof(2159)

	hs, err := b1.HashString()
	if err != nil {
		t.Fatalf("HashString() error = %v", err)
	}
	if hs != nextHashString {
		t.Errorf("HashString() = %q, want %q", hs, nextHashString)
	}

	h, err := b1.Hash()
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if h.String() != nextHash {
		t.Errorf("Hash() = %s, want %s", h, nextHash)
	}
}

func TestNext_LinksGenerationAndDifficulty(t *testing.T) {
	b0 := Initial(16)
	b0.SetProof(genesisProof16)

	b1, err := Next(b0, "payload")
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	if b1.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", b1.Generation())
	}
	if b1.Difficulty() != 16 {
		t.Errorf("Difficulty() = %d, want 16", b1.Difficulty())
	}
	if b1.PrevHash() != b0.MustHash() {
		t.Errorf("PrevHash() = %s, want predecessor hash", b1.PrevHash())
	}
	if b1.IsMined() {
		t.Error("successor should start unmined")
	}
}

func TestNotMined(t *testing.T) {
	b := Initial(8)

	if _, err := b.Hash(); !errors.Is(err, ErrNotMined) {
		t.Errorf("Hash() error = %v, want ErrNotMined", err)
	}
	if _, err := b.HashString(); !errors.Is(err, ErrNotMined) {
		t.Errorf("HashString() error = %v, want ErrNotMined", err)
	}
	if _, err := Next(b, "x"); !errors.Is(err, ErrNotMined) {
		t.Errorf("Next() error = %v, want ErrNotMined", err)
	}
	if b.IsValid() {
		t.Error("IsValid() = true for unmined block")
	}
	if _, ok := b.Proof(); ok {
		t.Error("Proof() reported a proof on an unmined block")
	}

	defer func() {
		if recover() == nil {
			t.Error("MustHash() did not panic on unmined block")
		}
	}()
	b.MustHash()
}

func TestHashForProofIsPure(t *testing.T) {
	b := New(Digest{1, 2, 3}, 7, 12, "payload")
	other := New(Digest{1, 2, 3}, 7, 12, "payload")

	for proof := uint64(0); proof < 64; proof++ {
		if b.HashForProof(proof) != other.HashForProof(proof) {
			t.Fatalf("HashForProof(%d) differs between identical blocks", proof)
		}
		if b.HashForProof(proof) != b.HashForProof(proof) {
			t.Fatalf("HashForProof(%d) not reproducible", proof)
		}
	}

	if b.HashForProof(1) == New(Digest{1, 2, 3}, 7, 12, "payload!").HashForProof(1) {
		t.Error("payload change did not change the digest")
	}
}

func TestFirstValidProofs(t *testing.T) {
	// Smallest valid proofs for initial blocks, found by sequential scan.
	tests := []struct {
		difficulty uint8
		proof      uint64
	}{
		{difficulty: 0, proof: 0},
		{difficulty: 1, proof: 0},
		{difficulty: 7, proof: 385},
		{difficulty: 8, proof: 529},
		{difficulty: 12, proof: 100},
		{difficulty: 16, proof: genesisProof16},
	}

	for _, tt := range tests {
		b := Initial(tt.difficulty)
		if !b.IsValidForProof(tt.proof) {
			t.Errorf("difficulty %d: proof %d rejected", tt.difficulty, tt.proof)
			continue
		}
		for p := uint64(0); p < tt.proof; p++ {
			if b.IsValidForProof(p) {
				t.Errorf("difficulty %d: proof %d accepted before %d", tt.difficulty, p, tt.proof)
				break
			}
		}
	}
}

func TestMeetsDifficulty(t *testing.T) {
	withTail := func(tail ...byte) Digest {
		var d Digest
		for i := range d {
			d[i] = 0xff
		}
		copy(d[DigestSize-len(tail):], tail)
		return d
	}

	tests := []struct {
		name       string
		digest     Digest
		difficulty uint8
		want       bool
	}{
		{"zero difficulty accepts anything", withTail(), 0, true},
		{"one bit clear", withTail(0xfe), 1, true},
		{"one bit set", withTail(0xff), 1, false},
		{"seven bits clear", withTail(0x80), 7, true},
		{"seven bits, bit six set", withTail(0xc0), 7, false},
		{"seven bits, bit zero set", withTail(0x81), 7, false},
		{"full byte zero", withTail(0x00), 8, true},
		{"full byte not zero", withTail(0x80), 8, false},
		{"twelve bits clear", withTail(0xf0, 0x00), 12, true},
		{"twelve bits, remainder bit set", withTail(0xf8, 0x00), 12, false},
		{"twelve bits, tail byte set", withTail(0xf0, 0x01), 12, false},
		{"sixteen bits clear", withTail(0x00, 0x00), 16, true},
		{"high bits never constrained", withTail(0x7f, 0x00, 0x00), 16, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MeetsDifficulty(tt.digest, tt.difficulty); got != tt.want {
				t.Errorf("MeetsDifficulty(%s, %d) = %v, want %v", tt.digest, tt.difficulty, got, tt.want)
			}
		})
	}
}

func TestAcceptedDigestsHaveLowBitsZero(t *testing.T) {
	for _, difficulty := range []uint8{7, 8, 12} {
		b := New(Digest{0xab}, 3, difficulty, "low bits")
		found := 0
		for p := uint64(0); found < 5 && p < 1<<20; p++ {
			if !b.IsValidForProof(p) {
				continue
			}
			found++
			d := b.HashForProof(p)
			for bit := range difficulty {
				byteIdx := DigestSize - 1 - int(bit/8)
				if d[byteIdx]&(1<<(bit%8)) != 0 {
					t.Fatalf("difficulty %d proof %d: bit %d of %s is set", difficulty, p, bit, d)
				}
			}
		}
		if found == 0 {
			t.Errorf("difficulty %d: no proofs found", difficulty)
		}
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	b := Initial(8)
	snap := b.Snapshot()

	b.SetProof(529)
	if snap.IsMined() {
		t.Error("SetProof on the original leaked into the snapshot")
	}
	if snap.HashForProof(529) != b.MustHash() {
		t.Error("snapshot hashes differently from the original")
	}
}

func TestParseDigest(t *testing.T) {
	d, err := ParseDigest(nextHash)
	if err != nil {
		t.Fatalf("ParseDigest() error = %v", err)
	}
	if d.String() != nextHash {
		t.Errorf("round trip = %s, want %s", d, nextHash)
	}

	for _, bad := range []string{"", "abc", nextHash[:62] + "zz"} {
		if _, err := ParseDigest(bad); !errors.IsType(err, errors.ErrorTypeValidation) {
			t.Errorf("ParseDigest(%q) error = %v, want validation error", bad, err)
		}
	}

	if !(Digest{}).IsZero() || d.IsZero() {
		t.Error("IsZero() mismatch")
	}
}

func TestExpectedTrials(t *testing.T) {
	if got := ExpectedTrials(0); got != 1 {
		t.Errorf("ExpectedTrials(0) = %v, want 1", got)
	}
	if got := ExpectedTrials(16); got != 65536 {
		t.Errorf("ExpectedTrials(16) = %v, want 65536", got)
	}
}

func BenchmarkIsValidForProof(b *testing.B) {
	blk := Initial(16)
	var proof uint64
	b.ReportAllocs()
	for b.Loop() {
		blk.IsValidForProof(proof)
		proof++
	}
}
