package mining

import (
	"sync/atomic"

	"github.com/bardlex/blockmine/internal/block"
)

// checkInterval is how many candidates a task tries between looks at the
// stop flag. Must be a power of two.
const checkInterval = 1024

// rangeTask scans one Range for the lowest valid proof in it.
type rangeTask struct {
	block *block.Block
	r     Range

	// stop is shared by every task of one search; nil disables early exit.
	stop   *atomic.Bool
	hashes *atomic.Uint64
}

// Run implements workqueue.Task.
func (t *rangeTask) Run() (uint64, bool) {
	var tried uint64
	defer func() { t.hashes.Add(tried) }()

	for p := t.r.Start; ; p++ {
		if t.stop != nil && tried&(checkInterval-1) == 0 && t.stop.Load() {
			return 0, false
		}

		tried++
		if t.block.IsValidForProof(p) {
			if t.stop != nil {
				t.stop.Store(true)
			}
			return p, true
		}

		if p == t.r.End {
			return 0, false
		}
	}
}
