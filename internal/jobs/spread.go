package jobs

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"
)

const maxStartupSpread = 30 * time.Second

var spreadSeq atomic.Uint64

// startupSpread picks the first delay of an interval job that has no
// explicit delay, so jobs loaded together do not all fire at once.
// The result lies in [0, min(every, maxStartupSpread)).
func startupSpread(every time.Duration, tag string) time.Duration {
	spreadMax := min(every, maxStartupSpread)
	if spreadMax <= 0 {
		return 0
	}
	seed := time.Now().UnixNano() ^ int64(spreadSeq.Add(1)) ^ int64(fnv64a(tag))
	rng := rand.New(rand.NewSource(seed))
	return time.Duration(rng.Int63n(int64(spreadMax)))
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
