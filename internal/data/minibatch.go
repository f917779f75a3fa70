package data

import "math/rand"

// MiniBatches chunks the indices [0, n) into consecutive batches of
// batchSize. The trailing partial chunk is kept; callers that want the
// historical drop behavior can skip chunks shorter than batchSize. When rng
// is non-nil the index order is shuffled first.
func MiniBatches(n, batchSize int, rng *rand.Rand) [][]int {
	if n <= 0 || batchSize <= 0 {
		return nil
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
	}
	var chunks [][]int
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		chunks = append(chunks, indices[start:end])
	}
	return chunks
}

// Pair is one in-memory source/target example.
type Pair struct {
	Source []int
	Target []int
}

// PairBatches iterates padded time-major batches over an in-memory pair
// dataset. With double set, every batch is followed by a second batch with
// source and target swapped, doubling the effective training data for
// symmetric tasks.
type PairBatches struct {
	pairs   []Pair
	chunks  [][]int
	double  bool
	pos     int
	swapped *Batch
	err     error
}

// NewPairBatches chunks pairs into batches of batchSize, shuffled when rng
// is non-nil.
func NewPairBatches(pairs []Pair, batchSize int, double bool, rng *rand.Rand) *PairBatches {
	return &PairBatches{
		pairs:  pairs,
		chunks: MiniBatches(len(pairs), batchSize, rng),
		double: double,
	}
}

// Next yields the next padded batch.
func (b *PairBatches) Next() (*Batch, bool) {
	if b.err != nil {
		return nil, false
	}
	if b.swapped != nil {
		out := b.swapped
		b.swapped = nil
		return out, true
	}
	if b.pos >= len(b.chunks) {
		return nil, false
	}
	chunk := b.chunks[b.pos]
	b.pos++

	sources := make([][]int, len(chunk))
	targets := make([][]int, len(chunk))
	for i, idx := range chunk {
		sources[i] = b.pairs[idx].Source
		targets[i] = b.pairs[idx].Target
	}
	seq, seqLen, err := TimeMajor(sources)
	if err != nil {
		b.err = err
		return nil, false
	}
	tgt, tgtLen, err := TimeMajor(targets)
	if err != nil {
		b.err = err
		return nil, false
	}
	if b.double {
		b.swapped = &Batch{Inputs: tgt, InputsLen: tgtLen, Targets: seq, TargetsLen: seqLen}
	}
	return &Batch{Inputs: seq, InputsLen: seqLen, Targets: tgt, TargetsLen: tgtLen}, true
}

// Err reports the first error encountered while batching.
func (b *PairBatches) Err() error { return b.err }
