package data

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"seq2label/internal/vocab"
)

// Batch is one padded training batch: encoder inputs plus decoder targets,
// both time-major, each paired with the true (pre-padding) lengths. A batch
// is built fresh per step and discarded after the consumer runs it.
type Batch struct {
	Inputs     *tensor.Dense // shape [maxInputLen, batchSize], int
	InputsLen  []int
	Targets    *tensor.Dense // shape [maxTargetLen, batchSize], int
	TargetsLen []int
}

// Size is the batch dimension.
func (b *Batch) Size() int { return len(b.InputsLen) }

// TimeMajor pads variable-length id sequences into a rectangular time-major
// array of shape [maxLen, len(seqs)], i.e. sequence position major and batch
// index minor, alongside each sequence's true length. Positions beyond a
// sequence's length hold vocab.PadID. An empty chunk has no defined shape
// and is rejected; callers must guarantee at least one sequence.
func TimeMajor(seqs [][]int) (*tensor.Dense, []int, error) {
	if len(seqs) == 0 {
		return nil, nil, errors.New("time-major batch: empty chunk")
	}
	n := len(seqs)
	maxLen := 0
	lengths := make([]int, n)
	for i, s := range seqs {
		lengths[i] = len(s)
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	if maxLen == 0 {
		return nil, nil, errors.New("time-major batch: all sequences empty")
	}

	backing := make([]int, maxLen*n)
	if vocab.PadID != 0 {
		for i := range backing {
			backing[i] = vocab.PadID
		}
	}
	for i, s := range seqs {
		for t, id := range s {
			backing[t*n+i] = id
		}
	}
	ids := tensor.New(tensor.WithShape(maxLen, n), tensor.WithBacking(backing))
	return ids, lengths, nil
}

// JoinExample concatenates a source id sequence, the join separator and a
// target id sequence into one training instance. The join id lives in the
// reserved id space below the vocabulary bias, so it cannot collide with an
// ordinary token id.
func JoinExample(source, target []int, joinID int) []int {
	joined := make([]int, 0, len(source)+1+len(target))
	joined = append(joined, source...)
	joined = append(joined, joinID)
	joined = append(joined, target...)
	return joined
}
