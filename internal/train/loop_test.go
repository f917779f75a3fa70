package train

import (
	"bufio"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gorgonia.org/tensor"

	"seq2label/internal/data"
)

// memSource serves a fixed batch count per iteration; each Iter is a fresh
// pass, mirroring the re-iterable pipeline source.
type memSource struct {
	batches int
	iters   int
}

type memIter struct {
	left int
}

func (s *memSource) Iter() (data.BatchIter, error) {
	s.iters++
	return &memIter{left: s.batches}, nil
}

func (it *memIter) Next() (*data.Batch, bool) {
	if it.left == 0 {
		return nil, false
	}
	it.left--
	ids := tensor.New(tensor.WithShape(1, 1), tensor.WithBacking([]int{4}))
	labels := tensor.New(tensor.WithShape(1, 1), tensor.WithBacking([]int{2}))
	return &data.Batch{Inputs: ids, InputsLen: []int{1}, Targets: labels, TargetsLen: []int{1}}, true
}

func (it *memIter) Err() error { return nil }

func TestRunEpochsAndHistory(t *testing.T) {
	src := &memSource{batches: 3}
	steps := 0
	step := func(b *data.Batch, lr float64) (float64, error) {
		steps++
		return 1.5, nil
	}
	history, err := Run(src, step, nil, nil, Params{Epochs: 2, LearnRate: 0.1, Quiet: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if steps != 6 {
		t.Errorf("step calls = %d, want 6", steps)
	}
	if src.iters != 2 {
		t.Errorf("train source iterated %d times, want 2 (once per epoch)", src.iters)
	}
	for _, st := range history {
		if st.TrainLoss != 1.5 || st.Batches != 3 {
			t.Errorf("epoch %d stats = %+v", st.Epoch, st)
		}
	}
}

func TestRunCapsBatchesPerEpoch(t *testing.T) {
	src := &memSource{batches: 10}
	steps := 0
	step := func(b *data.Batch, lr float64) (float64, error) {
		steps++
		return 0, nil
	}
	if _, err := Run(src, step, nil, nil, Params{Epochs: 1, NBatches: 4, LearnRate: 0.1, Quiet: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if steps != 4 {
		t.Errorf("step calls = %d, want 4", steps)
	}
}

func TestRunValidationPass(t *testing.T) {
	trainSrc := &memSource{batches: 2}
	valSrc := &memSource{batches: 2}
	step := func(b *data.Batch, lr float64) (float64, error) { return 1, nil }
	valStep := func(b *data.Batch, lr float64) (float64, error) { return 3, nil }

	history, err := Run(trainSrc, step, valSrc, valStep, Params{Epochs: 1, LearnRate: 0.1, Quiet: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !history[0].HasVal || history[0].ValLoss != 3 {
		t.Errorf("validation stats = %+v, want val loss 3", history[0])
	}
}

func TestRunLearnRateDecay(t *testing.T) {
	src := &memSource{batches: 4}
	var rates []float64
	step := func(b *data.Batch, lr float64) (float64, error) {
		rates = append(rates, lr)
		return 0, nil
	}
	p := Params{Epochs: 1, LearnRate: 1.0, DecaySteps: 2, DecayFactor: 0.5, Quiet: true}
	if _, err := Run(src, step, nil, nil, p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []float64{1.0, 1.0, 0.5, 0.5}
	for i, got := range rates {
		if math.Abs(got-want[i]) > 1e-12 {
			t.Errorf("step %d lr = %v, want %v", i, got, want[i])
		}
	}
}

func TestRunWritesHistoryLog(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")
	src := &memSource{batches: 1}
	step := func(b *data.Batch, lr float64) (float64, error) { return 2, nil }
	if _, err := Run(src, step, nil, nil, Params{Epochs: 3, LearnRate: 0.1, LogDir: logDir, Quiet: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	f, err := os.Open(filepath.Join(logDir, "history.jsonl"))
	if err != nil {
		t.Fatalf("history log missing: %v", err)
	}
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var st EpochStats
		if err := json.Unmarshal(sc.Bytes(), &st); err != nil {
			t.Fatalf("bad history line: %v", err)
		}
		if st.Epoch != lines || st.TrainLoss != 2 {
			t.Errorf("history line %d = %+v", lines, st)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("history lines = %d, want 3", lines)
	}
}

func TestRunRejectsBadParams(t *testing.T) {
	src := &memSource{batches: 1}
	step := func(b *data.Batch, lr float64) (float64, error) { return 0, nil }
	if _, err := Run(src, step, nil, nil, Params{Epochs: 0, Quiet: true}); err == nil {
		t.Error("zero epochs should be rejected")
	}
	if _, err := Run(nil, step, nil, nil, Params{Epochs: 1, Quiet: true}); err == nil {
		t.Error("nil train source should be rejected")
	}
	if _, err := Run(src, nil, nil, nil, Params{Epochs: 1, Quiet: true}); err == nil {
		t.Error("nil train step should be rejected")
	}
}

func TestRunEmptyTrainSourceIsAnError(t *testing.T) {
	src := &memSource{batches: 0}
	step := func(b *data.Batch, lr float64) (float64, error) { return 0, nil }
	if _, err := Run(src, step, nil, nil, Params{Epochs: 1, LearnRate: 0.1, Quiet: true}); err == nil {
		t.Error("a train source with no batches should be an error")
	}
}
