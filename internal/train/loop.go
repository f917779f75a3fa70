package train

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"

	"seq2label/internal/data"
)

// Source mints a fresh single-pass batch iterator per epoch.
type Source interface {
	Iter() (data.BatchIter, error)
}

// Step runs one unit of work on a batch (an optimization step for training,
// a plain loss evaluation for validation) and returns the batch loss. The
// scheduled learning rate is passed in; evaluation steps ignore it.
type Step func(b *data.Batch, lr float64) (float64, error)

// Params configures a training run.
type Params struct {
	Epochs   int
	NBatches int // cap on train batches per epoch; <= 0 means no cap

	LearnRate   float64
	DecaySteps  int     // global steps between decay applications; <= 0 disables decay
	DecayFactor float64 // multiplied in per DecaySteps steps

	LogDir string // history written here as history.jsonl; empty disables
	Quiet  bool   // suppress the per-epoch progress bar
}

// EpochStats is one epoch's history record.
type EpochStats struct {
	Epoch     int     `json:"epoch"`
	Batches   int     `json:"batches"`
	LearnRate float64 `json:"learn_rate"`
	TrainLoss float64 `json:"unreg_loss"`
	ValLoss   float64 `json:"val_unreg_loss,omitempty"`
	HasVal    bool    `json:"-"`
}

// History is the per-epoch record of a whole run.
type History []EpochStats

// Run drives the training loop: per epoch it pulls a fresh iterator from the
// train source, feeds every batch to trainStep under the decayed learning
// rate, then runs an optional validation pass, and appends the epoch stats
// to the history. All work is synchronous on the caller's goroutine.
func Run(trainSrc Source, trainStep Step, valSrc Source, valStep Step, p Params) (History, error) {
	if p.Epochs <= 0 {
		return nil, errors.Errorf("epochs must be positive, got %d", p.Epochs)
	}
	if trainSrc == nil || trainStep == nil {
		return nil, errors.New("training source and step are required")
	}

	var logFile *os.File
	if p.LogDir != "" {
		if err := os.MkdirAll(p.LogDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create log dir")
		}
		f, err := os.Create(filepath.Join(p.LogDir, "history.jsonl"))
		if err != nil {
			return nil, errors.Wrap(err, "create history log")
		}
		logFile = f
		defer logFile.Close()
	}

	var history History
	globalStep := 0
	for epoch := 0; epoch < p.Epochs; epoch++ {
		lr := p.learnRateAt(globalStep)

		it, err := trainSrc.Iter()
		if err != nil {
			return history, errors.Wrapf(err, "epoch %d: open train source", epoch)
		}

		var bar *progressbar.ProgressBar
		if !p.Quiet {
			bar = progressbar.Default(-1, fmt.Sprintf("epoch %d", epoch))
		}

		totalLoss := 0.0
		nBatches := 0
		for {
			if p.NBatches > 0 && nBatches >= p.NBatches {
				break
			}
			b, ok := it.Next()
			if !ok {
				break
			}
			loss, err := trainStep(b, lr)
			if err != nil {
				return history, errors.Wrapf(err, "epoch %d batch %d", epoch, nBatches)
			}
			totalLoss += loss
			nBatches++
			globalStep++
			lr = p.learnRateAt(globalStep)
			if bar != nil {
				bar.Add(1)
			}
		}
		if err := it.Err(); err != nil {
			return history, errors.Wrapf(err, "epoch %d: train source", epoch)
		}
		if bar != nil {
			bar.Finish()
		}
		if nBatches == 0 {
			return history, errors.Errorf("epoch %d: train source yielded no batches", epoch)
		}

		stats := EpochStats{
			Epoch:     epoch,
			Batches:   nBatches,
			LearnRate: lr,
			TrainLoss: totalLoss / float64(nBatches),
		}

		if valSrc != nil && valStep != nil {
			valLoss, err := evalPass(valSrc, valStep)
			if err != nil {
				return history, errors.Wrapf(err, "epoch %d: validation", epoch)
			}
			stats.ValLoss = valLoss
			stats.HasVal = true
		}

		if stats.HasVal {
			fmt.Printf("epoch %d: loss=%.4f val_loss=%.4f lr=%.6f\n", epoch, stats.TrainLoss, stats.ValLoss, lr)
		} else {
			fmt.Printf("epoch %d: loss=%.4f lr=%.6f\n", epoch, stats.TrainLoss, lr)
		}

		history = append(history, stats)
		if logFile != nil {
			if err := json.NewEncoder(logFile).Encode(stats); err != nil {
				return history, errors.Wrap(err, "write history log")
			}
		}
	}
	return history, nil
}

func evalPass(src Source, step Step) (float64, error) {
	it, err := src.Iter()
	if err != nil {
		return 0, err
	}
	total := 0.0
	n := 0
	for {
		b, ok := it.Next()
		if !ok {
			break
		}
		loss, err := step(b, 0)
		if err != nil {
			return 0, err
		}
		total += loss
		n++
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("validation source yielded no batches")
	}
	return total / float64(n), nil
}

// learnRateAt applies exponential decay: lr * factor^(step/decaySteps),
// staircase, matching the usual exponential-decay schedule.
func (p Params) learnRateAt(step int) float64 {
	if p.DecaySteps <= 0 || p.DecayFactor <= 0 || p.DecayFactor == 1 {
		return p.LearnRate
	}
	return p.LearnRate * math.Pow(p.DecayFactor, float64(step/p.DecaySteps))
}
