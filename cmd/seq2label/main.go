package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"seq2label/internal/data"
	"seq2label/internal/model"
	"seq2label/internal/train"
	"seq2label/internal/vocab"
)

// TrainConfig collects every CLI hyperparameter.
type TrainConfig struct {
	DataDir string
	LogDir  string

	BatchSize     int
	EmbeddingSize int
	Cell          string
	NumUnits      int
	NumLayers     int
	Bidirectional bool
	Attention     bool

	LR            float64
	LRDecaySteps  int
	LRDecayFactor float64
	Epochs        int
	NBatch        int

	Labels         string
	EmitPartial    bool
	FailOnMisalign bool
	Quiet          bool
}

func parseFlags() TrainConfig {
	var cfg TrainConfig
	flag.StringVar(&cfg.DataDir, "data-dir", "data", "directory with vocab.txt and <prefix>_{sources,targets,labels}.txt")
	flag.StringVar(&cfg.LogDir, "log-dir", "logs", "directory for the training history")
	flag.IntVar(&cfg.BatchSize, "batch-size", 32, "examples per batch")
	flag.IntVar(&cfg.EmbeddingSize, "embedding-size", 64, "token embedding width")
	flag.StringVar(&cfg.Cell, "cell", "gru", "recurrent cell type: rnn or gru")
	flag.IntVar(&cfg.NumUnits, "num-units", 128, "recurrent units per layer")
	flag.IntVar(&cfg.NumLayers, "num-layers", 1, "recurrent layers per direction")
	flag.BoolVar(&cfg.Bidirectional, "bidirectional", false, "add a backward encoder pass")
	flag.BoolVar(&cfg.Attention, "attention", false, "attend over encoder states in the decoder")
	flag.Float64Var(&cfg.LR, "lr", 0.001, "initial learning rate")
	flag.IntVar(&cfg.LRDecaySteps, "lr-decay-steps", 0, "steps between learning-rate decays (0 disables)")
	flag.Float64Var(&cfg.LRDecayFactor, "lr-decay-factor", 0.99, "learning-rate decay factor")
	flag.IntVar(&cfg.Epochs, "epochs", 10, "training epochs")
	flag.IntVar(&cfg.NBatch, "n-batch", -1, "cap on train batches per epoch (-1 = all)")
	flag.StringVar(&cfg.Labels, "labels", "0,1", "comma-separated label classes")
	flag.BoolVar(&cfg.EmitPartial, "emit-partial", false, "emit the trailing partial batch instead of dropping it")
	flag.BoolVar(&cfg.FailOnMisalign, "fail-on-misalign", false, "error out when the split files are misaligned")
	flag.BoolVar(&cfg.Quiet, "quiet", false, "suppress progress bars")
	flag.Parse()
	return cfg
}

func main() {
	cfg := parseFlags()

	textVocab, err := vocab.Load(filepath.Join(cfg.DataDir, "vocab.txt"), vocab.IDsBias)
	if err != nil {
		log.Fatalf("loading vocabulary: %v", err)
	}
	labelVocab, err := vocab.NewLabelVocab(strings.Split(cfg.Labels, ","))
	if err != nil {
		log.Fatalf("building label vocabulary: %v", err)
	}
	fmt.Printf("vocabulary: %d tokens, %d total ids\n", textVocab.Len(), textVocab.Size())

	pipelineCfg := func(prefix string) data.Config {
		return data.Config{
			Dir:            cfg.DataDir,
			Prefix:         prefix,
			BatchSize:      cfg.BatchSize,
			TextVocab:      textVocab,
			LabelVocab:     labelVocab,
			JoinID:         vocab.JoinID,
			EmitPartial:    cfg.EmitPartial,
			FailOnMisalign: cfg.FailOnMisalign,
		}
	}
	trainSrc, err := data.NewPipelineSource(pipelineCfg("train"))
	if err != nil {
		log.Fatalf("train pipeline: %v", err)
	}
	valSrc, err := data.NewPipelineSource(pipelineCfg("test"))
	if err != nil {
		log.Fatalf("test pipeline: %v", err)
	}

	m, err := model.New(model.Config{
		VocabSize:     textVocab.Size(),
		EmbeddingSize: cfg.EmbeddingSize,
		NumLabels:     labelVocab.Size(),
		CellType:      cfg.Cell,
		NumUnits:      cfg.NumUnits,
		NumLayers:     cfg.NumLayers,
		Bidirectional: cfg.Bidirectional,
		Attention:     cfg.Attention,
	})
	if err != nil {
		log.Fatalf("building model: %v", err)
	}
	fmt.Printf("model: %s x%d units=%d bidirectional=%v attention=%v state=%d\n",
		cfg.Cell, cfg.NumLayers, cfg.NumUnits, cfg.Bidirectional, cfg.Attention, m.StateSize())

	trainStep := func(b *data.Batch, lr float64) (float64, error) { return m.Step(b, lr) }
	valStep := func(b *data.Batch, _ float64) (float64, error) { return m.Eval(b) }

	history, err := train.Run(trainSrc, trainStep, valSrc, valStep, train.Params{
		Epochs:      cfg.Epochs,
		NBatches:    cfg.NBatch,
		LearnRate:   cfg.LR,
		DecaySteps:  cfg.LRDecaySteps,
		DecayFactor: cfg.LRDecayFactor,
		LogDir:      cfg.LogDir,
		Quiet:       cfg.Quiet,
	})
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}

	last := history[len(history)-1]
	fmt.Printf("done after %d epochs: loss=%.4f val_loss=%.4f\n", len(history), last.TrainLoss, last.ValLoss)
}
