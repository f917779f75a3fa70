package data

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"seq2label/internal/vocab"
)

// Config describes one labeled-data pipeline over a split of parallel
// corpora. The data directory must hold <prefix>_sources.txt,
// <prefix>_targets.txt and <prefix>_labels.txt, line-aligned: line i of each
// file is the same logical example.
type Config struct {
	Dir        string
	Prefix     string // dataset split, "train" or "test"
	BatchSize  int
	TextVocab  *vocab.Vocab
	LabelVocab *vocab.Vocab
	JoinID     int

	// EmitPartial yields the trailing batch even when it is smaller than
	// BatchSize. Off by default: the historical behavior drops it.
	EmitPartial bool
	// FailOnMisalign errors out when the three files have different line
	// counts. Off by default: the historical behavior truncates silently
	// to the shortest file.
	FailOnMisalign bool
}

func (c *Config) validate() error {
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.TextVocab == nil || c.LabelVocab == nil {
		return errors.New("pipeline needs both a text and a label vocabulary")
	}
	if c.Prefix == "" {
		return errors.New("pipeline needs a split prefix")
	}
	return nil
}

func (c *Config) splitFiles() (sources, targets, labels string) {
	sources = filepath.Join(c.Dir, fmt.Sprintf("%s_sources.txt", c.Prefix))
	targets = filepath.Join(c.Dir, fmt.Sprintf("%s_targets.txt", c.Prefix))
	labels = filepath.Join(c.Dir, fmt.Sprintf("%s_labels.txt", c.Prefix))
	return
}

// Pipeline is the single-pass labeled-batch generator: it zips the aligned
// source/target/label streams, joins each source and target around the join
// id, accumulates BatchSize examples and emits them as one padded time-major
// batch. All work happens on the caller's goroutine when Next is pulled.
type Pipeline struct {
	cfg      Config
	zip      *Zipped
	textAcc  [][]int
	labelAcc [][]int
	err      error
	done     bool
}

// NewPipeline opens the split's file triple and returns a fresh single-pass
// pipeline. A missing input file fails here, not mid-iteration.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sourceFile, targetFile, labelFile := cfg.splitFiles()

	encodeText := lineEncoder(cfg.TextVocab)
	encodeLabel := lineEncoder(cfg.LabelVocab)

	srcs := []*Source{
		NewSource([]string{sourceFile}, encodeText),
		NewSource([]string{targetFile}, encodeText),
		NewSource([]string{labelFile}, encodeLabel),
	}
	cursors := make([]*Cursor, len(srcs))
	for i, s := range srcs {
		if err := s.Stat(); err != nil {
			return nil, err
		}
		cursors[i] = s.Iter()
	}

	zip := Zip(cursors...)
	if cfg.FailOnMisalign {
		zip.FailOnMisalign()
	}
	return &Pipeline{cfg: cfg, zip: zip}, nil
}

// lineEncoder encodes a whitespace-tokenized line with v; lines are assumed
// already tokenized (word- or character-delimited) upstream.
func lineEncoder(v *vocab.Vocab) LineFunc {
	return func(line string) []int {
		return v.Encode(strings.Fields(line))
	}
}

// Next yields the next padded batch: joined source+target ids as Inputs and
// label ids as Targets. Returns false at exhaustion; check Err afterwards.
func (p *Pipeline) Next() (*Batch, bool) {
	if p.done || p.err != nil {
		return nil, false
	}
	for {
		tuple, ok := p.zip.Next()
		if !ok {
			p.done = true
			if err := p.zip.Err(); err != nil {
				p.err = err
				return nil, false
			}
			if p.cfg.EmitPartial && len(p.textAcc) > 0 {
				return p.emit()
			}
			// Trailing partial batch dropped.
			return nil, false
		}
		p.textAcc = append(p.textAcc, JoinExample(tuple[0], tuple[1], p.cfg.JoinID))
		p.labelAcc = append(p.labelAcc, tuple[2])
		if len(p.textAcc) >= p.cfg.BatchSize {
			return p.emit()
		}
	}
}

func (p *Pipeline) emit() (*Batch, bool) {
	text, textLen, err := TimeMajor(p.textAcc)
	if err != nil {
		p.err = errors.Wrap(err, "assemble text batch")
		return nil, false
	}
	labels, labelLen, err := TimeMajor(p.labelAcc)
	if err != nil {
		p.err = errors.Wrap(err, "assemble label batch")
		return nil, false
	}
	p.textAcc = p.textAcc[:0]
	p.labelAcc = p.labelAcc[:0]
	return &Batch{Inputs: text, InputsLen: textLen, Targets: labels, TargetsLen: labelLen}, true
}

// Err reports the first error encountered by the pipeline.
func (p *Pipeline) Err() error { return p.err }

// Close releases the underlying file cursors.
func (p *Pipeline) Close() error { return p.zip.Close() }

// PipelineSource is the re-iterable counterpart of Pipeline: the training
// loop pulls a fresh single-pass pipeline from it at every epoch.
type PipelineSource struct {
	cfg Config
}

// NewPipelineSource validates the config once and returns a source that can
// mint pipelines for it.
func NewPipelineSource(cfg Config) (*PipelineSource, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &PipelineSource{cfg: cfg}, nil
}

// Iter opens a fresh pipeline reading the split from the start.
func (s *PipelineSource) Iter() (BatchIter, error) {
	return NewPipeline(s.cfg)
}

// BatchIter is a single-pass cursor over padded batches.
type BatchIter interface {
	Next() (*Batch, bool)
	Err() error
}
