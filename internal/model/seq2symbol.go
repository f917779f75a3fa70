package model

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"seq2label/internal/data"
)

// Config holds the model hyperparameters.
type Config struct {
	VocabSize     int    // embedding-table size, reserved ids included
	EmbeddingSize int
	NumLabels     int    // label-logit dimension, reserved ids included
	CellType      string // "rnn" or "gru"
	NumUnits      int
	NumLayers     int
	Bidirectional bool
	Attention     bool
}

func (c Config) validate() error {
	if c.VocabSize <= 0 || c.EmbeddingSize <= 0 || c.NumLabels <= 0 {
		return fmt.Errorf("vocab size, embedding size and label count must be positive")
	}
	if c.NumUnits <= 0 {
		return fmt.Errorf("num units must be positive, got %d", c.NumUnits)
	}
	if c.NumLayers <= 0 {
		return fmt.Errorf("num layers must be positive, got %d", c.NumLayers)
	}
	return nil
}

// Embeddings is the shared token-embedding table.
type Embeddings struct {
	Weights *tensor.Dense // [VocabSize, EmbeddingSize]
}

// Encoder holds the recurrent encoder parameters; with Bidirectional set a
// second stack reads the sequence back to front and the two final states are
// concatenated.
type Encoder struct {
	fwd []cellParams
	bwd []cellParams
}

// Decoder maps the encoder state (plus attention context when enabled) to
// label-symbol logits.
type Decoder struct {
	W *tensor.Dense // [stateSize, NumLabels]
	B *tensor.Dense // [1, NumLabels]
}

// Seq2Symbol is an encoder-decoder model that reads a token-id sequence and
// predicts a single label symbol. Weights persist across steps; the
// expression graph is rebuilt per batch because batch shapes vary.
type Seq2Symbol struct {
	cfg Config

	Embeddings *Embeddings
	Encoder    *Encoder
	Decoder    *Decoder

	solver   gorgonia.Solver
	solverLR float64
}

// New allocates and initializes a model for the given hyperparameters.
func New(cfg Config) (*Seq2Symbol, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	newStack := func() ([]cellParams, error) {
		cells := make([]cellParams, cfg.NumLayers)
		in := cfg.EmbeddingSize
		for l := 0; l < cfg.NumLayers; l++ {
			c, err := newCell(cfg.CellType, in, cfg.NumUnits)
			if err != nil {
				return nil, err
			}
			cells[l] = c
			in = cfg.NumUnits
		}
		return cells, nil
	}

	enc := &Encoder{}
	var err error
	if enc.fwd, err = newStack(); err != nil {
		return nil, err
	}
	if cfg.Bidirectional {
		if enc.bwd, err = newStack(); err != nil {
			return nil, err
		}
	}

	stateSize := cfg.NumUnits
	if cfg.Bidirectional {
		stateSize *= 2
	}
	decoderIn := stateSize
	if cfg.Attention {
		decoderIn *= 2 // attention context concatenated with the final state
	}

	return &Seq2Symbol{
		cfg:        cfg,
		Embeddings: &Embeddings{Weights: glorot(cfg.VocabSize, cfg.EmbeddingSize)},
		Encoder:    enc,
		Decoder: &Decoder{
			W: glorot(decoderIn, cfg.NumLabels),
			B: zeros(1, cfg.NumLabels),
		},
	}, nil
}

// StateSize is the width of the encoder's final state.
func (m *Seq2Symbol) StateSize() int {
	if m.cfg.Bidirectional {
		return m.cfg.NumUnits * 2
	}
	return m.cfg.NumUnits
}

// Step runs one optimization step on a batch and returns the batch loss.
func (m *Seq2Symbol) Step(b *data.Batch, lr float64) (float64, error) {
	g := gorgonia.NewGraph()
	loss, learnables, err := m.build(g, b)
	if err != nil {
		return 0, err
	}
	if _, err := gorgonia.Grad(loss, learnables...); err != nil {
		return 0, fmt.Errorf("grad: %w", err)
	}
	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return 0, fmt.Errorf("vm.RunAll failed: %w", err)
	}
	lossV, err := scalarLoss(loss)
	if err != nil {
		return 0, err
	}
	if err := m.solverFor(lr).Step(gorgonia.NodesToValueGrads(learnables)); err != nil {
		return 0, fmt.Errorf("solver step failed: %w", err)
	}
	return lossV, nil
}

// Eval computes the batch loss without touching the weights.
func (m *Seq2Symbol) Eval(b *data.Batch) (float64, error) {
	g := gorgonia.NewGraph()
	loss, _, err := m.build(g, b)
	if err != nil {
		return 0, err
	}
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return 0, fmt.Errorf("vm.RunAll failed: %w", err)
	}
	return scalarLoss(loss)
}

func scalarLoss(loss *gorgonia.Node) (float64, error) {
	v := loss.Value()
	if v == nil {
		return 0, fmt.Errorf("loss value is nil")
	}
	switch lv := v.Data().(type) {
	case float32:
		return float64(lv), nil
	case float64:
		return lv, nil
	default:
		return 0, fmt.Errorf("unexpected loss dtype %T", v.Data())
	}
}

// solverFor reuses the solver until the scheduled learning rate moves; the
// decay schedule changes it at most once per epoch so Adam moments survive
// within an epoch.
func (m *Seq2Symbol) solverFor(lr float64) gorgonia.Solver {
	if m.solver == nil || m.solverLR != lr {
		m.solver = gorgonia.NewAdamSolver(gorgonia.WithLearnRate(lr))
		m.solverLR = lr
	}
	return m.solver
}

// build wires the persistent weights into a fresh graph shaped for b and
// returns the loss node plus the learnable nodes.
func (m *Seq2Symbol) build(g *gorgonia.ExprGraph, b *data.Batch) (loss *gorgonia.Node, learnables []*gorgonia.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			loss, learnables = nil, nil
			err = fmt.Errorf("build graph: %v", r)
		}
	}()

	inShape := b.Inputs.Shape()
	steps, n := inShape[0], inShape[1]
	if n != len(b.InputsLen) || n != len(b.TargetsLen) {
		return nil, nil, fmt.Errorf("batch dimension mismatch: %d columns, %d input lengths, %d target lengths",
			n, len(b.InputsLen), len(b.TargetsLen))
	}
	ids, ok := b.Inputs.Data().([]int)
	if !ok {
		return nil, nil, fmt.Errorf("inputs must be an int tensor, got %v", b.Inputs.Dtype())
	}
	targetIDs, ok := b.Targets.Data().([]int)
	if !ok {
		return nil, nil, fmt.Errorf("targets must be an int tensor, got %v", b.Targets.Dtype())
	}

	embN := bindTensor(g, m.Embeddings.Weights, "embeddings")
	learnables = append(learnables, embN)

	// Per-timestep one-hot inputs and validity masks, built host-side.
	xs := make([]*gorgonia.Node, steps)
	masks := make([]*gorgonia.Node, steps)
	invMasks := make([]*gorgonia.Node, steps)
	for t := 0; t < steps; t++ {
		hot := make([]float32, n*m.cfg.VocabSize)
		mask := make([]float32, n*m.cfg.NumUnits)
		inv := make([]float32, n*m.cfg.NumUnits)
		for i := 0; i < n; i++ {
			id := ids[t*n+i]
			if id < 0 || id >= m.cfg.VocabSize {
				return nil, nil, fmt.Errorf("input id %d out of range [0, %d)", id, m.cfg.VocabSize)
			}
			hot[i*m.cfg.VocabSize+id] = 1
			val := float32(0)
			if t < b.InputsLen[i] {
				val = 1
			}
			for u := 0; u < m.cfg.NumUnits; u++ {
				mask[i*m.cfg.NumUnits+u] = val
				inv[i*m.cfg.NumUnits+u] = 1 - val
			}
		}
		xs[t] = gorgonia.NodeFromAny(g,
			tensor.New(tensor.WithShape(n, m.cfg.VocabSize), tensor.WithBacking(hot)),
			gorgonia.WithName(fmt.Sprintf("x_%d", t)))
		masks[t] = gorgonia.NodeFromAny(g,
			tensor.New(tensor.WithShape(n, m.cfg.NumUnits), tensor.WithBacking(mask)),
			gorgonia.WithName(fmt.Sprintf("mask_%d", t)))
		invMasks[t] = gorgonia.NodeFromAny(g,
			tensor.New(tensor.WithShape(n, m.cfg.NumUnits), tensor.WithBacking(inv)),
			gorgonia.WithName(fmt.Sprintf("imask_%d", t)))
	}

	runStack := func(params []cellParams, prefix string, reverse bool) (*gorgonia.Node, []*gorgonia.Node) {
		cells := make([]boundCell, len(params))
		states := make([]*gorgonia.Node, len(params))
		for l, p := range params {
			cells[l] = p.bind(g, fmt.Sprintf("%s_l%d", prefix, l))
			learnables = append(learnables, cells[l].learnables()...)
			states[l] = gorgonia.NodeFromAny(g, zeros(n, m.cfg.NumUnits),
				gorgonia.WithName(fmt.Sprintf("%s_h0_l%d", prefix, l)))
		}
		tops := make([]*gorgonia.Node, steps)
		for s := 0; s < steps; s++ {
			t := s
			if reverse {
				t = steps - 1 - s
			}
			x := gorgonia.Must(gorgonia.Mul(xs[t], embN))
			for l := range cells {
				hNew := cells[l].step(x, states[l])
				// Padded positions keep their previous state.
				kept := gorgonia.Must(gorgonia.HadamardProd(hNew, masks[t]))
				carried := gorgonia.Must(gorgonia.HadamardProd(states[l], invMasks[t]))
				states[l] = gorgonia.Must(gorgonia.Add(kept, carried))
				x = states[l]
			}
			tops[t] = states[len(cells)-1]
		}
		return states[len(cells)-1], tops
	}

	final, tops := runStack(m.Encoder.fwd, "enc_fwd", false)
	if m.cfg.Bidirectional {
		bwdFinal, bwdTops := runStack(m.Encoder.bwd, "enc_bwd", true)
		final = gorgonia.Must(gorgonia.Concat(1, final, bwdFinal))
		for t := range tops {
			tops[t] = gorgonia.Must(gorgonia.Concat(1, tops[t], bwdTops[t]))
		}
	}

	decIn := final
	if m.cfg.Attention {
		decIn = gorgonia.Must(gorgonia.Concat(1, m.attend(final, tops, n), final))
	}

	wN := bindTensor(g, m.Decoder.W, "dec_w")
	bN := bindTensor(g, m.Decoder.B, "dec_b")
	learnables = append(learnables, wN, bN)

	logits := gorgonia.Must(gorgonia.BroadcastAdd(
		gorgonia.Must(gorgonia.Mul(decIn, wN)), bN, nil, []byte{0}))
	logProbs := gorgonia.Must(gorgonia.Log(gorgonia.Must(gorgonia.SoftMax(logits))))

	// The decoder target is the first label symbol of each column.
	hotTargets := make([]float32, n*m.cfg.NumLabels)
	for i := 0; i < n; i++ {
		id := targetIDs[i]
		if id < 0 || id >= m.cfg.NumLabels {
			return nil, nil, fmt.Errorf("label id %d out of range [0, %d)", id, m.cfg.NumLabels)
		}
		hotTargets[i*m.cfg.NumLabels+id] = 1
	}
	yN := gorgonia.NodeFromAny(g,
		tensor.New(tensor.WithShape(n, m.cfg.NumLabels), tensor.WithBacking(hotTargets)),
		gorgonia.WithName("targets"))

	perExample := gorgonia.Must(gorgonia.Sum(gorgonia.Must(gorgonia.HadamardProd(logProbs, yN)), 1))
	loss = gorgonia.Must(gorgonia.Neg(gorgonia.Must(gorgonia.Mean(perExample))))
	return loss, learnables, nil
}

// attend computes a dot-product attention context over the encoder's
// per-step states, queried by the final state.
func (m *Seq2Symbol) attend(query *gorgonia.Node, tops []*gorgonia.Node, n int) *gorgonia.Node {
	scores := make([]*gorgonia.Node, len(tops))
	for t, h := range tops {
		dot := gorgonia.Must(gorgonia.Sum(gorgonia.Must(gorgonia.HadamardProd(h, query)), 1))
		scores[t] = gorgonia.Must(gorgonia.Reshape(dot, tensor.Shape{n, 1}))
	}
	stacked := scores[0]
	if len(scores) > 1 {
		stacked = gorgonia.Must(gorgonia.Concat(1, scores...))
	}
	alpha := gorgonia.Must(gorgonia.SoftMax(stacked)) // [n, steps]
	alphaT := gorgonia.Must(gorgonia.Transpose(alpha, 1, 0))

	var ctx *gorgonia.Node
	for t, h := range tops {
		at := gorgonia.Must(gorgonia.Slice(alphaT, gorgonia.S(t)))
		at = gorgonia.Must(gorgonia.Reshape(at, tensor.Shape{n, 1}))
		weighted := gorgonia.Must(gorgonia.BroadcastHadamardProd(h, at, nil, []byte{1}))
		if ctx == nil {
			ctx = weighted
		} else {
			ctx = gorgonia.Must(gorgonia.Add(ctx, weighted))
		}
	}
	return ctx
}
