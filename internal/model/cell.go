package model

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// recurrent cell parameters live as plain tensors so the same weights can be
// bound into a fresh graph for every batch (shapes differ per batch, so the
// graph is rebuilt each step while the values persist).
type cellParams interface {
	bind(g *gorgonia.ExprGraph, name string) boundCell
}

// boundCell is a cell wired into one concrete graph.
type boundCell interface {
	step(x, hPrev *gorgonia.Node) *gorgonia.Node
	learnables() []*gorgonia.Node
}

func newCell(cellType string, in, units int) (cellParams, error) {
	switch cellType {
	case "rnn":
		return newRNNCell(in, units), nil
	case "gru":
		return newGRUCell(in, units), nil
	default:
		return nil, fmt.Errorf("unknown cell type %q (want rnn or gru)", cellType)
	}
}

func glorot(rows, cols int) *tensor.Dense {
	return tensor.New(
		tensor.WithShape(rows, cols),
		tensor.WithBacking(gorgonia.GlorotU(1.0)(tensor.Float32, rows, cols)),
	)
}

func zeros(rows, cols int) *tensor.Dense {
	return tensor.New(
		tensor.WithShape(rows, cols),
		tensor.WithBacking(make([]float32, rows*cols)),
	)
}

func bindTensor(g *gorgonia.ExprGraph, t *tensor.Dense, name string) *gorgonia.Node {
	return gorgonia.NodeFromAny(g, t, gorgonia.WithName(name))
}

// rnnCell: h' = tanh(x*Wx + h*Wh + b)
type rnnCell struct {
	wx, wh, b *tensor.Dense
}

func newRNNCell(in, units int) *rnnCell {
	return &rnnCell{
		wx: glorot(in, units),
		wh: glorot(units, units),
		b:  zeros(1, units),
	}
}

func (c *rnnCell) bind(g *gorgonia.ExprGraph, name string) boundCell {
	return &boundRNN{
		wx: bindTensor(g, c.wx, name+"_wx"),
		wh: bindTensor(g, c.wh, name+"_wh"),
		b:  bindTensor(g, c.b, name+"_b"),
	}
}

type boundRNN struct {
	wx, wh, b *gorgonia.Node
}

func (c *boundRNN) step(x, hPrev *gorgonia.Node) *gorgonia.Node {
	pre := gorgonia.Must(gorgonia.Add(
		gorgonia.Must(gorgonia.Mul(x, c.wx)),
		gorgonia.Must(gorgonia.Mul(hPrev, c.wh)),
	))
	pre = gorgonia.Must(gorgonia.BroadcastAdd(pre, c.b, nil, []byte{0}))
	return gorgonia.Must(gorgonia.Tanh(pre))
}

func (c *boundRNN) learnables() []*gorgonia.Node {
	return []*gorgonia.Node{c.wx, c.wh, c.b}
}

// gruCell: standard update/reset gated unit.
type gruCell struct {
	wz, uz, bz *tensor.Dense
	wr, ur, br *tensor.Dense
	wh, uh, bh *tensor.Dense
}

func newGRUCell(in, units int) *gruCell {
	return &gruCell{
		wz: glorot(in, units), uz: glorot(units, units), bz: zeros(1, units),
		wr: glorot(in, units), ur: glorot(units, units), br: zeros(1, units),
		wh: glorot(in, units), uh: glorot(units, units), bh: zeros(1, units),
	}
}

func (c *gruCell) bind(g *gorgonia.ExprGraph, name string) boundCell {
	return &boundGRU{
		wz: bindTensor(g, c.wz, name+"_wz"), uz: bindTensor(g, c.uz, name+"_uz"), bz: bindTensor(g, c.bz, name+"_bz"),
		wr: bindTensor(g, c.wr, name+"_wr"), ur: bindTensor(g, c.ur, name+"_ur"), br: bindTensor(g, c.br, name+"_br"),
		wh: bindTensor(g, c.wh, name+"_wh"), uh: bindTensor(g, c.uh, name+"_uh"), bh: bindTensor(g, c.bh, name+"_bh"),
	}
}

type boundGRU struct {
	wz, uz, bz *gorgonia.Node
	wr, ur, br *gorgonia.Node
	wh, uh, bh *gorgonia.Node
}

func (c *boundGRU) gate(x, h, w, u, b *gorgonia.Node) *gorgonia.Node {
	pre := gorgonia.Must(gorgonia.Add(
		gorgonia.Must(gorgonia.Mul(x, w)),
		gorgonia.Must(gorgonia.Mul(h, u)),
	))
	return gorgonia.Must(gorgonia.BroadcastAdd(pre, b, nil, []byte{0}))
}

func (c *boundGRU) step(x, hPrev *gorgonia.Node) *gorgonia.Node {
	z := gorgonia.Must(gorgonia.Sigmoid(c.gate(x, hPrev, c.wz, c.uz, c.bz)))
	r := gorgonia.Must(gorgonia.Sigmoid(c.gate(x, hPrev, c.wr, c.ur, c.br)))
	rh := gorgonia.Must(gorgonia.HadamardProd(r, hPrev))
	cand := gorgonia.Must(gorgonia.Tanh(c.gate(x, rh, c.wh, c.uh, c.bh)))

	one := gorgonia.NewConstant(float32(1.0))
	keep := gorgonia.Must(gorgonia.HadamardProd(gorgonia.Must(gorgonia.Sub(one, z)), hPrev))
	update := gorgonia.Must(gorgonia.HadamardProd(z, cand))
	return gorgonia.Must(gorgonia.Add(keep, update))
}

func (c *boundGRU) learnables() []*gorgonia.Node {
	return []*gorgonia.Node{c.wz, c.uz, c.bz, c.wr, c.ur, c.br, c.wh, c.uh, c.bh}
}
