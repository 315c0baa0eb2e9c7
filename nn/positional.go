package nn

import (
	"fmt"
	"math"
)

// =============================================================================
// Fixed sinusoidal positions
// =============================================================================

// SynthesizeSinusoidal returns the constant [seqLen, embedLen] sinusoidal
// position table. Columns alternate sin and cos per timescale:
//
//	out[p, 2i]   = sin(p * minTimescale * exp(-i * inc))
//	out[p, 2i+1] = cos(p * minTimescale * exp(-i * inc))
//
// where inc = ln(maxTimescale/minTimescale) / (embedLen/2 - 1). An odd
// embedLen leaves the last column zero.
//
// With embedLen/2 == 1 the increment divides by zero and the first two
// columns come out NaN. Callers wanting a finite table need embedLen >= 4.
func SynthesizeSinusoidal(seqLen, embedLen int, minTimescale, maxTimescale float64) *Tensor[float32] {
	out := NewTensor[float32](seqLen, embedLen)
	numTimescales := embedLen / 2
	logIncrement := math.Log(maxTimescale/minTimescale) / (float64(numTimescales) - 1)

	invTimescales := make([]float64, numTimescales)
	for i := range invTimescales {
		invTimescales[i] = minTimescale * math.Exp(float64(i)*-logIncrement)
	}

	for p := 0; p < seqLen; p++ {
		row := out.Data[p*embedLen : (p+1)*embedLen]
		for i, inv := range invTimescales {
			scaled := float64(p) * inv
			row[2*i] = float32(math.Sin(scaled))
			row[2*i+1] = float32(math.Cos(scaled))
		}
	}
	return out
}

// PositionIDs returns the [batchSize, seqLen] ids past, past+1, ...,
// past+seqLen-1, repeated for every batch row.
func PositionIDs(batchSize, seqLen, pastLength int) *Tensor[int64] {
	ids := NewTensor[int64](batchSize, seqLen)
	for b := 0; b < batchSize; b++ {
		for s := 0; s < seqLen; s++ {
			ids.Data[b*seqLen+s] = int64(pastLength + s)
		}
	}
	return ids
}

// =============================================================================
// PositionalSource
// =============================================================================

// PositionalSource is the positional contribution of an EmbeddingLayer. Its
// kind is fixed at construction: a learned table, a constant sinusoidal
// table, or nothing (none and rotary).
type PositionalSource struct {
	kind    PositionEmbeddingType
	learned *EmbeddingTable
	fixed   *Tensor[float32]
}

func newPositionalSource(cfg EmbeddingLayerConfig) *PositionalSource {
	p := &PositionalSource{kind: cfg.PositionEmbeddingType}
	switch p.kind {
	case PositionLearned:
		p.learned = NewEmbeddingTable("position_embeddings", *cfg.MaxPositionEmbeddings, cfg.EmbeddingSize, nil)
		p.learned.Weight.DType = cfg.DType
	case PositionFixed:
		p.fixed = SynthesizeSinusoidal(*cfg.MaxPositionEmbeddings, cfg.EmbeddingSize, *cfg.MinTimescale, *cfg.MaxTimescale)
	}
	return p
}

// Kind returns the position embedding type.
func (p *PositionalSource) Kind() PositionEmbeddingType { return p.kind }

// Learned returns the trainable table, or nil unless Kind is learned.
func (p *PositionalSource) Learned() *EmbeddingTable { return p.learned }

// Fixed returns the constant table, or nil unless Kind is fixed. It must not
// be mutated.
func (p *PositionalSource) Fixed() *Tensor[float32] { return p.fixed }

// addTo adds the positional contribution to embeddings, shaped
// [flatBatch, seqLen, dim]. batchSize is the outermost dimension of the
// caller's token ids.
func (p *PositionalSource) addTo(embeddings *Tensor[float32], batchSize, seqLen, pastLength int) error {
	switch p.kind {
	case PositionLearned:
		if pastLength < 0 {
			return fmt.Errorf("%w: negative past length %d", ErrIndexOutOfRange, pastLength)
		}
		pos, err := p.learned.Lookup(PositionIDs(batchSize, seqLen, pastLength))
		if err != nil {
			return err
		}
		return AddInPlace(embeddings, pos)
	case PositionFixed:
		return AddInPlace(embeddings, p.fixed.To(embeddings.Device, embeddings.DType))
	default:
		return nil
	}
}

func (p *PositionalSource) clone() *PositionalSource {
	c := &PositionalSource{kind: p.kind, fixed: p.fixed}
	if p.learned != nil {
		c.learned = p.learned.Clone()
	}
	return c
}
