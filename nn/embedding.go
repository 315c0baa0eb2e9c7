package nn

import (
	"fmt"
)

// =============================================================================
// Embedding tables
// =============================================================================

// EmbeddingTable owns a [NumEmbeddings, Dim] weight matrix and looks rows up
// by id. It backs the word, learned positional and segment tables.
type EmbeddingTable struct {
	Name   string
	Weight *Tensor[float32]

	// PaddingIdx, when set, is the row that stays zero and never receives
	// a gradient.
	PaddingIdx *int

	backend Backend
}

// NewEmbeddingTable allocates a zero-filled table.
func NewEmbeddingTable(name string, numEmbeddings, dim int, paddingIdx *int) *EmbeddingTable {
	return &EmbeddingTable{
		Name:       name,
		Weight:     NewTensor[float32](numEmbeddings, dim),
		PaddingIdx: paddingIdx,
		backend:    NewCPUBackend(),
	}
}

// NumEmbeddings returns the number of rows.
func (e *EmbeddingTable) NumEmbeddings() int { return e.Weight.Shape[0] }

// Dim returns the row width.
func (e *EmbeddingTable) Dim() int { return e.Weight.Shape[1] }

// SetBackend changes where lookups run. A nil backend restores the CPU.
func (e *EmbeddingTable) SetBackend(b Backend) {
	if b == nil {
		b = NewCPUBackend()
	}
	e.backend = b
}

// Lookup returns the rows addressed by ids, shaped ids.Shape + [Dim()].
func (e *EmbeddingTable) Lookup(ids *Tensor[int64]) (*Tensor[float32], error) {
	if e.backend == nil {
		e.backend = NewCPUBackend()
	}
	out, err := e.backend.Gather(e.Weight, ids)
	if err != nil {
		return nil, fmt.Errorf("%s lookup: %w", e.Name, err)
	}
	return out, nil
}

// Initialize fills the weight with init, rounds it to the weight's DType and
// then zeroes the padding row.
func (e *EmbeddingTable) Initialize(init Initializer) {
	init(e.Weight)
	RoundToDType(e.Weight.Data, e.Weight.DType)
	e.ZeroPaddingRow()
}

// ZeroPaddingRow forces the padding row, if any, to exactly zero.
func (e *EmbeddingTable) ZeroPaddingRow() {
	if e.PaddingIdx == nil {
		return
	}
	row, err := e.Weight.Row(*e.PaddingIdx)
	if err != nil {
		return
	}
	for i := range row {
		row[i] = 0
	}
}

// Backward scatter-adds gradOutput (shaped ids.Shape + [Dim()]) into a
// weight-shaped gradient. The padding row's gradient is always zero, so an
// optimizer applying it leaves that row untouched.
func (e *EmbeddingTable) Backward(gradOutput *Tensor[float32], ids *Tensor[int64]) (*Tensor[float32], error) {
	rows, dim, err := CheckGather(e.Weight, ids)
	if err != nil {
		return nil, fmt.Errorf("%s backward: %w", e.Name, err)
	}
	if gradOutput.Size() != ids.Size()*dim {
		return nil, &ShapeError{Op: e.Name + " backward", Want: fmt.Sprintf("%v", GatherShape(ids, dim)), Got: gradOutput.Shape}
	}

	gradWeights := NewTensor[float32](rows, dim)
	for i, id := range ids.Data {
		if e.PaddingIdx != nil && int(id) == *e.PaddingIdx {
			continue
		}
		dst := gradWeights.Data[int(id)*dim : (int(id)+1)*dim]
		src := gradOutput.Data[i*dim : (i+1)*dim]
		for j := range dst {
			dst[j] += src[j]
		}
	}
	return gradWeights, nil
}

// Clone returns a deep copy sharing no weight memory with e.
func (e *EmbeddingTable) Clone() *EmbeddingTable {
	c := &EmbeddingTable{
		Name:    e.Name,
		Weight:  e.Weight.Clone(),
		backend: e.backend,
	}
	if e.PaddingIdx != nil {
		c.PaddingIdx = Ptr(*e.PaddingIdx)
	}
	return c
}

// Parameters returns the number of trainable values.
func (e *EmbeddingTable) Parameters() int { return e.Weight.Size() }
