//go:build cgo

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/loom-embedding/nn"
)

const testConfig = `{"vocab_size": 8, "embedding_size": 4, "pad_token_id": 0,
"max_position_embeddings": 3, "num_segments": 2,
"embeddings_initializer": "ones", "position_embeddings_initializer": "zeros",
"segment_embeddings_initializer": {"name": "constant", "value": 0.5}}`

func TestBuildLayerAndForward(t *testing.T) {
	t.Setenv("LOOM_DEVICE", "")
	t.Setenv("LOOM_SEED", "3")

	l, err := buildLayer([]byte(testConfig))
	require.NoError(t, err)
	assert.Equal(t, 8*4+3*4+2*4, l.Parameters())

	resp, err := forward(l, ForwardRequest{TokenIDs: []int64{0, 1, 2}, SegmentIDs: []int64{0, 1, 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 4}, resp.Shape)
	assert.Equal(t, "float32", resp.DType)
	// Pad row is zero, other rows are ones, and every segment row adds 0.5.
	assert.Equal(t, []float32{
		0.5, 0.5, 0.5, 0.5,
		1.5, 1.5, 1.5, 1.5,
		1.5, 1.5, 1.5, 1.5,
	}, resp.Data)
}

func TestForwardRequestShapes(t *testing.T) {
	t.Setenv("LOOM_DEVICE", "cpu")
	l, err := buildLayer([]byte(testConfig))
	require.NoError(t, err)

	resp, err := forward(l, ForwardRequest{TokenIDs: []int64{1, 2, 3, 4, 5, 6}, Shape: []int{2, 3}, PastLength: 0})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, resp.Shape)

	_, err = forward(l, ForwardRequest{TokenIDs: []int64{1, 2, 3}, Shape: []int{2, 2}})
	assert.True(t, errors.Is(err, nn.ErrShape))

	_, err = forward(l, ForwardRequest{TokenIDs: []int64{1, 2, 3}, Shape: []int{-1, -1, 3}})
	var se *nn.ShapeError
	require.ErrorAs(t, err, &se, "negative dims must not cancel out")
	assert.Equal(t, []int{-1, -1, 3}, se.Got)

	_, err = forward(l, ForwardRequest{TokenIDs: []int64{1, 2}, SegmentIDs: []int64{0}})
	assert.True(t, errors.Is(err, nn.ErrShape))

	_, err = forward(l, ForwardRequest{TokenIDs: []int64{1, 2}, PastLength: 2})
	assert.True(t, errors.Is(err, nn.ErrIndexOutOfRange))
}

func TestBuildLayerErrors(t *testing.T) {
	t.Setenv("LOOM_DEVICE", "")
	_, err := buildLayer([]byte(`{"vocab_size": 8, "embedding_size": 4}`))
	assert.ErrorIs(t, err, nn.ErrConfiguration)

	_, err = buildLayer([]byte(`{"vocab_size": 8, "embedding_size": 4, "position_embedding_type": "none", "device": "quantum"}`))
	assert.Error(t, err)
}
