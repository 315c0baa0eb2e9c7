package nn

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func learnedConfig() EmbeddingLayerConfig {
	return EmbeddingLayerConfig{
		VocabSize:             10,
		EmbeddingSize:         4,
		PadTokenID:            Ptr(0),
		PositionEmbeddingType: PositionLearned,
		MaxPositionEmbeddings: Ptr(5),
	}
}

func mustLayer(t *testing.T, cfg EmbeddingLayerConfig, opts ...Option) *EmbeddingLayer {
	t.Helper()
	l, err := NewEmbeddingLayer(cfg, append([]Option{WithResolver(NewResolver(7))}, opts...)...)
	require.NoError(t, err)
	return l
}

func row(t *testing.T, w *Tensor[float32], i int) []float32 {
	t.Helper()
	r, err := w.Row(i)
	require.NoError(t, err)
	return r
}

func addRows(rows ...[]float32) []float32 {
	out := make([]float32, len(rows[0]))
	for _, r := range rows {
		for i, v := range r {
			out[i] += v
		}
	}
	return out
}

func TestForwardLearnedPadScenario(t *testing.T) {
	l := mustLayer(t, learnedConfig())
	word := l.InputEmbeddings().Weight
	pos := l.Positions().Learned().Weight

	assert.Equal(t, make([]float32, 4), row(t, word, 0), "pad row is zero after construction")

	out, err := l.Forward(NewTensorFromSlice([]int64{0, 1, 2}, 1, 3), nil, 0)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 4}, out.Shape)

	// The pad token still receives its position embedding.
	assert.Equal(t, row(t, pos, 0), out.Data[0:4])
	assert.NotEqual(t, make([]float32, 4), out.Data[0:4])
	assert.Equal(t, addRows(row(t, word, 1), row(t, pos, 1)), out.Data[4:8])
	assert.Equal(t, addRows(row(t, word, 2), row(t, pos, 2)), out.Data[8:12])
	assert.Equal(t, 10*4+5*4, l.Parameters())
}

func TestForwardPastLengthShiftsPositions(t *testing.T) {
	l := mustLayer(t, learnedConfig())
	word := l.InputEmbeddings().Weight
	pos := l.Positions().Learned().Weight
	ids := NewTensorFromSlice([]int64{3, 4, 3, 4}, 2, 2)

	for k := 0; k <= 3; k++ {
		out, err := l.Forward(ids, nil, k)
		require.NoError(t, err)
		for b := 0; b < 2; b++ {
			for s := 0; s < 2; s++ {
				want := addRows(row(t, word, int(ids.Data[b*2+s])), row(t, pos, s+k))
				got := out.Data[(b*2+s)*4 : (b*2+s+1)*4]
				assert.Equal(t, want, got, "past %d batch %d position %d", k, b, s)
			}
		}
	}

	_, err := l.Forward(ids, nil, 4)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = l.Forward(ids, nil, -1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestForwardRotaryAndNoneAddNoPositions(t *testing.T) {
	for _, typ := range []PositionEmbeddingType{PositionRotary, PositionNone} {
		t.Run(string(typ), func(t *testing.T) {
			cfg := EmbeddingLayerConfig{
				VocabSize:                    6,
				EmbeddingSize:                2,
				PositionEmbeddingType:        typ,
				NumSegments:                  Ptr(2),
				SegmentEmbeddingsInitializer: InitializerNamed("ones"),
			}
			l := mustLayer(t, cfg)
			assert.Nil(t, l.Positions().Learned())
			assert.Nil(t, l.Positions().Fixed())

			ids := NewTensorFromSlice([]int64{5, 1}, 1, 2)
			out, err := l.Forward(ids, nil, 0)
			require.NoError(t, err)
			word, err := l.InputEmbeddings().Lookup(ids)
			require.NoError(t, err)
			assert.Equal(t, word.Data, out.Data)

			withSeg, err := l.Forward(ids, NewTensorFromSlice([]int32{0, 1}, 1, 2), 0)
			require.NoError(t, err)
			for i, v := range word.Data {
				assert.Equal(t, v+1, withSeg.Data[i])
			}
		})
	}
}

func TestForwardFixedPositions(t *testing.T) {
	cfg := EmbeddingLayerConfig{
		VocabSize:             4,
		EmbeddingSize:         6,
		EmbeddingsInitializer: InitializerNamed("zeros"),
		PositionEmbeddingType: PositionFixed,
		MaxPositionEmbeddings: Ptr(3),
	}
	l := mustLayer(t, cfg)
	table := SynthesizeSinusoidal(3, 6, DefaultMinTimescale, DefaultMaxTimescale)
	require.True(t, table.Equal(l.Positions().Fixed()))

	out, err := l.Forward(NewTensorFromSlice([]int64{1, 2, 3, 0, 0, 0}, 2, 3), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, append(append([]float32(nil), table.Data...), table.Data...), out.Data)

	// The table is added whole, so a sequence shorter than the table fails.
	_, err = l.Forward(NewTensorFromSlice([]int64{1, 2}, 1, 2), nil, 0)
	var se *ShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []int{3, 6}, se.Got)
	assert.Equal(t, 4*6, l.Parameters(), "the fixed table is not trainable")
}

func TestForwardFixedPositionsRelocatedToPrecision(t *testing.T) {
	cfg := EmbeddingLayerConfig{
		VocabSize:             2,
		EmbeddingSize:         4,
		EmbeddingsInitializer: InitializerNamed("zeros"),
		PositionEmbeddingType: PositionFixed,
		MaxPositionEmbeddings: Ptr(2),
		DType:                 DTypeFloat16,
	}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := mustLayer(t, cfg, WithLogger(logger))

	out, err := l.Forward(NewTensorFromSlice([]int64{0, 1}, 1, 2), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, DTypeFloat16, out.DType)

	want := l.Positions().Fixed().To(DeviceCPU, DTypeFloat16)
	assert.Equal(t, want.Data, out.Data)
	assert.Equal(t, DTypeFloat32, l.Positions().Fixed().DType, "the stored table keeps full precision")
	assert.Contains(t, logs.String(), "relocating fixed positions")
	assert.Contains(t, logs.String(), "embedding layer built")
}

func TestForwardFixedSingleRowBroadcasts(t *testing.T) {
	cfg := EmbeddingLayerConfig{
		VocabSize:             3,
		EmbeddingSize:         4,
		EmbeddingsInitializer: InitializerNamed("zeros"),
		PositionEmbeddingType: PositionFixed,
		MaxPositionEmbeddings: Ptr(1),
	}
	l := mustLayer(t, cfg)
	out, err := l.Forward(NewTensorFromSlice([]int64{0, 1, 2}, 1, 3), nil, 0)
	require.NoError(t, err)
	// Position 0 is [sin 0, cos 0, sin 0, cos 0] for every token.
	assert.Equal(t, []float32{0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1}, out.Data)
}

func TestForwardSegments(t *testing.T) {
	cfg := learnedConfig()
	cfg.NumSegments = Ptr(2)
	l := mustLayer(t, cfg)
	word := l.InputEmbeddings().Weight
	pos := l.Positions().Learned().Weight
	seg := l.SegmentEmbeddings().Weight

	out, err := l.Forward(NewTensorFromSlice([]int64{4, 5}, 1, 2), NewTensorFromSlice([]float64{1, 0}, 1, 2), 0)
	require.NoError(t, err)
	assert.Equal(t, addRows(row(t, word, 4), row(t, pos, 0), row(t, seg, 1)), out.Data[0:4])
	assert.Equal(t, addRows(row(t, word, 5), row(t, pos, 1), row(t, seg, 0)), out.Data[4:8])

	_, err = l.Forward(NewTensorFromSlice([]int64{4, 5}, 1, 2), NewTensorFromSlice([]int64{2, 0}, 1, 2), 0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	var noSegments *Tensor[int64]
	plain, err := l.Forward(NewTensorFromSlice([]int64{4, 5}, 1, 2), noSegments, 0)
	require.NoError(t, err)
	assert.Equal(t, addRows(row(t, word, 4), row(t, pos, 0)), plain.Data[0:4])
}

func TestForwardSegmentWidthMismatch(t *testing.T) {
	cfg := learnedConfig()
	cfg.NumSegments = Ptr(2)
	cfg.SegmentEmbeddingSize = Ptr(3)
	l := mustLayer(t, cfg)

	_, err := l.Forward(NewTensorFromSlice([]int64{1}, 1, 1), NewTensorFromSlice([]int64{0}, 1, 1), 0)
	assert.ErrorIs(t, err, ErrShape)

	_, err = l.Forward(NewTensorFromSlice([]int64{1}, 1, 1), nil, 0)
	assert.NoError(t, err, "the mismatch only matters when segments are added")
}

func TestForwardInputRanks(t *testing.T) {
	l := mustLayer(t, learnedConfig())

	// Leading dims collapse; the outermost dim of 1 broadcasts positions.
	out, err := l.Forward(NewTensorFromSlice([]int64{1, 2, 3, 4, 5, 6}, 1, 2, 3), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, out.Shape)

	_, err = l.Forward(NewTensorFromSlice([]int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 1, 2, 3}, 2, 2, 3), nil, 0)
	assert.ErrorIs(t, err, ErrShape, "positions are built for the outermost dim only")

	_, err = l.Forward(NewTensorFromSlice([]int64{1, 2, 3}, 3), nil, 0)
	assert.ErrorIs(t, err, ErrShape, "a 1-D input takes its length as the batch size")

	out, err = l.Forward(NewTensorFromSlice([]int64{7}, 1), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 4}, out.Shape)

	_, err = l.Forward(&Tensor[int64]{Data: []int64{1}}, nil, 0)
	assert.ErrorIs(t, err, ErrShape)
	_, err = l.Forward(nil, nil, 0)
	assert.ErrorIs(t, err, ErrShape)

	_, err = l.Forward(NewTensorFromSlice([]int64{10}, 1, 1), nil, 0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestForwardRejectsMalformedTensors(t *testing.T) {
	cfg := learnedConfig()
	cfg.NumSegments = Ptr(2)
	l := mustLayer(t, cfg)

	tests := []struct {
		name     string
		tokens   Indexer
		segments Indexer
	}{
		{"negative dims", NewTensorFromSlice([]int64{1, 2, 3}, -1, -1, 3), nil},
		{"shape smaller than data", NewTensorFromSlice([]int64{1, 2, 3}, 1, 2), nil},
		{"shape larger than data", NewTensorFromSlice([]int64{1, 2}, 1, 3), nil},
		{"negative float dims", NewTensorFromSlice([]float32{1, 2}, -1, -2), nil},
		{"bad segment shape", NewTensorFromSlice([]int64{1, 2, 3}, 1, 3), NewTensorFromSlice([]int64{0, 1, 0}, 1, 2)},
		{"negative segment dims", NewTensorFromSlice([]int64{1, 2, 3}, 1, 3), NewTensorFromSlice([]int64{0, 1, 0}, -1, -3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out *Tensor[float32]
			var err error
			require.NotPanics(t, func() { out, err = l.Forward(tt.tokens, tt.segments, 0) })
			var se *ShapeError
			assert.ErrorAs(t, err, &se)
			assert.Nil(t, out)
		})
	}
}

func TestLookupRejectsMalformedIDs(t *testing.T) {
	table := NewEmbeddingTable("t", 4, 2, nil)
	_, err := table.Lookup(NewTensorFromSlice([]int64{1, 2, 3}, 1, 2))
	assert.ErrorIs(t, err, ErrShape)
}

func TestForwardFloatTokenIDs(t *testing.T) {
	l := mustLayer(t, learnedConfig())
	a, err := l.Forward(NewTensorFromSlice([]int64{1, 2}, 1, 2), nil, 0)
	require.NoError(t, err)
	b, err := l.Forward(NewTensorFromSlice([]float32{1, 2}, 1, 2), nil, 0)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestInputEmbeddingsRoundTrip(t *testing.T) {
	l := mustLayer(t, learnedConfig())
	ids := NewTensorFromSlice([]int64{3, 1, 4}, 1, 3)

	before, err := l.Forward(ids, nil, 0)
	require.NoError(t, err)
	l.SetInputEmbeddings(l.InputEmbeddings())
	after, err := l.Forward(ids, nil, 0)
	require.NoError(t, err)
	assert.True(t, before.Equal(after))

	// The handle is shared, so tied weights see updates.
	tied := l.InputEmbeddings()
	tied.Weight.Data[3*4] += 1
	changed, err := l.Forward(ids, nil, 0)
	require.NoError(t, err)
	assert.InDelta(t, before.Data[0]+1, changed.Data[0], 1e-6)

	replacement := NewEmbeddingTable("tied", 10, 4, nil)
	replacement.Initialize(func(w *Tensor[float32]) {})
	l.SetInputEmbeddings(replacement)
	assert.Same(t, replacement, l.InputEmbeddings())
}

func TestNewEmbeddingLayerErrors(t *testing.T) {
	cfg := learnedConfig()
	cfg.MaxPositionEmbeddings = nil
	_, err := NewEmbeddingLayer(cfg)
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg = learnedConfig()
	cfg.PositionEmbeddingType = "relative"
	_, err = NewEmbeddingLayer(cfg)
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg = learnedConfig()
	cfg.SegmentEmbeddingsInitializer = InitializerNamed("orthogonal")
	_, err = NewEmbeddingLayer(cfg)
	assert.ErrorIs(t, err, ErrUnknownInitializer)

	cfg = learnedConfig()
	cfg.Device = DeviceWebGPU
	_, err = NewEmbeddingLayer(cfg)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "device", ce.Field)
}

func TestNewEmbeddingLayerInitializers(t *testing.T) {
	cfg := learnedConfig()
	cfg.PadTokenID = Ptr(2)
	cfg.EmbeddingsInitializer = InitializerFunc(sequentialInit)
	cfg.PositionEmbeddingsInitializer = InitializerNamed("constant").With("value", 3)
	l := mustLayer(t, cfg)

	assert.Equal(t, []float32{1, 2, 3, 4}, row(t, l.InputEmbeddings().Weight, 0))
	assert.Equal(t, make([]float32, 4), row(t, l.InputEmbeddings().Weight, 2))
	for _, v := range l.Positions().Learned().Weight.Data {
		assert.Equal(t, float32(3), v)
	}

	a := mustLayer(t, learnedConfig())
	b := mustLayer(t, learnedConfig())
	assert.True(t, a.InputEmbeddings().Weight.Equal(b.InputEmbeddings().Weight), "same seed, same tables")
}

func TestNewEmbeddingLayerPrecision(t *testing.T) {
	cfg := learnedConfig()
	cfg.DType = DTypeBFloat16
	l := mustLayer(t, cfg)

	for _, v := range l.InputEmbeddings().Weight.Data {
		assert.Zero(t, math.Float32bits(v)&0xffff)
	}
	out, err := l.Forward(NewTensorFromSlice([]int64{1}, 1, 1), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, DTypeBFloat16, out.DType)
}

type countingBackend struct {
	CPUBackend
	calls int
}

func (b *countingBackend) Name() string { return "counting" }

func (b *countingBackend) Gather(weight *Tensor[float32], ids *Tensor[int64]) (*Tensor[float32], error) {
	b.calls++
	return b.CPUBackend.Gather(weight, ids)
}

func TestWithBackend(t *testing.T) {
	b := &countingBackend{}
	cfg := learnedConfig()
	cfg.NumSegments = Ptr(2)
	l := mustLayer(t, cfg, WithBackend(b))

	_, err := l.Forward(NewTensorFromSlice([]int64{1, 2}, 1, 2), NewTensorFromSlice([]int64{0, 1}, 1, 2), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, b.calls, "word, position and segment lookups")
	assert.Equal(t, "counting", Describe(l).Backend)
}

func TestCloneReplicas(t *testing.T) {
	cfg := learnedConfig()
	cfg.NumSegments = Ptr(3)
	l := mustLayer(t, cfg)
	ids := NewTensorFromSlice([]int64{1, 2, 3, 4}, 2, 2)
	segs := NewTensorFromSlice([]int64{0, 1, 2, 0}, 2, 2)

	want, err := l.Forward(ids, segs, 1)
	require.NoError(t, err)

	outs := make([]*Tensor[float32], 4)
	g, _ := errgroup.WithContext(context.Background())
	for i := range outs {
		i := i
		replica := l.Clone()
		g.Go(func() error {
			out, err := replica.Forward(ids, segs, 1)
			outs[i] = out
			return err
		})
	}
	require.NoError(t, g.Wait())
	for i, out := range outs {
		if diff := cmp.Diff(want.Data, out.Data); diff != "" {
			t.Errorf("replica %d differs (-want +got):\n%s", i, diff)
		}
	}

	c := l.Clone()
	c.InputEmbeddings().Weight.Data[4] = 99
	c.Positions().Learned().Weight.Data[0] = 99
	c.SegmentEmbeddings().Weight.Data[0] = 99
	assert.NotEqual(t, float32(99), l.InputEmbeddings().Weight.Data[4])
	assert.NotEqual(t, float32(99), l.Positions().Learned().Weight.Data[0])
	assert.NotEqual(t, float32(99), l.SegmentEmbeddings().Weight.Data[0])
}

func TestDescribe(t *testing.T) {
	cfg := learnedConfig()
	cfg.NumSegments = Ptr(2)
	tel := Describe(mustLayer(t, cfg))

	assert.Equal(t, "learned", tel.PositionEmbeddingType)
	assert.Equal(t, "cpu", tel.Backend)
	assert.Equal(t, 40+20+8, tel.TotalParams)
	require.Len(t, tel.Tables, 3)
	assert.Equal(t, "word_embeddings", tel.Tables[0].Name)
	assert.Equal(t, []int{10, 4}, tel.Tables[0].Shape)
	assert.Equal(t, "segment_embeddings", tel.Tables[2].Name)

	b, err := json.Marshal(tel)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"total_parameters":68`)

	fixed := Describe(mustLayer(t, EmbeddingLayerConfig{
		VocabSize: 3, EmbeddingSize: 4, PositionEmbeddingType: PositionFixed, MaxPositionEmbeddings: Ptr(8),
	}))
	require.Len(t, fixed.Tables, 2)
	assert.False(t, fixed.Tables[1].Trainable)
	assert.Zero(t, fixed.Tables[1].Parameters)
	assert.Equal(t, 12, fixed.TotalParams)
}
