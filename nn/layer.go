package nn

import (
	"fmt"
	"log/slog"
)

// =============================================================================
// EmbeddingLayer
// =============================================================================

// EmbeddingLayer composes word, positional and segment embeddings.
//
// All tables are built and initialized once in NewEmbeddingLayer. Forward is
// a pure function of its inputs and the current table contents. A layer is
// not safe for concurrent mutation; data-parallel callers give each replica
// its own Clone.
type EmbeddingLayer struct {
	cfg EmbeddingLayerConfig

	wordEmbeddings    *EmbeddingTable
	positions         *PositionalSource
	segmentEmbeddings *EmbeddingTable

	backend Backend
	logger  *slog.Logger
}

type layerOptions struct {
	resolver *Resolver
	backend  Backend
	logger   *slog.Logger
}

// Option customizes NewEmbeddingLayer.
type Option func(*layerOptions)

// WithResolver sets the resolver used for every initializer. Seeding it
// makes construction reproducible.
func WithResolver(r *Resolver) Option {
	return func(o *layerOptions) { o.resolver = r }
}

// WithBackend sets where table lookups run. Its Device must match the
// config's device.
func WithBackend(b Backend) Option {
	return func(o *layerOptions) { o.backend = b }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *layerOptions) { o.logger = l }
}

// NewEmbeddingLayer validates cfg, resolves its initializers and builds the
// tables. Nothing is allocated when validation fails.
func NewEmbeddingLayer(cfg EmbeddingLayerConfig, opts ...Option) (*EmbeddingLayer, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	o := layerOptions{resolver: &Resolver{}, backend: NewCPUBackend(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend.Device() != cfg.Device {
		return nil, &ConfigError{Field: "device", Reason: fmt.Sprintf("config wants %s but backend %s runs on %s", cfg.Device, o.backend.Name(), o.backend.Device())}
	}

	wordInit, err := o.resolver.Resolve(cfg.EmbeddingsInitializer)
	if err != nil {
		return nil, fmt.Errorf("embeddings_initializer: %w", err)
	}
	posInit, err := o.resolver.Resolve(cfg.PositionEmbeddingsInitializer)
	if err != nil {
		return nil, fmt.Errorf("position_embeddings_initializer: %w", err)
	}
	segInit, err := o.resolver.Resolve(cfg.SegmentEmbeddingsInitializer)
	if err != nil {
		return nil, fmt.Errorf("segment_embeddings_initializer: %w", err)
	}

	l := &EmbeddingLayer{
		cfg:     cfg,
		backend: o.backend,
		logger:  o.logger,
	}

	l.wordEmbeddings = NewEmbeddingTable("word_embeddings", cfg.VocabSize, cfg.EmbeddingSize, cfg.PadTokenID)
	l.wordEmbeddings.Weight.DType = cfg.DType
	l.wordEmbeddings.SetBackend(o.backend)
	l.wordEmbeddings.Initialize(wordInit)

	l.positions = newPositionalSource(cfg)
	if t := l.positions.Learned(); t != nil {
		t.SetBackend(o.backend)
		t.Initialize(posInit)
	}

	if cfg.NumSegments != nil {
		l.segmentEmbeddings = NewEmbeddingTable("segment_embeddings", *cfg.NumSegments, *cfg.SegmentEmbeddingSize, nil)
		l.segmentEmbeddings.Weight.DType = cfg.DType
		l.segmentEmbeddings.SetBackend(o.backend)
		l.segmentEmbeddings.Initialize(segInit)
	}

	l.logger.Debug("embedding layer built",
		"vocab", cfg.VocabSize,
		"dim", cfg.EmbeddingSize,
		"positions", cfg.PositionEmbeddingType,
		"segments", l.segmentEmbeddings != nil,
		"dtype", cfg.DType,
		"backend", o.backend.Name(),
		"params", l.Parameters())
	return l, nil
}

// Forward embeds tokenIDs and returns a [flatBatch, seqLen, EmbeddingSize]
// tensor, where seqLen is the last dimension of tokenIDs and flatBatch the
// product of the others. segmentIDs may be nil. pastLength offsets learned
// position ids for incremental decoding.
//
// Learned positions are built for the outermost token dimension only, so
// inputs of rank greater than two must have that dimension equal to
// flatBatch or to 1.
func (l *EmbeddingLayer) Forward(tokenIDs, segmentIDs Indexer, pastLength int) (*Tensor[float32], error) {
	if tokenIDs == nil {
		return nil, &ShapeError{Op: "embedding forward", Want: "token ids", Got: nil}
	}
	ids, err := tokenIDs.AsIndices()
	if err != nil {
		return nil, fmt.Errorf("token ids: %w", err)
	}
	if ids == nil || ids.Rank() == 0 {
		return nil, &ShapeError{Op: "embedding forward", Want: "token ids of rank >= 1", Got: nil}
	}

	batchSize := ids.Shape[0]
	seqLen := ids.Dim(-1)
	flatBatch := Numel(ids.Shape[:ids.Rank()-1])
	flat := &Tensor[int64]{Data: ids.Data, Shape: []int{flatBatch, seqLen}, DType: ids.DType, Device: ids.Device}

	embeddings, err := l.wordEmbeddings.Lookup(flat)
	if err != nil {
		return nil, err
	}

	if fixed := l.positions.Fixed(); fixed != nil && (fixed.Device != embeddings.Device || fixed.DType != embeddings.DType) {
		l.logger.Debug("relocating fixed positions", "device", embeddings.Device, "dtype", embeddings.DType)
	}
	if err := l.positions.addTo(embeddings, batchSize, seqLen, pastLength); err != nil {
		return nil, fmt.Errorf("position embeddings: %w", err)
	}

	if segmentIDs != nil && l.segmentEmbeddings != nil {
		seg, err := segmentIDs.AsIndices()
		if err != nil {
			return nil, fmt.Errorf("segment ids: %w", err)
		}
		if seg != nil {
			segEmbeddings, err := l.segmentEmbeddings.Lookup(seg)
			if err != nil {
				return nil, err
			}
			if err := AddInPlace(embeddings, segEmbeddings); err != nil {
				return nil, fmt.Errorf("segment embeddings: %w", err)
			}
		}
	}
	return embeddings, nil
}

// InputEmbeddings returns the word table itself, for weight tying.
func (l *EmbeddingLayer) InputEmbeddings() *EmbeddingTable { return l.wordEmbeddings }

// SetInputEmbeddings replaces the word table with t. No copy is made.
func (l *EmbeddingLayer) SetInputEmbeddings(t *EmbeddingTable) { l.wordEmbeddings = t }

// Positions returns the positional source.
func (l *EmbeddingLayer) Positions() *PositionalSource { return l.positions }

// SegmentEmbeddings returns the segment table, or nil when none is configured.
func (l *EmbeddingLayer) SegmentEmbeddings() *EmbeddingTable { return l.segmentEmbeddings }

// Config returns the effective config, defaults applied.
func (l *EmbeddingLayer) Config() EmbeddingLayerConfig { return l.cfg }

// Backend returns the lookup backend.
func (l *EmbeddingLayer) Backend() Backend { return l.backend }

// Parameters returns the number of trainable values.
func (l *EmbeddingLayer) Parameters() int {
	n := l.wordEmbeddings.Parameters()
	if t := l.positions.Learned(); t != nil {
		n += t.Parameters()
	}
	if l.segmentEmbeddings != nil {
		n += l.segmentEmbeddings.Parameters()
	}
	return n
}

// Clone returns a replica owning copies of every trainable table. The
// constant fixed position table is shared.
func (l *EmbeddingLayer) Clone() *EmbeddingLayer {
	c := &EmbeddingLayer{
		cfg:            l.cfg,
		wordEmbeddings: l.wordEmbeddings.Clone(),
		positions:      l.positions.clone(),
		backend:        l.backend,
		logger:         l.logger,
	}
	if l.segmentEmbeddings != nil {
		c.segmentEmbeddings = l.segmentEmbeddings.Clone()
	}
	return c
}
