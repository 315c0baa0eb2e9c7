// Package nn composes the input embeddings of a transformer encoder.
//
// An EmbeddingLayer sums three contributions for every token:
//   - a word vector gathered from a [vocab_size, embedding_size] table
//   - a positional vector, either gathered from a learned table, taken from a
//     fixed sinusoidal table, or omitted (position type "none" or "rotary")
//   - an optional segment vector gathered from a [num_segments, embedding_size] table
//
// Lookups run on a Backend. The CPU backend is the default; the gpu package
// provides a WebGPU gather.
//
// Example usage:
//
//	cfg, _ := nn.LoadConfig("embedding.yaml")
//	layer, _ := nn.NewEmbeddingLayer(cfg, nn.WithResolver(nn.NewResolver(42)))
//
//	ids := nn.NewTensorFromSlice([]int64{101, 2054, 102}, 1, 3)
//	emb, _ := layer.Forward(ids, nil, 0) // [1, 3, embedding_size]
package nn
