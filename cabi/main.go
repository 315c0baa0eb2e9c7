package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/openfluke/loom-embedding/envconfig"
	"github.com/openfluke/loom-embedding/gpu"
	"github.com/openfluke/loom-embedding/nn"
)

// Helper functions for JSON responses
func errJSON(err error) *C.char {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return C.CString(string(data))
}

func asJSON(v any) *C.char {
	data, err := json.Marshal(v)
	if err != nil {
		return errJSON(err)
	}
	return C.CString(string(data))
}

// Global layer instance (simplified single-layer API)
var (
	mu           sync.Mutex
	currentLayer *nn.EmbeddingLayer
)

// ForwardRequest is the JSON body of EmbeddingForward. Ids are row-major;
// Shape defaults to [1, len(TokenIDs)] and also applies to SegmentIDs.
type ForwardRequest struct {
	TokenIDs   []int64 `json:"token_ids"`
	Shape      []int   `json:"shape,omitempty"`
	SegmentIDs []int64 `json:"segment_ids,omitempty"`
	PastLength int     `json:"past_length,omitempty"`
}

// ForwardResponse carries the flattened embeddings.
type ForwardResponse struct {
	Shape []int     `json:"shape"`
	DType string    `json:"dtype"`
	Data  []float32 `json:"data"`
}

func buildLayer(data []byte) (*nn.EmbeddingLayer, error) {
	cfg, err := nn.ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if cfg.Device == "" {
		if cfg.Device, err = nn.ParseDevice(envconfig.Device()); err != nil {
			return nil, err
		}
	}
	backend, err := gpu.BackendFor(cfg.Device)
	if err != nil {
		return nil, err
	}

	opts := []nn.Option{nn.WithBackend(backend), nn.WithLogger(slog.Default())}
	if seed, ok := envconfig.Seed(); ok {
		opts = append(opts, nn.WithResolver(nn.NewResolver(seed)))
	}
	return nn.NewEmbeddingLayer(cfg, opts...)
}

func forward(l *nn.EmbeddingLayer, req ForwardRequest) (*ForwardResponse, error) {
	shape := req.Shape
	if len(shape) == 0 {
		shape = []int{1, len(req.TokenIDs)}
	}
	tokens := nn.NewTensorFromSlice(req.TokenIDs, shape...)
	if err := tokens.Validate(); err != nil {
		return nil, fmt.Errorf("token_ids: %w", err)
	}

	var segments nn.Indexer
	if req.SegmentIDs != nil {
		if len(req.SegmentIDs) != len(req.TokenIDs) {
			return nil, &nn.ShapeError{Op: "segment_ids", Want: fmt.Sprintf("%v", shape), Got: []int{len(req.SegmentIDs)}}
		}
		segments = nn.NewTensorFromSlice(req.SegmentIDs, shape...)
	}

	out, err := l.Forward(tokens, segments, req.PastLength)
	if err != nil {
		return nil, err
	}
	return &ForwardResponse{Shape: out.Shape, DType: out.DType.String(), Data: out.Data}, nil
}

//export CreateEmbeddingLayer
func CreateEmbeddingLayer(jsonConfig *C.char) *C.char {
	l, err := buildLayer([]byte(C.GoString(jsonConfig)))
	if err != nil {
		return errJSON(fmt.Errorf("failed to create embedding layer: %w", err))
	}

	mu.Lock()
	currentLayer = l
	mu.Unlock()

	return asJSON(map[string]any{"status": "success", "parameters": l.Parameters()})
}

//export EmbeddingForward
func EmbeddingForward(jsonRequest *C.char) *C.char {
	mu.Lock()
	defer mu.Unlock()
	if currentLayer == nil {
		return errJSON(fmt.Errorf("no embedding layer created"))
	}

	var req ForwardRequest
	if err := json.Unmarshal([]byte(C.GoString(jsonRequest)), &req); err != nil {
		return errJSON(fmt.Errorf("invalid request: %w", err))
	}
	resp, err := forward(currentLayer, req)
	if err != nil {
		return errJSON(err)
	}
	return asJSON(resp)
}

//export EmbeddingDescribe
func EmbeddingDescribe() *C.char {
	mu.Lock()
	defer mu.Unlock()
	if currentLayer == nil {
		return errJSON(fmt.Errorf("no embedding layer created"))
	}
	return asJSON(nn.Describe(currentLayer))
}

//export FreeLoomString
func FreeLoomString(p *C.char) {
	C.free(unsafe.Pointer(p))
}

func main() {}
