package nn

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultInitializer is used for every table whose initializer is left empty.
const DefaultInitializer = "uniform"

const (
	DefaultMinTimescale = 1.0
	DefaultMaxTimescale = 1.0e4
)

// PositionEmbeddingType selects the positional source of an embedding layer.
type PositionEmbeddingType string

const (
	PositionNone    PositionEmbeddingType = "none"
	PositionLearned PositionEmbeddingType = "learned"
	PositionFixed   PositionEmbeddingType = "fixed"
	PositionRotary  PositionEmbeddingType = "rotary"
)

// ParsePositionEmbeddingType normalizes s. The empty string selects learned.
func ParsePositionEmbeddingType(s string) (PositionEmbeddingType, error) {
	switch t := PositionEmbeddingType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return PositionLearned, nil
	case PositionNone, PositionLearned, PositionFixed, PositionRotary:
		return t, nil
	default:
		return "", fmt.Errorf("unknown position embedding type %q", s)
	}
}

// needsTable reports whether the type owns a positional table.
func (t PositionEmbeddingType) needsTable() bool {
	return t == PositionLearned || t == PositionFixed
}

// =============================================================================
// InitializerSpec
// =============================================================================

// InitializerSpec names a registered initializer, or carries one directly in
// Func. In config files it is either a bare name ("uniform") or a mapping
// with a name key and numeric parameters ({name: normal, stddev: 0.02}).
type InitializerSpec struct {
	Name   string
	Params map[string]float64
	Func   Initializer
}

// InitializerNamed returns a spec for a registered initializer.
func InitializerNamed(name string) InitializerSpec {
	return InitializerSpec{Name: name}
}

// With returns a copy of the spec with parameter key set to v.
func (s InitializerSpec) With(key string, v float64) InitializerSpec {
	params := make(map[string]float64, len(s.Params)+1)
	for k, old := range s.Params {
		params[k] = old
	}
	params[key] = v
	s.Params = params
	return s
}

// InitializerFunc wraps a caller supplied initializer.
func InitializerFunc(f Initializer) InitializerSpec {
	return InitializerSpec{Name: "custom", Func: f}
}

func (s InitializerSpec) param(key string, def float64) float64 {
	if v, ok := s.Params[key]; ok {
		return v
	}
	return def
}

func (s InitializerSpec) String() string {
	if s.Func != nil {
		return "custom"
	}
	if s.Name == "" {
		return DefaultInitializer
	}
	return s.Name
}

func (s *InitializerSpec) fromMap(m map[string]any) error {
	*s = InitializerSpec{}
	for k, v := range m {
		if k == "name" {
			name, ok := v.(string)
			if !ok {
				return fmt.Errorf("initializer name must be a string, got %T", v)
			}
			s.Name = name
			continue
		}
		var f float64
		switch n := v.(type) {
		case int:
			f = float64(n)
		case int64:
			f = float64(n)
		case float64:
			f = n
		default:
			return fmt.Errorf("initializer parameter %q must be numeric, got %T", k, v)
		}
		if s.Params == nil {
			s.Params = make(map[string]float64)
		}
		s.Params[k] = f
	}
	if s.Name == "" {
		return fmt.Errorf("initializer mapping has no name")
	}
	return nil
}

func (s *InitializerSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = InitializerSpec{Name: node.Value}
		return nil
	}
	var m map[string]any
	if err := node.Decode(&m); err != nil {
		return err
	}
	return s.fromMap(m)
}

func (s InitializerSpec) MarshalYAML() (any, error) {
	if len(s.Params) == 0 {
		return s.String(), nil
	}
	return s.asMap(), nil
}

func (s *InitializerSpec) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*s = InitializerSpec{Name: name}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	return s.fromMap(m)
}

func (s InitializerSpec) MarshalJSON() ([]byte, error) {
	if len(s.Params) == 0 {
		return json.Marshal(s.String())
	}
	return json.Marshal(s.asMap())
}

func (s InitializerSpec) asMap() map[string]any {
	m := map[string]any{"name": s.String()}
	for k, v := range s.Params {
		m[k] = v
	}
	return m
}

// =============================================================================
// EmbeddingLayerConfig
// =============================================================================

// EmbeddingLayerConfig describes the tables of an EmbeddingLayer. Optional
// fields are pointers: nil means unset, so a pad id of 0 is a real pad id.
type EmbeddingLayerConfig struct {
	VocabSize     int  `json:"vocab_size" yaml:"vocab_size"`
	EmbeddingSize int  `json:"embedding_size" yaml:"embedding_size"`
	PadTokenID    *int `json:"pad_token_id,omitempty" yaml:"pad_token_id,omitempty"`

	// SegmentEmbeddingSize defaults to EmbeddingSize.
	SegmentEmbeddingSize  *int            `json:"segment_embedding_size,omitempty" yaml:"segment_embedding_size,omitempty"`
	EmbeddingsInitializer InitializerSpec `json:"embeddings_initializer,omitempty" yaml:"embeddings_initializer,omitempty"`

	MaxPositionEmbeddings         *int                  `json:"max_position_embeddings,omitempty" yaml:"max_position_embeddings,omitempty"`
	PositionEmbeddingType         PositionEmbeddingType `json:"position_embedding_type,omitempty" yaml:"position_embedding_type,omitempty"`
	MinTimescale                  *float64              `json:"min_timescale,omitempty" yaml:"min_timescale,omitempty"`
	MaxTimescale                  *float64              `json:"max_timescale,omitempty" yaml:"max_timescale,omitempty"`
	PositionEmbeddingsInitializer InitializerSpec       `json:"position_embeddings_initializer,omitempty" yaml:"position_embeddings_initializer,omitempty"`

	NumSegments                  *int            `json:"num_segments,omitempty" yaml:"num_segments,omitempty"`
	SegmentEmbeddingsInitializer InitializerSpec `json:"segment_embeddings_initializer,omitempty" yaml:"segment_embeddings_initializer,omitempty"`

	DType  DType  `json:"dtype,omitempty" yaml:"dtype,omitempty"`
	Device Device `json:"device,omitempty" yaml:"device,omitempty"`
}

// Ptr returns a pointer to v, for filling optional config fields.
func Ptr[T any](v T) *T {
	return &v
}

// LoadConfig reads a YAML or JSON config file.
func LoadConfig(path string) (EmbeddingLayerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EmbeddingLayerConfig{}, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML or JSON document.
func ParseConfig(data []byte) (EmbeddingLayerConfig, error) {
	var cfg EmbeddingLayerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EmbeddingLayerConfig{}, fmt.Errorf("parse embedding config: %w", err)
	}
	return cfg, nil
}

// withDefaults returns a copy with defaults applied to unset fields.
func (c EmbeddingLayerConfig) withDefaults() EmbeddingLayerConfig {
	if c.SegmentEmbeddingSize == nil {
		c.SegmentEmbeddingSize = Ptr(c.EmbeddingSize)
	}
	if c.PositionEmbeddingType == "" {
		c.PositionEmbeddingType = PositionLearned
	}
	if c.MinTimescale == nil {
		c.MinTimescale = Ptr(DefaultMinTimescale)
	}
	if c.MaxTimescale == nil {
		c.MaxTimescale = Ptr(DefaultMaxTimescale)
	}
	if c.Device == "" {
		c.Device = DeviceCPU
	}
	return c
}

// Validate checks every field. It never builds any state.
func (c EmbeddingLayerConfig) Validate() error {
	_, err := c.normalize()
	return err
}

// normalize applies defaults and validates, returning the effective config.
func (c EmbeddingLayerConfig) normalize() (EmbeddingLayerConfig, error) {
	c = c.withDefaults()

	if c.VocabSize <= 0 {
		return c, &ConfigError{Field: "vocab_size", Reason: fmt.Sprintf("must be positive, got %d", c.VocabSize)}
	}
	if c.EmbeddingSize <= 0 {
		return c, &ConfigError{Field: "embedding_size", Reason: fmt.Sprintf("must be positive, got %d", c.EmbeddingSize)}
	}
	if c.PadTokenID != nil && (*c.PadTokenID < 0 || *c.PadTokenID >= c.VocabSize) {
		return c, &ConfigError{Field: "pad_token_id", Reason: fmt.Sprintf("%d is not a row of a %d-row vocabulary", *c.PadTokenID, c.VocabSize)}
	}
	if *c.SegmentEmbeddingSize <= 0 {
		return c, &ConfigError{Field: "segment_embedding_size", Reason: fmt.Sprintf("must be positive, got %d", *c.SegmentEmbeddingSize)}
	}
	if c.NumSegments != nil && *c.NumSegments <= 0 {
		return c, &ConfigError{Field: "num_segments", Reason: fmt.Sprintf("must be positive when set, got %d", *c.NumSegments)}
	}

	posType, err := ParsePositionEmbeddingType(string(c.PositionEmbeddingType))
	if err != nil {
		return c, &ConfigError{Field: "position_embedding_type", Reason: err.Error()}
	}
	c.PositionEmbeddingType = posType

	if posType.needsTable() && c.MaxPositionEmbeddings == nil {
		return c, &ConfigError{Field: "max_position_embeddings", Reason: fmt.Sprintf("required for %s position embeddings", posType)}
	}
	if c.MaxPositionEmbeddings != nil && *c.MaxPositionEmbeddings <= 0 {
		return c, &ConfigError{Field: "max_position_embeddings", Reason: fmt.Sprintf("must be positive, got %d", *c.MaxPositionEmbeddings)}
	}
	if *c.MinTimescale <= 0 {
		return c, &ConfigError{Field: "min_timescale", Reason: fmt.Sprintf("must be positive, got %v", *c.MinTimescale)}
	}
	if *c.MaxTimescale <= 0 {
		return c, &ConfigError{Field: "max_timescale", Reason: fmt.Sprintf("must be positive, got %v", *c.MaxTimescale)}
	}

	device, err := ParseDevice(string(c.Device))
	if err != nil {
		return c, &ConfigError{Field: "device", Reason: err.Error()}
	}
	c.Device = device

	switch c.DType {
	case DTypeFloat32, DTypeFloat16, DTypeBFloat16:
	default:
		return c, &ConfigError{Field: "dtype", Reason: fmt.Sprintf("unsupported %s", c.DType)}
	}
	return c, nil
}
