package nn

// LayerTelemetry contains the structural information of an embedding layer.
type LayerTelemetry struct {
	Type                  string           `json:"type"`
	PositionEmbeddingType string           `json:"position_embedding_type"`
	DType                 string           `json:"dtype"`
	Device                string           `json:"device"`
	Backend               string           `json:"backend"`
	PadTokenID            *int             `json:"pad_token_id,omitempty"`
	TotalParams           int              `json:"total_parameters"`
	Tables                []TableTelemetry `json:"tables"`
}

// TableTelemetry contains metadata about one table of the layer
type TableTelemetry struct {
	Name       string  `json:"name"`
	Shape      []int   `json:"shape"`
	Trainable  bool    `json:"trainable"`
	Parameters int     `json:"parameters"`
	Min        float32 `json:"min"`
	Max        float32 `json:"max"`
	Mean       float64 `json:"mean"`
}

// Describe extracts telemetry from a built layer. The fixed position table
// is reported with Trainable false and contributes no parameters.
func Describe(l *EmbeddingLayer) LayerTelemetry {
	cfg := l.Config()
	tel := LayerTelemetry{
		Type:                  "embedding",
		PositionEmbeddingType: string(cfg.PositionEmbeddingType),
		DType:                 cfg.DType.String(),
		Device:                string(cfg.Device),
		Backend:               l.Backend().Name(),
		PadTokenID:            cfg.PadTokenID,
		TotalParams:           l.Parameters(),
	}

	tel.Tables = append(tel.Tables, tableTelemetry(l.InputEmbeddings().Name, l.InputEmbeddings().Weight, true))
	if t := l.Positions().Learned(); t != nil {
		tel.Tables = append(tel.Tables, tableTelemetry(t.Name, t.Weight, true))
	}
	if fixed := l.Positions().Fixed(); fixed != nil {
		tel.Tables = append(tel.Tables, tableTelemetry("position_embeddings", fixed, false))
	}
	if t := l.SegmentEmbeddings(); t != nil {
		tel.Tables = append(tel.Tables, tableTelemetry(t.Name, t.Weight, true))
	}
	return tel
}

func tableTelemetry(name string, w *Tensor[float32], trainable bool) TableTelemetry {
	tt := TableTelemetry{
		Name:      name,
		Shape:     append([]int(nil), w.Shape...),
		Trainable: trainable,
		Min:       Min(w.Data),
		Max:       Max(w.Data),
		Mean:      Mean(w.Data),
	}
	if trainable {
		tt.Parameters = w.Size()
	}
	return tt
}
