//go:build onnx

package onnx

import (
	"context"
	"fmt"
	"log/slog"

	ort "github.com/yalue/onnxruntime_go"
)

// Config configures the ONNX embedder.
type Config struct {
	// LibraryPath is the onnxruntime shared library. Empty uses the loader's default.
	LibraryPath string

	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// Dimensions is the embedding vector size (default: 384 for all-MiniLM-L6-v2).
	Dimensions int

	// MaxSequenceLength is the fixed input length (default: 128).
	MaxSequenceLength int
}

// Embedder generates embeddings locally with ONNX Runtime, so long-term
// memory works without any network service.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *Tokenizer
	dimensions int
	maxLen     int
	logger     *slog.Logger
}

// New loads the model and tokenizer.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("ModelPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxSequenceLength == 0 {
		cfg.MaxSequenceLength = 128
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &Embedder{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
		maxLen:     cfg.MaxSequenceLength,
		logger:     slog.Default().With("component", "onnx"),
	}, nil
}

// Embed runs the model and mean-pools the last hidden state.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputIDs, mask := e.tokenizer.Encode(text, e.maxLen)
	tokenTypes := make([]int64, e.maxLen)
	shape := ort.NewShape(1, int64(e.maxLen))

	var inputs []ort.Value
	for _, data := range [][]int64{inputIDs, mask, tokenTypes} {
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("create input tensor: %w", err)
		}
		defer tensor.Destroy()
		inputs = append(inputs, tensor)
	}

	outputs := []ort.Value{nil} // allocated by Run
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	data := hidden.GetData()
	outShape := hidden.GetShape()

	switch len(outShape) {
	case 2: // already pooled: [1, hidden]
		if len(data) < e.dimensions {
			return nil, fmt.Errorf("output dimension mismatch: got %d, expected %d", len(data), e.dimensions)
		}
		return normalize(append([]float32(nil), data[:e.dimensions]...)), nil
	case 3: // [1, seq, hidden]
		if outShape[0] != 1 || outShape[2] != int64(e.dimensions) {
			return nil, fmt.Errorf("unexpected output shape %v", outShape)
		}
		return normalize(meanPool(data, mask, int(outShape[1]), e.dimensions)), nil
	default:
		e.logger.Error("unexpected output shape", "shape", outShape)
		return nil, fmt.Errorf("unexpected output shape %v", outShape)
	}
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases ONNX resources.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
