//go:build onnx

package main

import (
	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/memory/embedder/onnx"
)

func newONNXEmbedder(cfg *config.Config) (memory.Embedder, func(), error) {
	emb, err := onnx.New(onnx.Config{
		LibraryPath:   cfg.ONNXLibraryPath,
		ModelPath:     cfg.ONNXModelPath,
		TokenizerPath: cfg.ONNXTokenizerPath,
		Dimensions:    cfg.EmbeddingDimensions,
	})
	if err != nil {
		return nil, nil, err
	}
	return emb, func() { emb.Close() }, nil
}
