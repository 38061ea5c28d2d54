//go:build !onnx

package main

import (
	"errors"

	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/memory"
)

func newONNXEmbedder(*config.Config) (memory.Embedder, func(), error) {
	return nil, nil, errors.New("EMBEDDER=onnx needs a binary built with -tags onnx")
}
