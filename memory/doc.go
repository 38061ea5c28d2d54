// Package memory provides the conversational memory layer for companion chats.
//
// Two kinds of memory feed every generation turn:
//   - Short-term: an append-only, ordered log of dialogue lines per
//     conversation (HistoryStore). The latest window is replayed verbatim.
//   - Long-term: embedded text units per character namespace (VectorStore +
//     Embedder behind VectorIndex), retrieved by similarity to the recent
//     conversation.
//
// Architecture:
//   - HistoryStore: log backend (Postgres for clusters, bbolt for a single node)
//   - VectorStore: similarity backend (chromem-go locally, pgvector in production)
//   - Embedder: text-to-vector conversion (OpenAI-compatible API, ONNX, mock)
//   - Manager: the one entry point the request handler uses
//
// Failure policy:
//   - History failures are hard and surface as core.ExternalServiceError.
//   - Vector and embedding failures are soft: VectorIndex.Search degrades to an
//     empty result and generation proceeds without long-term memory.
//
// A Manager is built once at startup and shared by all request handlers.
// It holds no mutable state of its own.
package memory
