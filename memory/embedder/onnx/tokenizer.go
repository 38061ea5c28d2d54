package onnx

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"
)

// Special token IDs of the bert-base-uncased vocabulary.
const (
	clsTokenID = 101
	sepTokenID = 102
	unkTokenID = 100
)

// Tokenizer does BERT-style lowercase WordPiece tokenization.
type Tokenizer struct {
	vocab map[string]int
}

// LoadTokenizer reads the vocabulary from a Hugging Face tokenizer.json file.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}

	var file struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if len(file.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocabulary", path)
	}
	return &Tokenizer{vocab: file.Model.Vocab}, nil
}

// NewTokenizer builds a tokenizer from an in-memory vocabulary.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	return &Tokenizer{vocab: vocab}
}

// Tokenize converts text to token IDs, without [CLS]/[SEP].
func (t *Tokenizer) Tokenize(text string) []int64 {
	var ids []int64
	for _, word := range splitWords(strings.ToLower(text)) {
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}
		ids = append(ids, t.wordPiece(word)...)
	}
	return ids
}

// Encode returns input IDs and the attention mask for a fixed sequence
// length, wrapped in [CLS] ... [SEP] and truncated to fit.
func (t *Tokenizer) Encode(text string, maxLen int) (inputIDs, attentionMask []int64) {
	inputIDs = make([]int64, maxLen)
	attentionMask = make([]int64, maxLen)

	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1
	for i, id := range tokens {
		inputIDs[i+1] = id
		attentionMask[i+1] = 1
	}
	end := len(tokens) + 1
	inputIDs[end] = sepTokenID
	attentionMask[end] = 1
	return inputIDs, attentionMask
}

// wordPiece splits a word into the longest known prefixes, marking
// continuations with "##". Unknown spans become [UNK].
func (t *Tokenizer) wordPiece(word string) []int64 {
	var ids []int64
	runes := []rune(word)
	start := 0
	for start < len(runes) {
		end := len(runes)
		matched := -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				matched = id
				break
			}
			end--
		}
		if matched < 0 {
			ids = append(ids, unkTokenID)
			start++
			continue
		}
		ids = append(ids, int64(matched))
		start = end
	}
	return ids
}

// splitWords splits on whitespace and isolates punctuation, as BERT's basic tokenizer does.
func splitWords(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// meanPool averages hidden states over attended positions.
// hidden is [seqLen * hiddenSize] row-major.
func meanPool(hidden []float32, mask []int64, seqLen, hiddenSize int) []float32 {
	out := make([]float32, hiddenSize)
	var attended float32
	for i := 0; i < seqLen && i < len(mask); i++ {
		if mask[i] == 0 {
			continue
		}
		attended++
		row := hidden[i*hiddenSize : (i+1)*hiddenSize]
		for j, v := range row {
			out[j] += v
		}
	}
	if attended == 0 {
		return out
	}
	for j := range out {
		out[j] /= attended
	}
	return out
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / n
	}
	return out
}
