package vectorstore

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Chunk is one indexable fragment of a document.
type Chunk struct {
	ID    string
	Text  string
	Level string // paragraph or sentence
}

const (
	LevelParagraph = "paragraph"
	LevelSentence  = "sentence"

	// Paragraphs longer than this are additionally split into sentences.
	sentenceSplitThreshold = 800
)

// ChunkID derives a deterministic chunk identifier, so re-ingesting the same
// document yields the same IDs.
func ChunkID(docID, level, text string) string {
	sum := sha256.Sum256([]byte(docID + "\x00" + level + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// SplitDocument chunks text at paragraph granularity, descending to sentence
// granularity for oversized paragraphs.
func SplitDocument(docID, text string) []Chunk {
	var chunks []Chunk
	for _, para := range splitParagraphs(text) {
		if len(para) <= sentenceSplitThreshold {
			chunks = append(chunks, Chunk{
				ID:    ChunkID(docID, LevelParagraph, para),
				Text:  para,
				Level: LevelParagraph,
			})
			continue
		}
		for _, sentence := range splitSentences(para) {
			chunks = append(chunks, Chunk{
				ID:    ChunkID(docID, LevelSentence, sentence),
				Text:  sentence,
				Level: LevelSentence,
			})
		}
	}
	return chunks
}

func splitParagraphs(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para != "" {
			out = append(out, para)
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			sentence := strings.TrimSpace(current.String())
			if sentence != "" {
				out = append(out, sentence)
			}
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}
