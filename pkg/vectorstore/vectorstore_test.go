package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkingIdempotence(t *testing.T) {
	text := "First paragraph about cats.\n\nSecond paragraph about dogs."

	first := SplitDocument("doc-1", text)
	second := SplitDocument("doc-1", text)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}

	// A different document id yields different chunk ids for the same text.
	other := SplitDocument("doc-2", text)
	assert.NotEqual(t, first[0].ID, other[0].ID)
}

func TestChunkingDescendsToSentences(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "This sentence pads the paragraph well past the split threshold. "
	}

	chunks := SplitDocument("doc", long)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, LevelSentence, c.Level)
	}
}

func TestChunkingSkipsEmptyParagraphs(t *testing.T) {
	chunks := SplitDocument("doc", "one\n\n\n\n\ntwo")
	assert.Len(t, chunks, 2)
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)

	a := e.Embed("the quick brown fox")
	b := e.Embed("the quick brown fox")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// Normalized output.
	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestMemoryStoreQueryRanksBySimilarity(t *testing.T) {
	store := NewMemoryStore(NewHashEmbedder(128))
	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx))

	docs := []string{
		"cats are small furry animals that purr",
		"dogs are loyal animals that bark",
		"the stock market closed higher today",
	}
	ids := []string{"a", "b", "c"}
	metas := []map[string]string{
		{"topic": "animals"}, {"topic": "animals"}, {"topic": "finance"},
	}
	require.NoError(t, store.AddDocuments(ctx, docs, ids, metas))

	result, err := store.Query(ctx, "cats purr furry", 2, nil)
	require.NoError(t, err)
	require.Len(t, result.IDs, 2)
	assert.Equal(t, "a", result.IDs[0])
	assert.LessOrEqual(t, result.Distances[0], result.Distances[1])
}

func TestMemoryStoreFilter(t *testing.T) {
	store := NewMemoryStore(NewHashEmbedder(128))
	ctx := context.Background()

	require.NoError(t, store.AddDocuments(ctx,
		[]string{"cats purr", "market news"},
		[]string{"a", "b"},
		[]map[string]string{{"topic": "animals"}, {"topic": "finance"}}))

	result, err := store.Query(ctx, "cats", 5, map[string]string{"topic": "finance"})
	require.NoError(t, err)
	require.Len(t, result.IDs, 1)
	assert.Equal(t, "b", result.IDs[0])
}

func TestMemoryStoreIdempotentReingest(t *testing.T) {
	store := NewMemoryStore(NewHashEmbedder(128))
	ctx := context.Background()

	docs := []string{"hello world"}
	ids := []string{ChunkID("doc", LevelParagraph, "hello world")}

	require.NoError(t, store.AddDocuments(ctx, docs, ids, nil))
	require.NoError(t, store.AddDocuments(ctx, docs, ids, nil))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore(NewHashEmbedder(128))
	ctx := context.Background()

	require.NoError(t, store.AddDocuments(ctx, []string{"x", "y"}, []string{"a", "b"}, nil))
	require.NoError(t, store.Delete(ctx, []string{"a", "missing"}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	sample, err := store.GetSample(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, sample.IDs)
}
