package tools

import (
	"context"

	"lalo/core/pkg/core"
	"lalo/core/pkg/vectorstore"
)

// RAGTool exposes the vector store to plans: ingest chunks documents with
// deterministic IDs; query returns the nearest chunks for grounding.
type RAGTool struct {
	store vectorstore.Store
}

func NewRAGTool(store vectorstore.Store) *RAGTool {
	return &RAGTool{store: store}
}

func (t *RAGTool) Definition() Definition {
	return Definition{
		Name:        "knowledge_search",
		Description: "Ingest documents into and query the knowledge index",
		Category:    CategoryRAG,
		Parameters: []Parameter{
			{Name: "operation", Type: TypeString, Required: true, Enum: []string{"ingest", "query", "count"}},
			{Name: "document_id", Type: TypeString, Required: false},
			{Name: "text", Type: TypeString, Required: false},
			{Name: "top_k", Type: TypeNumber, Required: false, Default: 5},
		},
		Returns: "matched chunks with distances, or ingestion summary",
	}
}

func (t *RAGTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	operation, _ := args["operation"].(string)
	switch operation {
	case "ingest":
		return t.ingest(ctx, args)
	case "query":
		return t.query(ctx, args)
	case "count":
		n, err := t.store.Count(ctx)
		if err != nil {
			return nil, core.Wrap(core.KindExecutionFailed, err, "count failed")
		}
		return &Result{Success: true, Output: n}, nil
	default:
		return nil, core.E(core.KindValidationFailed, "unknown operation %q", operation)
	}
}

func (t *RAGTool) ingest(ctx context.Context, args map[string]any) (*Result, error) {
	docID, _ := args["document_id"].(string)
	text, _ := args["text"].(string)
	if docID == "" || text == "" {
		return nil, core.E(core.KindValidationFailed, "ingest requires document_id and text")
	}

	chunks := vectorstore.SplitDocument(docID, text)
	docs := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	metas := make([]map[string]string, len(chunks))
	for i, c := range chunks {
		docs[i] = c.Text
		ids[i] = c.ID
		metas[i] = map[string]string{"document_id": docID, "level": c.Level}
	}
	if err := t.store.AddDocuments(ctx, docs, ids, metas); err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, err, "ingestion failed")
	}
	return &Result{Success: true, Output: map[string]any{"chunks": len(chunks)}}, nil
}

func (t *RAGTool) query(ctx context.Context, args map[string]any) (*Result, error) {
	text, _ := args["text"].(string)
	if text == "" {
		return nil, core.E(core.KindValidationFailed, "query requires text")
	}
	topK := 5
	if raw, ok := args["top_k"].(float64); ok && raw > 0 {
		topK = int(raw)
	} else if raw, ok := args["top_k"].(int); ok && raw > 0 {
		topK = raw
	}

	result, err := t.store.Query(ctx, text, topK, nil)
	if err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, err, "query failed")
	}
	return &Result{Success: true, Output: result}, nil
}
