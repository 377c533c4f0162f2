package tools

import (
	"context"
)

// Category groups tools by the policy baseline they must enforce.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryFilesystem Category = "filesystem"
	CategoryDatabase   Category = "database"
	CategoryImage      Category = "image"
	CategoryCode       Category = "code"
	CategoryRAG        Category = "rag"
)

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Enum        []string  `json:"enum,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// Definition is a tool's immutable registration record.
type Definition struct {
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	Category         Category    `json:"category"`
	Parameters       []Parameter `json:"parameters"`
	Returns          string      `json:"returns"`
	RequiresApproval bool        `json:"requires_approval"`
	CostEstimate     float64     `json:"cost_estimate,omitempty"`
}

// Result is the envelope every tool invocation returns. Failures never cross
// the registry boundary as errors; they become Success=false with Error set.
type Result struct {
	Success         bool           `json:"success"`
	Output          any            `json:"output,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorKind       string         `json:"error_kind,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	TokensUsed      int            `json:"tokens_used,omitempty"`
	Cost            float64        `json:"cost,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Tool is the capability interface behind the registry.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}
