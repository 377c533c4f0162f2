package planner

// Step is one unit of work inside a plan. Tool "none" means the step is pure
// inference; "auto" lets the orchestrator pick a tool from the action text.
type Step struct {
	ID              int            `json:"id"`
	Action          string         `json:"action"`
	Tool            string         `json:"tool"`
	ExpectedOutcome string         `json:"expected_outcome"`
	Dependencies    []int          `json:"dependencies"`
	Parallelizable  bool           `json:"parallelizable"`
	Args            map[string]any `json:"args,omitempty"`
	Model           string         `json:"model,omitempty"`
}

// Plan is the planner's product: an ordered step list with the critique
// history that shaped it.
type Plan struct {
	Steps             []Step   `json:"steps"`
	Confidence        float64  `json:"confidence"`
	Iterations        int      `json:"iterations"`
	Critiques         []string `json:"critiques,omitempty"`
	RetrievedExamples []string `json:"retrieved_examples,omitempty"`
	SourceIntent      string   `json:"source_intent"`
	Degraded          bool     `json:"degraded,omitempty"`
}
