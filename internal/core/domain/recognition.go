package domain

// TokenUsage carries the token accounting returned by the vision API.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Recognition is the categorized output of one vision call. FullText always
// holds the complete model response; the remaining fields are best-effort
// line buckets and may be empty.
type Recognition struct {
	FullText    string
	Device      string
	Technical   string
	Environment string
	Metadata    string
	Usage       TokenUsage
}

// ResultFields lays the recognition out in result-slot order, matching the
// data store's result field mapping.
func (r Recognition) ResultFields() []string {
	return []string{r.FullText, r.Device, r.Technical, r.Environment, r.Metadata}
}
