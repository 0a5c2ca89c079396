package domain

// ToolDescriptor identifies a named remote operation exposed by the tool
// server. Names are unique within a session.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ResourceDescriptor identifies a readable resource exposed by the tool
// server.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
