package bridge

// ServerName identifies the tool server to clients.
const ServerName = "crush_gitlab"

// Tool is a callable tool definition.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema defines the input parameters for a tool
type InputSchema struct {
	Type                 string              `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required,omitempty"`
	AdditionalProperties bool                `json:"additionalProperties"`
}

// Property defines a single property in the input schema
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ContentBlock represents a content block in the result
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response is what a tool call returns: one text block and the structured payload.
type Response struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent map[string]any `json:"structuredContent"`
}

// Text returns the concatenated text of all content blocks.
func (r *Response) Text() string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	text := r.Content[0].Text
	for _, c := range r.Content[1:] {
		text += "\n" + c.Text
	}
	return text
}

func textResponse(text string, structured map[string]any) *Response {
	return &Response{
		Content:           []ContentBlock{{Type: "text", Text: text}},
		StructuredContent: structured,
	}
}
