package api

// PostMessageRequest is the body of POST /agent/:name. The _tag mirrors the
// wire format of the event it produces; an empty tag is accepted and treated
// as a UserMessageEvent.
type PostMessageRequest struct {
	Tag     string   `json:"_tag"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}
