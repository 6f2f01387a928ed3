package bot

// Kind classifies an error reply so callers can map it to a transport status.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindUnavailable Kind = "unavailable"
	KindPersistence Kind = "persistence"
)

// Result is one web search hit returned with a search reply.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Response is the outcome of one dispatched message. Exactly one of Reply
// and Error is set. Results is only populated by a search with hits.
type Response struct {
	Reply   string   `json:"reply,omitempty"`
	Results []Result `json:"results,omitempty"`
	Error   string   `json:"error,omitempty"`
	Kind    Kind     `json:"-"`
}

// IsError reports whether the response carries an error text.
func (r Response) IsError() bool {
	return r.Error != ""
}

// Text returns the text logged as the bot turn.
func (r Response) Text() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Reply
}

func reply(text string) Response {
	return Response{Reply: text}
}

func failure(kind Kind, text string) Response {
	return Response{Error: text, Kind: kind}
}
