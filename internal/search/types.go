package search

// Item is one result record as returned by the Custom Search JSON API.
// Any field may be empty when the upstream record omits it.
type Item struct {
	Title        string `json:"title"`
	Link         string `json:"link"`
	FormattedURL string `json:"formattedUrl"`
	Snippet      string `json:"snippet"`
	HTMLSnippet  string `json:"htmlSnippet"`
}

// response is the subset of the Custom Search response we decode.
type response struct {
	Items []Item `json:"items"`
}
