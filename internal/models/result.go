package models

// RetrievedPassage is one ranked retrieval hit.
type RetrievedPassage struct {
	BlockID      string  `json:"blockId"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
	VectorScore  float64 `json:"vectorScore"`
	KeywordScore float64 `json:"keywordScore"`
}

// SearchResponse is the response for a host retrieval request.
type SearchResponse struct {
	Query     string              `json:"query"`
	Keywords  []string            `json:"keywords"`
	Results   []*RetrievedPassage `json:"results"`
	Total     int                 `json:"total"`
	QueryTime int64               `json:"queryTimeMs"`
}

// Status summarizes the stores and the active configuration.
type Status struct {
	Guides         int64          `json:"guides"`
	Turns          int64          `json:"conversationTurns"`
	Embeddings     int            `json:"embeddings"`
	DiskUsageBytes int64          `json:"diskUsageBytes"`
	Config         map[string]any `json:"config"`
}

// ReindexResponse is returned by a reindex request.
type ReindexResponse struct {
	EmbeddingsCount int `json:"embeddingsCount"`
}

// DeleteResponse is returned by delete requests.
type DeleteResponse struct {
	DeletedCount int64 `json:"deletedCount"`
}

// SessionResponse is one whole conversation.
type SessionResponse struct {
	SessionID string              `json:"sessionId"`
	Messages  []*ConversationTurn `json:"messages"`
}
