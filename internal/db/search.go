package db

// KNNQuery asks for the K nearest document hashes to Vector.
type KNNQuery struct {
	IndexName   string
	VectorField string
	Vector      []float32
	K           int
	// ReturnFields limits the hash fields loaded per hit. Empty loads all.
	ReturnFields []string
}

// TextQuery is a lexical query scored with BM25. Query is free text; the
// store tokenizes it and ORs the terms.
type TextQuery struct {
	IndexName string
	TextField string
	Query     string
	// Language is the index stemmer to apply to the terms, e.g. "french".
	Language     string
	TopK         int
	ReturnFields []string
}

// SearchResult holds the hits of one FT.SEARCH call, best first.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is one document hash. Score is cosine similarity for KNN
// queries and raw BM25 for text queries.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
