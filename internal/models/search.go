package models

import "time"

// ChunkMetadata travels with every chunk into the vector namespace and back
// out with query results.
type ChunkMetadata struct {
	FilePath    string    `json:"file_path"`
	FileName    string    `json:"file_name"`
	Title       string    `json:"title,omitempty"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	StartChar   int       `json:"start_char"`
	EndChar     int       `json:"end_char"`
	Tags        []string  `json:"tags,omitempty"`
	Links       []string  `json:"links,omitempty"`
	WordCount   int       `json:"word_count"`
	ModifiedAt  time.Time `json:"modified_at,omitempty"`
}

// VectorRecord is one (id, vector, metadata, document) row in a namespace.
type VectorRecord struct {
	ID        string        `json:"id" badgerhold:"unique"`
	Namespace string        `json:"namespace" badgerhold:"index"`
	Vector    []float32     `json:"vector"`
	Document  string        `json:"document"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// VectorMatch is one nearest-neighbor result with its raw distance.
type VectorMatch struct {
	Record   VectorRecord `json:"record"`
	Distance float64      `json:"distance"`
}

// SearchRequest parameterizes a semantic query against one collection.
type SearchRequest struct {
	Query          string            `json:"query"`
	Limit          int               `json:"limit,omitempty"`
	Threshold      float64           `json:"threshold,omitempty"`
	Filters        map[string]string `json:"filters,omitempty"`
	IncludeContext bool              `json:"include_context,omitempty"`
}

// SearchContext carries adjacent-chunk snippets around a hit.
type SearchContext struct {
	Leading  string `json:"leading,omitempty"`
	Trailing string `json:"trailing,omitempty"`
}

// SearchResult is one scored hit.
type SearchResult struct {
	ID         string         `json:"id"`
	Document   string         `json:"document"`
	Similarity float64        `json:"similarity"`
	Metadata   ChunkMetadata  `json:"metadata"`
	Context    *SearchContext `json:"context,omitempty"`
}

// VaultInfo summarizes the queried collection in a search response.
type VaultInfo struct {
	Name          string `json:"name"`
	SourcePath    string `json:"source_path"`
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
}

// SearchResponse is the full query-path response.
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	TotalFound   int            `json:"total_found"`
	SearchTimeMS int64          `json:"search_time_ms"`
	VaultInfo    VaultInfo      `json:"vault_info"`
}
