package domain

// MaxIDLength is the maximum length of a caller-supplied question ID.
const MaxIDLength = 100

// Question is a stored question image: its ID, embedding vector, and metadata.
type Question struct {
	ID        string
	Vector    []float32
	Metadata  map[string]string
	CreatedAt int64 // unix millis
}

// SearchHit is a single similarity search result.
type SearchHit struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// SearchMethod selects the search variant.
type SearchMethod string

const (
	// SearchVector ranks by vector similarity only.
	SearchVector SearchMethod = "vector"
	// SearchHybrid ranks by vector similarity and requires exact metadata matches.
	SearchHybrid SearchMethod = "hybrid"
)

// Valid reports whether the method is a known search variant.
func (m SearchMethod) Valid() bool {
	return m == SearchVector || m == SearchHybrid
}

// MatchesFilters reports whether every filter key matches the hit's metadata exactly.
func (h SearchHit) MatchesFilters(filters map[string]string) bool {
	for k, v := range filters {
		if h.Metadata[k] != v {
			return false
		}
	}
	return true
}

// KeyPrefix namespaces every store key owned by this service.
const KeyPrefix = "quiver:"
