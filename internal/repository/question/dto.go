package question

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/quiver-search/quiver/internal/domain"
)

const metaFieldPrefix = "meta_"

// buildHashFields flattens a question into hash fields: the raw vector
// blob, the creation timestamp, and one meta_* field per metadata key.
func buildHashFields(q *domain.Question) map[string]string {
	m := make(map[string]string, 2+len(q.Metadata))
	m["vector"] = vectorToBytes(q.Vector)
	m["created_at"] = strconv.FormatInt(q.CreatedAt, 10)
	for k, v := range q.Metadata {
		m[metaField(k)] = v
	}
	return m
}

// parseHashFields reconstructs a question from its hash fields.
func parseHashFields(id string, fields map[string]string) (*domain.Question, error) {
	raw, ok := fields["vector"]
	if !ok {
		return nil, fmt.Errorf("hash has no vector field")
	}
	vector, err := bytesToVector(raw)
	if err != nil {
		return nil, err
	}

	q := &domain.Question{
		ID:       id,
		Vector:   vector,
		Metadata: metadataFromFields(fields),
	}
	if v, ok := fields["created_at"]; ok {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", v, err)
		}
		q.CreatedAt = ts
	}
	return q, nil
}

// metadataFromFields extracts meta_* fields, stripping the prefix.
func metadataFromFields(fields map[string]string) map[string]string {
	meta := make(map[string]string)
	for k, v := range fields {
		if name, ok := strings.CutPrefix(k, metaFieldPrefix); ok {
			meta[name] = v
		}
	}
	return meta
}

func metaField(key string) string {
	return metaFieldPrefix + key
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector deserializes a binary string back to []float32.
func bytesToVector(s string) ([]float32, error) {
	if len(s)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(s))
	}
	v := make([]float32, len(s)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(s[i*4 : i*4+4])))
	}
	return v, nil
}
