// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// Float32SliceToBlob encodes a vector as little-endian float32 bytes
func Float32SliceToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		binary.LittleEndian.PutUint32(buf[i*4:], bits)
	}
	return buf
}

// BlobToFloat32Slice converts a byte slice back to float32 slice
func BlobToFloat32Slice(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v
}

// Validate rejects vectors that cannot be compared: empty, wrong length
// (when dims > 0), non-finite components, or zero magnitude.
func Validate(v []float32, dims int) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrEmbeddingUnavailable)
	}
	if dims > 0 && len(v) != dims {
		return fmt.Errorf("%w: expected %d dimensions, got %d", ErrEmbeddingUnavailable, dims, len(v))
	}
	var norm float64
	for _, f := range v {
		x := float64(f)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: non-finite component", ErrEmbeddingUnavailable)
		}
		norm += x * x
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero vector", ErrEmbeddingUnavailable)
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b.
// ok is false when the vectors cannot be compared.
func CosineSimilarity(a, b []float32) (sim float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	sim = dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0, false
	}
	return sim, true
}

// CalculateContentHash computes a SHA256 hash of the content
func CalculateContentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash[:16])
}

// HashVector builds a deterministic bag-of-words vector. Texts sharing
// words point in similar directions. Used by MockClient.
func HashVector(text string, dims int) []float32 {
	if dims <= 0 {
		dims = 64
	}
	v := make([]float32, dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		v[h.Sum32()%uint32(dims)] += 1
	}
	v[0] += 0.001
	return v
}
