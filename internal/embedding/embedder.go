// Package embedding defines the Embedder capability and a client for
// remote embedding model servers.
package embedding

import "context"

// Embedder maps text to a fixed-length vector. Implementations must
// return vectors of exactly Dimensions() elements or an error; a partial
// vector is never produced.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
