package ingest

import "github.com/fenlis/stockdb/internal/security"

// Chunks partitions securities into contiguous chunks of at most size
// elements, preserving order. The final chunk may be smaller; it is never
// dropped. A size <= 0 returns nil.
func Chunks(securities []security.Security, size int) [][]security.Security {
	if size <= 0 || len(securities) == 0 {
		return nil
	}

	var chunks [][]security.Security
	for start := 0; start < len(securities); start += size {
		end := start + size
		if end > len(securities) {
			end = len(securities)
		}
		chunks = append(chunks, securities[start:end])
	}
	return chunks
}
