// Package chunk splits training data into request-sized batches
package chunk

import (
	"tinker/internal/core/estimate"
	"tinker/types"
)

const (
	// MaxItems caps the number of datums per request
	MaxItems = 1024

	// MaxBytes caps the estimated payload per request
	MaxBytes = 5_000_000
)

// Split partitions data into contiguous chunks, greedy left-to-right: a new
// chunk opens whenever the next datum would exceed either bound. A datum whose
// own estimate exceeds MaxBytes is placed alone in its chunk.
// Concatenating the output reproduces the input in order
func Split(data []types.Datum) [][]types.Datum {
	if len(data) == 0 {
		return nil
	}

	var out [][]types.Datum
	start := 0
	count := 0
	var bytes int64

	for i, d := range data {
		n := estimate.Datum(d)
		if count > 0 && (count+1 > MaxItems || bytes+n > MaxBytes) {
			out = append(out, data[start:i])
			start = i
			count = 0
			bytes = 0
		}
		count++
		bytes += n
	}
	out = append(out, data[start:])
	return out
}
