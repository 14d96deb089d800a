// Package estimate produces deterministic byte estimates for request payloads.
// The same constants feed the data chunker and the sampling byte budget, so the
// two admission paths stay consistent
package estimate

import "tinker/types"

// BytesPerToken is the wire-overhead heuristic applied to token-like values
const BytesPerToken = 10

// Chunk estimates one model input chunk
func Chunk(c types.ModelInputChunk) int64 {
	switch c.Kind {
	case types.ChunkKindEncodedText:
		return BytesPerToken * int64(len(c.Tokens))
	case types.ChunkKindImage:
		return int64(len(c.ImageData))
	case types.ChunkKindImageAssetPointer:
		return int64(len(c.Location))
	default:
		return 0
	}
}

// ModelInput estimates a full model input
func ModelInput(mi types.ModelInput) int64 {
	var n int64
	for _, c := range mi.Chunks {
		n += Chunk(c)
	}
	return n
}

// LossFnInputs estimates a named tensor map
func LossFnInputs(m map[string]types.TensorData) int64 {
	var n int64
	for _, t := range m {
		n += BytesPerToken * int64(t.ElementCount())
	}
	return n
}

// Datum estimates one training example: model input plus loss-fn inputs
func Datum(d types.Datum) int64 {
	return ModelInput(d.ModelInput) + LossFnInputs(d.LossFnInputs)
}

// Data estimates a slice of examples
func Data(ds []types.Datum) int64 {
	var n int64
	for _, d := range ds {
		n += Datum(d)
	}
	return n
}
