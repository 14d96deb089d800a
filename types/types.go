// Package types holds the public data model shared by the client facades and
// the internal request pipeline. The pipeline treats most of these as opaque:
// it only needs them to be JSON-encodable and size-estimable
package types

// ChunkKind discriminates the variants of a model input chunk
type ChunkKind string

const (
	// ChunkKindEncodedText is a sequence of token IDs
	ChunkKindEncodedText ChunkKind = "encoded_text"

	// ChunkKindImage is raw image bytes plus a format tag
	ChunkKindImage ChunkKind = "image"

	// ChunkKindImageAssetPointer references image bytes stored elsewhere
	ChunkKindImageAssetPointer ChunkKind = "image_asset_pointer"
)

// ModelInputChunk is one variant of model input content.
// Exactly one of the variant field groups is populated, per Kind
type ModelInputChunk struct {
	Kind ChunkKind `json:"kind"`

	// encoded_text
	Tokens []int64 `json:"tokens,omitempty"`

	// image
	ImageData   []byte `json:"image_data,omitempty"`
	ImageFormat string `json:"image_format,omitempty"`

	// image_asset_pointer
	Location string `json:"location,omitempty"`
}

// TextChunk builds an encoded-text chunk from token IDs
func TextChunk(tokens []int64) ModelInputChunk {
	return ModelInputChunk{Kind: ChunkKindEncodedText, Tokens: tokens}
}

// ImageChunk builds an image chunk from raw bytes
func ImageChunk(data []byte, format string) ModelInputChunk {
	return ModelInputChunk{Kind: ChunkKindImage, ImageData: data, ImageFormat: format}
}

// ImagePointerChunk builds an asset-pointer chunk from a storage location
func ImagePointerChunk(location, format string) ModelInputChunk {
	return ModelInputChunk{Kind: ChunkKindImageAssetPointer, Location: location, ImageFormat: format}
}

// ModelInput is an ordered sequence of chunks fed to the model
type ModelInput struct {
	Chunks []ModelInputChunk `json:"chunks"`
}

// FromTokens is sugar for a single-text-chunk input
func FromTokens(tokens []int64) ModelInput {
	return ModelInput{Chunks: []ModelInputChunk{TextChunk(tokens)}}
}

// TensorData is a dense tensor-like array with an optional shape.
// A nil Shape means a flat vector of len(Data)
type TensorData struct {
	Data  []float64 `json:"data"`
	Shape []int64   `json:"shape,omitempty"`
}

// ElementCount returns the number of scalar elements in the tensor
func (t TensorData) ElementCount() int {
	if len(t.Shape) == 0 {
		return len(t.Data)
	}
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Datum is one training example: a model input plus named loss-function inputs
type Datum struct {
	ModelInput   ModelInput            `json:"model_input"`
	LossFnInputs map[string]TensorData `json:"loss_fn_inputs,omitempty"`
}

// QueueState is the server-side admission status attached to pending requests
type QueueState string

const (
	// QueueStateActive means the request is being worked on
	QueueStateActive QueueState = "active"

	// QueueStatePausedRateLimit means the queue is paused by a rate limit
	QueueStatePausedRateLimit QueueState = "paused_rate_limit"

	// QueueStatePausedCapacity means the queue is paused waiting for capacity
	QueueStatePausedCapacity QueueState = "paused_capacity"

	// QueueStateUnknown is any state this client version does not recognize
	QueueStateUnknown QueueState = "unknown"
)

// ParseQueueState maps a wire string onto a known state, defaulting to unknown
func ParseQueueState(s string) QueueState {
	switch QueueState(s) {
	case QueueStateActive, QueueStatePausedRateLimit, QueueStatePausedCapacity:
		return QueueState(s)
	default:
		return QueueStateUnknown
	}
}

// QueueStateObservation is emitted each time a polled request transitions
// between distinct (state, reason) pairs
type QueueStateObservation struct {
	State     QueueState
	Reason    string
	RequestID string
	SessionID string
}

// Observer receives queue-state transitions. Implementations must be cheap;
// emission happens on the polling path
type Observer interface {
	ObserveQueueState(obs QueueStateObservation)
}

// ObserverFunc adapts a plain function to Observer
type ObserverFunc func(obs QueueStateObservation)

// ObserveQueueState implements Observer
func (f ObserverFunc) ObserveQueueState(obs QueueStateObservation) { f(obs) }
