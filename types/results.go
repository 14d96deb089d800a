package types

import "time"

// DatumOutput is the per-datum slice of a forward or forward-backward result
type DatumOutput struct {
	Logprobs TensorData `json:"logprobs"`
}

// ForwardResult is the aggregated output of a forward pass.
// PerDatum is ordered to match the input data
type ForwardResult struct {
	PerDatum []DatumOutput      `json:"per_datum"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// ForwardBackwardResult is the aggregated output of a forward-backward pass
type ForwardBackwardResult struct {
	PerDatum []DatumOutput      `json:"per_datum"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// OptimStepResult reports the outcome of an optimizer step
type OptimStepResult struct {
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// AdamParams are the optimizer hyperparameters for an optim step
type AdamParams struct {
	LearningRate float64 `json:"learning_rate" validate:"gt=0"`
	Beta1        float64 `json:"beta1,omitempty" validate:"gte=0,lt=1"`
	Beta2        float64 `json:"beta2,omitempty" validate:"gte=0,lt=1"`
	Eps          float64 `json:"eps,omitempty" validate:"gte=0"`
}

// SaveStateResult carries the checkpoint handle of a saved training state
type SaveStateResult struct {
	Path string `json:"path"`
}

// SaveWeightsForSamplerResult carries the sampler-visible weights handle
type SaveWeightsForSamplerResult struct {
	Path string `json:"path"`
}

// ModelInfo describes the model behind a training session
type ModelInfo struct {
	ModelName  string `json:"model_name"`
	LoraRank   int    `json:"lora_rank,omitempty"`
	ParamCount int64  `json:"param_count,omitempty"`
}

// SamplingParams controls decoding for a sample request
type SamplingParams struct {
	MaxTokens   int      `json:"max_tokens" validate:"gte=1"`
	Temperature float64  `json:"temperature,omitempty" validate:"gte=0"`
	TopP        float64  `json:"top_p,omitempty" validate:"gte=0,lte=1"`
	TopK        int      `json:"top_k,omitempty" validate:"gte=0"`
	Seed        *int64   `json:"seed,omitempty"`
	StopTokens  []int64  `json:"stop_tokens,omitempty"`
	StopStrings []string `json:"stop_strings,omitempty"`
}

// SampledSequence is one decoded continuation
type SampledSequence struct {
	Tokens     []int64   `json:"tokens"`
	Logprobs   []float64 `json:"logprobs,omitempty"`
	StopReason string    `json:"stop_reason,omitempty"`
}

// SampleResult is the terminal output of a sample request
type SampleResult struct {
	Sequences          []SampledSequence `json:"sequences"`
	PromptLogprobs     []float64         `json:"prompt_logprobs,omitempty"`
	TopkPromptLogprobs [][]float64       `json:"topk_prompt_logprobs,omitempty"`
}

// StreamChunk is one server-sent event of a streaming sample
type StreamChunk struct {
	SequenceIndex int       `json:"sequence_index"`
	Tokens        []int64   `json:"tokens"`
	Logprobs      []float64 `json:"logprobs,omitempty"`
	StopReason    string    `json:"stop_reason,omitempty"`
	Final         bool      `json:"final,omitempty"`
}

// ServerCapabilities enumerates what the connected server supports
type ServerCapabilities struct {
	SupportedModels []string `json:"supported_models"`
	MaxLoraRank     int      `json:"max_lora_rank,omitempty"`
	Features        []string `json:"features,omitempty"`
}

// Session is a server-side training or sampling session record
type Session struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind,omitempty"`
	ModelName string     `json:"model_name,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// TrainingRun is a server-side training run record
type TrainingRun struct {
	ID        string     `json:"id"`
	ModelName string     `json:"model_name,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Checkpoint addresses a stored artifact within a training run
type Checkpoint struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	Public    bool      `json:"public,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sampler is a server-side sampling server record
type Sampler struct {
	ID        string     `json:"id"`
	ModelPath string     `json:"model_path,omitempty"`
	BaseModel string     `json:"base_model,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// WeightsInfo describes the weights artifact behind a checkpoint path
type WeightsInfo struct {
	Path      string `json:"path"`
	ModelName string `json:"model_name,omitempty"`
	LoraRank  int    `json:"lora_rank,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Page is the common list envelope for paginated REST endpoints
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}
