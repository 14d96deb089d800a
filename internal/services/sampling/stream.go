package sampling

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"tinker/internal/adapters/api"
	"tinker/internal/core/estimate"
	perr "tinker/internal/platform/errors"
	"tinker/types"
)

// streamBufMax bounds one server-sent event line
const streamBufMax = 4 << 20

var (
	ssePrefix = []byte("data: ")
	sseDone   = []byte("[DONE]")
)

// Stream is a live sequence of sample chunks. Next returns io.EOF after the
// server signals completion; Close may be called at any point to abandon it
type Stream struct {
	body io.ReadCloser
	sc   *bufio.Scanner
}

// SampleStream dispatches req and streams chunks as the server decodes.
// Streaming dispatches are never retried; a broken stream surfaces as an error
// from Next and the caller decides whether to restart
func (s *Service) SampleStream(ctx context.Context, req Request) (*Stream, error) {
	if req.NumSamples <= 0 {
		req.NumSamples = 1
	}
	if err := validate.Struct(req.Params); err != nil {
		return nil, perr.Wrapf(err, perr.KindValidation, "invalid sampling params")
	}
	s.report(opSampleStream)

	body := sampleRequest{
		SessionID:  s.sessionID,
		ModelPath:  s.modelPath,
		Prompt:     req.Prompt,
		NumSamples: req.NumSamples,
		Params:     req.Params,
	}
	nbytes := estimate.ModelInput(req.Prompt)

	var rc io.ReadCloser
	err := s.limiter.WithRateLimit(ctx, nbytes, func(ctx context.Context) error {
		var err error
		rc, err = s.client.Stream(ctx, api.PoolSampling, http.MethodPost, "/stream_sample", nil, body)
		if err != nil {
			s.noteRateLimit(ctx, err, nbytes)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64<<10), streamBufMax)
	return &Stream{body: rc, sc: sc}, nil
}

// Next returns the next chunk, io.EOF when the stream completed normally, or
// a connection error when it broke mid-flight
func (st *Stream) Next() (*types.StreamChunk, error) {
	for st.sc.Scan() {
		line := bytes.TrimSpace(st.sc.Bytes())
		if !bytes.HasPrefix(line, ssePrefix) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, ssePrefix))
		if bytes.Equal(payload, sseDone) {
			return nil, io.EOF
		}
		var chunk types.StreamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			return nil, perr.Wrapf(err, perr.KindValidation, "decode stream chunk")
		}
		return &chunk, nil
	}
	if err := st.sc.Err(); err != nil {
		return nil, perr.ConnectionWrap(err, "sample stream broken")
	}
	// stream ended without a done marker; treat as truncation
	return nil, perr.Connectionf("sample stream ended early")
}

// Close abandons the stream and releases the connection
func (st *Stream) Close() error {
	return st.body.Close()
}
