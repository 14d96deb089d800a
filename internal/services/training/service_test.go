package training

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"tinker/internal/adapters/api"
	perr "tinker/internal/platform/errors"
	kit "tinker/internal/platform/testkit"
	"tinker/internal/services/futures"
	"tinker/types"
)

func newTestService(t *testing.T, f *kit.FakeAPI) *Service {
	t.Helper()
	client, err := api.New(api.Config{
		BaseURL:      f.URL(),
		APIKey:       "tk-test",
		RetryEnabled: true,
		RetryBase:    time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	return NewService(client, futures.New(client, nil), nil, "sess-3", "llama-3.1-8b")
}

type recordedEvent struct {
	kind      string
	sessionID string
	fields    map[string]any
}

type fakeReporter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *fakeReporter) Report(kind, sessionID string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: kind, sessionID: sessionID, fields: fields})
}

func smallData(n int) []types.Datum {
	data := make([]types.Datum, n)
	for i := range data {
		data[i] = types.Datum{ModelInput: types.FromTokens([]int64{int64(i)})}
	}
	return data
}

// echoChunk answers a chunk request with one output per datum, stamping each
// logprob tensor with the chunk's sequence number so ordering is checkable
func echoChunk(t *testing.T, f *kit.FakeAPI, path string, seqs *[]int64, mu *sync.Mutex) {
	f.Handle(http.MethodPost, path, func(w http.ResponseWriter, r *http.Request) {
		var req chunkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chunk request: %v", err)
		}
		mu.Lock()
		*seqs = append(*seqs, req.SeqID)
		mu.Unlock()

		per := make([]map[string]any, len(req.Data))
		for i := range req.Data {
			per[i] = map[string]any{"logprobs": map[string]any{"data": []float64{float64(req.SeqID)}}}
		}
		kit.WriteJSON(t, w, http.StatusOK, map[string]any{
			"status": "completed",
			"result": map[string]any{
				"per_datum": per,
				"metrics":   map[string]float64{"loss": 1},
			},
		})
	})
}

func TestForwardChunksAndSequences(t *testing.T) {
	t.Parallel()

	f := kit.NewFakeAPI(t)
	var (
		mu   sync.Mutex
		seqs []int64
	)
	echoChunk(t, f, "/forward", &seqs, &mu)

	s := newTestService(t, f)
	s.seq.Store(17)

	res, err := s.Forward(context.Background(), smallData(2049))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// 2049 data split 1024/1024/1 and numbered from the reserved base
	mu.Lock()
	gotSeqs := append([]int64(nil), seqs...)
	mu.Unlock()
	if len(gotSeqs) != 3 || gotSeqs[0] != 17 || gotSeqs[1] != 18 || gotSeqs[2] != 19 {
		t.Fatalf("seqs = %v, want [17 18 19]", gotSeqs)
	}
	if s.NextSeq() != 20 {
		t.Fatalf("next seq = %d, want 20", s.NextSeq())
	}

	// outputs reassemble in submission order regardless of await order
	if len(res.PerDatum) != 2049 {
		t.Fatalf("per datum = %d, want 2049", len(res.PerDatum))
	}
	if res.PerDatum[0].Logprobs.Data[0] != 17 || res.PerDatum[1023].Logprobs.Data[0] != 17 {
		t.Fatal("first chunk outputs out of place")
	}
	if res.PerDatum[1024].Logprobs.Data[0] != 18 || res.PerDatum[2048].Logprobs.Data[0] != 19 {
		t.Fatal("later chunk outputs out of place")
	}
	if res.Metrics["loss"] != 3 {
		t.Fatalf("metrics = %v, want summed loss 3", res.Metrics)
	}
}

func TestForwardPendingResolvedViaPoller(t *testing.T) {
	t.Parallel()

	f := kit.NewFakeAPI(t)
	f.HandleJSON(http.MethodPost, "/forward", http.StatusOK, map[string]any{
		"status":     "pending",
		"request_id": "req-77",
	})
	f.HandleJSON(http.MethodPost, "/future/retrieve", http.StatusOK, map[string]any{
		"status": "completed",
		"result": map[string]any{
			"per_datum": []map[string]any{{"logprobs": map[string]any{"data": []float64{-0.5}}}},
		},
	})

	s := newTestService(t, f)
	res, err := s.Forward(context.Background(), smallData(1))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(res.PerDatum) != 1 || res.PerDatum[0].Logprobs.Data[0] != -0.5 {
		t.Fatalf("result = %+v", res)
	}

	var body struct {
		RequestID string `json:"request_id"`
	}
	f.LastRequest("/future/retrieve", &body)
	if body.RequestID != "req-77" {
		t.Fatalf("retrieve request_id = %q", body.RequestID)
	}
}

func TestForwardEmptyBatch(t *testing.T) {
	t.Parallel()

	f := kit.NewFakeAPI(t)
	s := newTestService(t, f)
	if _, err := s.Forward(context.Background(), nil); !perr.IsKind(err, perr.KindValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestControlOpsConsumeSequence(t *testing.T) {
	t.Parallel()

	f := kit.NewFakeAPI(t)
	f.HandleJSON(http.MethodPost, "/optim_step", http.StatusOK, map[string]any{
		"status": "completed",
		"result": map[string]any{"metrics": map[string]float64{"lr": 0.0001}},
	})
	f.HandleJSON(http.MethodPost, "/save_weights", http.StatusOK, map[string]any{
		"status": "completed",
		"result": map[string]any{"path": "tinker://run-1/state/5"},
	})

	s := newTestService(t, f)
	res, err := s.OptimStep(context.Background(), types.AdamParams{LearningRate: 1e-4})
	if err != nil {
		t.Fatalf("OptimStep: %v", err)
	}
	if res.Metrics["lr"] != 0.0001 {
		t.Fatalf("metrics = %v", res.Metrics)
	}

	saved, err := s.SaveState(context.Background(), "epoch-1")
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if saved.Path != "tinker://run-1/state/5" {
		t.Fatalf("path = %q", saved.Path)
	}

	var optim controlRequest
	f.LastRequest("/optim_step", &optim)
	if optim.SeqID != 0 || optim.AdamParams == nil || optim.AdamParams.LearningRate != 1e-4 {
		t.Fatalf("optim body = %+v", optim)
	}
	var save controlRequest
	f.LastRequest("/save_weights", &save)
	if save.SeqID != 1 || save.Name != "epoch-1" {
		t.Fatalf("save body = %+v", save)
	}
	if s.NextSeq() != 2 {
		t.Fatalf("next seq = %d, want 2", s.NextSeq())
	}
}

func TestStateRoundTripPaths(t *testing.T) {
	t.Parallel()

	f := kit.NewFakeAPI(t)
	f.HandleJSON(http.MethodPost, "/save_weights", http.StatusOK, map[string]any{
		"status": "completed",
		"result": map[string]any{"path": "tinker://run-1/state/7"},
	})
	f.HandleJSON(http.MethodPost, "/load_weights", http.StatusOK, map[string]any{
		"status": "completed",
		"result": map[string]any{},
	})

	s := newTestService(t, f)
	saved, err := s.SaveState(context.Background(), "epoch-7")
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := s.LoadState(context.Background(), saved.Path); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	var load controlRequest
	f.LastRequest("/load_weights", &load)
	if load.Path != "tinker://run-1/state/7" || load.SeqID != 1 {
		t.Fatalf("load body = %+v", load)
	}
}

func TestOperationsReported(t *testing.T) {
	t.Parallel()

	f := kit.NewFakeAPI(t)
	var (
		mu   sync.Mutex
		seqs []int64
	)
	echoChunk(t, f, "/forward", &seqs, &mu)
	f.HandleJSON(http.MethodPost, "/optim_step", http.StatusOK, map[string]any{
		"status": "completed",
		"result": map[string]any{},
	})

	rep := &fakeReporter{}
	s := newTestService(t, f)
	s.tel = rep

	if _, err := s.Forward(context.Background(), smallData(1)); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if _, err := s.OptimStep(context.Background(), types.AdamParams{LearningRate: 1e-4}); err != nil {
		t.Fatalf("OptimStep: %v", err)
	}

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.events) != 2 {
		t.Fatalf("events = %+v, want 2", rep.events)
	}
	for _, ev := range rep.events {
		if ev.kind != "training_op" || ev.sessionID != "sess-3" || ev.fields["model"] != "llama-3.1-8b" {
			t.Fatalf("event = %+v", ev)
		}
	}
	if rep.events[0].fields["op"] != opForward || rep.events[1].fields["op"] != opOptimStep {
		t.Fatalf("ops = %v, %v", rep.events[0].fields["op"], rep.events[1].fields["op"])
	}
}

func TestForwardBackwardCustom(t *testing.T) {
	t.Parallel()

	f := kit.NewFakeAPI(t)
	f.Handle(http.MethodPost, "/forward", func(w http.ResponseWriter, r *http.Request) {
		var req chunkRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		per := make([]map[string]any, len(req.Data))
		for i := range req.Data {
			per[i] = map[string]any{"logprobs": map[string]any{"data": []float64{-1, -2}}}
		}
		kit.WriteJSON(t, w, http.StatusOK, map[string]any{
			"status": "completed",
			"result": map[string]any{"per_datum": per},
		})
	})
	f.Handle(http.MethodPost, "/forward_backward", func(w http.ResponseWriter, r *http.Request) {
		var req chunkRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.LossFn != weightedLossFn {
			t.Errorf("loss_fn = %q, want %q", req.LossFn, weightedLossFn)
		}
		for _, d := range req.Data {
			if _, ok := d.LossFnInputs["weights"]; !ok {
				t.Error("datum missing weights tensor")
			}
		}
		per := make([]map[string]any, len(req.Data))
		for i := range req.Data {
			per[i] = map[string]any{"logprobs": map[string]any{"data": []float64{0}}}
		}
		kit.WriteJSON(t, w, http.StatusOK, map[string]any{
			"status": "completed",
			"result": map[string]any{"per_datum": per, "metrics": map[string]float64{"grad_norm": 2.5}},
		})
	})

	s := newTestService(t, f)
	res, err := s.ForwardBackwardCustom(context.Background(), smallData(2),
		func(data []types.Datum, logprobs []types.TensorData) ([]types.TensorData, map[string]float64, error) {
			if len(logprobs) != len(data) {
				t.Errorf("logprobs = %d, want %d", len(logprobs), len(data))
			}
			weights := make([]types.TensorData, len(data))
			for i := range weights {
				weights[i] = types.TensorData{Data: []float64{1, 1}}
			}
			return weights, map[string]float64{"custom_loss": 3.0}, nil
		})
	if err != nil {
		t.Fatalf("ForwardBackwardCustom: %v", err)
	}
	if res.Metrics["grad_norm"] != 2.5 || res.Metrics["custom_loss"] != 3.0 {
		t.Fatalf("metrics = %v", res.Metrics)
	}
	// two passes, one seq slot each
	if s.NextSeq() != 2 {
		t.Fatalf("next seq = %d, want 2", s.NextSeq())
	}
}

func TestChunkFailureFailsBatch(t *testing.T) {
	t.Parallel()

	f := kit.NewFakeAPI(t)
	n := 0
	f.Handle(http.MethodPost, "/forward_backward", func(w http.ResponseWriter, r *http.Request) {
		n++
		if n == 2 {
			kit.WriteJSON(t, w, http.StatusUnprocessableEntity, map[string]any{
				"error": map[string]any{"message": "datum too long"},
			})
			return
		}
		var req chunkRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		per := make([]map[string]any, len(req.Data))
		for i := range req.Data {
			per[i] = map[string]any{"logprobs": map[string]any{"data": []float64{0}}}
		}
		kit.WriteJSON(t, w, http.StatusOK, map[string]any{
			"status": "completed",
			"result": map[string]any{"per_datum": per},
		})
	})

	s := newTestService(t, f)
	_, err := s.ForwardBackward(context.Background(), smallData(1500), "cross_entropy")
	if err == nil {
		t.Fatal("want error when a chunk fails")
	}
	e, ok := perr.As(err)
	if !ok || e.Op() != "ForwardBackward" {
		t.Fatalf("op not attached: %v", err)
	}
}
