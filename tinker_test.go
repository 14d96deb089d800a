package tinker

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	perr "tinker/internal/platform/errors"
	kit "tinker/internal/platform/testkit"
	"tinker/types"
)

func newTestClient(t *testing.T, f *kit.FakeAPI, obs types.Observer) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: f.URL(), APIKey: "tk-test", Observer: obs})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func mountSessions(t *testing.T, f *kit.FakeAPI) *atomic.Int64 {
	var n atomic.Int64
	create := func(w http.ResponseWriter, _ *http.Request) {
		kit.WriteJSON(t, w, http.StatusOK, map[string]any{
			"session_id": "sess-" + string(rune('a'+n.Add(1)-1)),
		})
	}
	f.Handle(http.MethodPost, "/create_model", create)
	f.Handle(http.MethodPost, "/create_sampling_session", create)
	f.HandleJSON(http.MethodPost, "/telemetry", http.StatusOK, map[string]any{})
	f.HandleJSON(http.MethodPost, "/session_heartbeat", http.StatusOK, map[string]any{})
	f.HandleJSON(http.MethodPost, "/unload_model", http.StatusOK, map[string]any{
		"status": "completed", "result": map[string]any{},
	})
	return &n
}

func TestClientConfigValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{APIKey: "k"}); !perr.IsKind(err, perr.KindValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestHealthzAndCapabilities(t *testing.T) {
	t.Parallel()

	f := kit.NewFakeAPI(t)
	f.HandleJSON(http.MethodGet, "/healthz", http.StatusOK, map[string]any{"status": "ok"})
	f.HandleJSON(http.MethodGet, "/get_server_capabilities", http.StatusOK, types.ServerCapabilities{
		SupportedModels: []string{"llama-3.1-8b", "qwen-2.5-7b"},
		MaxLoraRank:     64,
	})

	c := newTestClient(t, f, nil)
	if err := c.Healthz(context.Background()); err != nil {
		t.Fatalf("Healthz: %v", err)
	}

	caps, err := c.GetServerCapabilitiesAsync(context.Background()).Result(context.Background())
	if err != nil {
		t.Fatalf("GetServerCapabilities: %v", err)
	}
	if len(caps.SupportedModels) != 2 || caps.MaxLoraRank != 64 {
		t.Fatalf("capabilities = %+v", caps)
	}
}

func TestTrainingSessionLifecycle(t *testing.T) {
	t.Parallel()

	f := kit.NewFakeAPI(t)
	mountSessions(t, f)
	f.HandleJSON(http.MethodPost, "/forward", http.StatusOK, map[string]any{
		"status": "completed",
		"result": map[string]any{
			"per_datum": []map[string]any{{"logprobs": map[string]any{"data": []float64{-0.1}}}},
		},
	})

	c := newTestClient(t, f, nil)
	tc, err := c.CreateLoraTrainingClient(context.Background(), "llama-3.1-8b", 32)
	if err != nil {
		t.Fatalf("CreateLoraTrainingClient: %v", err)
	}
	if tc.SessionID() == "" {
		t.Fatal("empty session id")
	}

	res, err := tc.Forward(context.Background(), []types.Datum{
		{ModelInput: types.FromTokens([]int64{1, 2})},
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(res.PerDatum) != 1 {
		t.Fatalf("result = %+v", res)
	}

	var created createSessionRequest
	f.LastRequest("/create_model", &created)
	if created.Kind != "training" || created.ModelName != "llama-3.1-8b" || created.LoraRank != 32 {
		t.Fatalf("create body = %+v", created)
	}

	if err := tc.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f.Calls("/unload_model") != 1 {
		t.Fatal("Close should unload the model")
	}
}

func TestSamplingClientDeduplicated(t *testing.T) {
	t.Parallel()

	f := kit.NewFakeAPI(t)
	n := mountSessions(t, f)

	c := newTestClient(t, f, nil)
	a, err := c.CreateSamplingClient(context.Background(), "tinker://run-1/weights/0")
	if err != nil {
		t.Fatalf("CreateSamplingClient: %v", err)
	}
	b, err := c.CreateSamplingClient(context.Background(), "tinker://run-1/weights/0")
	if err != nil {
		t.Fatalf("CreateSamplingClient: %v", err)
	}
	if a != b {
		t.Fatal("same model path should reuse the session")
	}
	other, err := c.CreateSamplingClient(context.Background(), "tinker://run-1/weights/1")
	if err != nil {
		t.Fatalf("CreateSamplingClient: %v", err)
	}
	if other == a {
		t.Fatal("different model paths must not share a session")
	}
	if got := n.Load(); got != 2 {
		t.Fatalf("sessions created = %d, want 2", got)
	}
}

func TestSaveWeightsAndGetSamplingClient(t *testing.T) {
	t.Parallel()

	f := kit.NewFakeAPI(t)
	mountSessions(t, f)
	f.HandleJSON(http.MethodPost, "/save_weights_for_sampler", http.StatusOK, map[string]any{
		"status": "completed",
		"result": map[string]any{"path": "tinker://run-1/weights/after-step"},
	})
	f.HandleJSON(http.MethodPost, "/asample", http.StatusOK, map[string]any{
		"status": "completed",
		"result": map[string]any{"sequences": []map[string]any{{"tokens": []int64{3}}}},
	})

	c := newTestClient(t, f, nil)
	tc, err := c.CreateLoraTrainingClient(context.Background(), "llama-3.1-8b", 0)
	if err != nil {
		t.Fatalf("CreateLoraTrainingClient: %v", err)
	}
	defer func() { _ = tc.Close(context.Background()) }()

	sc, err := tc.SaveWeightsAndGetSamplingClient(context.Background(), "after-step")
	if err != nil {
		t.Fatalf("SaveWeightsAndGetSamplingClient: %v", err)
	}
	res, err := sc.Sample(context.Background(), SampleRequest{
		Prompt: types.FromTokens([]int64{1}),
		Params: types.SamplingParams{MaxTokens: 4},
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(res.Sequences) != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestFutureResultHonorsContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	fut := goFuture(func() (int, error) {
		<-block
		return 42, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := fut.Result(ctx); err == nil {
		t.Fatal("want context error while the future is blocked")
	}

	close(block)
	v, err := fut.Result(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("Result = (%d, %v)", v, err)
	}
}
