// tinker-probe checks connectivity against a tinker API deployment: health,
// server capabilities, and optionally the caller's recent sessions
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"tinker"
	"tinker/internal/platform/logger"
)

func mustSetEnv(key, val string) {
	if val != "" {
		_ = os.Setenv(key, val)
	}
}

func main() {
	var (
		fBaseURL  = flag.String("base-url", "", "API base URL (or TINKER_BASE_URL)")
		fAPIKey   = flag.String("api-key", "", "API key (or TINKER_API_KEY)")
		fTimeout  = flag.Duration("timeout", 30*time.Second, "per-request timeout")
		fSessions = flag.Bool("sessions", false, "also list recent sessions")
		fDump     = flag.Bool("dump-headers", false, "log request/response headers")
	)
	flag.Parse()

	l := logger.Get()

	mustSetEnv("TINKER_BASE_URL", *fBaseURL)
	mustSetEnv("TINKER_API_KEY", *fAPIKey)
	mustSetEnv("TINKER_TIMEOUT", fTimeout.String())
	if *fDump {
		mustSetEnv("TINKER_DUMP_HEADERS", "true")
	}

	client, err := tinker.NewClientFromEnv()
	if err != nil {
		l.Fatal().Err(err).Msg("client setup failed")
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2**fTimeout)
	defer cancel()

	if err := client.Healthz(ctx); err != nil {
		l.Fatal().Err(err).Msg("healthz failed")
	}
	fmt.Println("healthz: ok")

	caps, err := client.GetServerCapabilities(ctx)
	if err != nil {
		l.Fatal().Err(err).Msg("server_capabilities failed")
	}
	fmt.Printf("models: %d, max lora rank: %d\n", len(caps.SupportedModels), caps.MaxLoraRank)
	for _, m := range caps.SupportedModels {
		fmt.Printf("  %s\n", m)
	}

	if !*fSessions {
		return
	}
	page, err := client.ListSessions(ctx, 0)
	if err != nil {
		l.Fatal().Err(err).Msg("list sessions failed")
	}
	fmt.Printf("sessions (%d total):\n", page.Total)
	for _, s := range page.Items {
		fmt.Printf("  %s  %s  %s  created %s\n", s.ID, s.Kind, s.ModelName, s.CreatedAt.Format(time.RFC3339))
	}
}
