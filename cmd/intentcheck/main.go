// Command intentcheck sends free text to the configured interpretation
// provider and prints the validated intent, without touching any store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/wolfman30/appointment-intent-engine/cmd/mainconfig"
	appconfig "github.com/wolfman30/appointment-intent-engine/internal/config"
	"github.com/wolfman30/appointment-intent-engine/internal/interpret"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

func main() {
	tenantID := flag.String("tenant", "local", "tenant id used for the prompt")
	timezone := flag.String("tz", "", "tenant timezone (defaults to DEFAULT_TIMEZONE)")
	flag.Parse()

	text := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if text == "" {
		fmt.Fprintln(os.Stderr, `usage: intentcheck [-tenant id] [-tz zone] "book me with Dr. Silva tomorrow at 10"`)
		os.Exit(2)
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.InterpretTimeout+5*time.Second)
	defer cancel()

	client, provider, model, err := buildClient(ctx, cfg)
	if err != nil {
		log.Fatalf("interpretation client: %v", err)
	}

	tz := *timezone
	if tz == "" {
		tz = cfg.DefaultTimezone
	}
	tenant, err := tenancy.DefaultSettings(*tenantID, tz).Tenant()
	if err != nil {
		log.Fatalf("tenant: %v", err)
	}

	interp := interpret.New(client, nil, interpret.Config{
		Provider: provider,
		Model:    model,
		Timeout:  cfg.InterpretTimeout,
	}, nil, nil, logger)

	start := time.Now()
	outcome, err := interp.Interpret(ctx, tenant, text)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		fmt.Printf("%s failed after %v: %v\n", provider, elapsed, err)
		os.Exit(1)
	}

	var out any = outcome.Intent
	if outcome.IsClarification() {
		out = outcome.Clarification
	} else if verr := outcome.Intent.Validate(); verr != nil {
		fmt.Printf("intent parsed but incomplete: %v\n", verr)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	fmt.Printf("%s (%v):\n", provider, elapsed)
	_ = enc.Encode(out)
}

func buildClient(ctx context.Context, cfg *appconfig.Config) (interpret.Client, string, string, error) {
	switch cfg.LLMProvider {
	case "gemini":
		client, err := interpret.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		return client, "gemini", cfg.GeminiModelID, err
	case "bedrock":
		if cfg.BedrockModelID == "" {
			return nil, "", "", fmt.Errorf("BEDROCK_MODEL_ID is required")
		}
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, "", "", err
		}
		return interpret.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg)), "bedrock", cfg.BedrockModelID, nil
	default:
		return nil, "", "", fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}
