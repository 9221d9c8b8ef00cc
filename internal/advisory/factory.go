package advisory

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/wonny/cyclebot/pkg/config"
	"github.com/wonny/cyclebot/pkg/httputil"
	"github.com/wonny/cyclebot/pkg/logger"
	"github.com/wonny/cyclebot/pkg/redis"
)

// BuildSources creates the configured sources: up to two HTTP endpoints and Gemini
func BuildSources(ctx context.Context, cfg *config.Config, rc *redis.Client, log *logger.Logger) ([]Source, error) {
	var sources []Source

	if cfg.Advisory.PrimaryURL != "" || cfg.Advisory.SecondaryURL != "" {
		client := httputil.NewWithTimeout(cfg, log, cfg.Advisory.Timeout).WithRetry(1, 500*time.Millisecond)
		if cfg.Advisory.APIKey != "" {
			client.WithHeader("X-API-Key", cfg.Advisory.APIKey)
		}
		if cfg.Advisory.RateLimit > 0 && rc != nil && rc.Enabled() {
			client.WithRateLimiter(redis.NewRateLimiter(rc, cfg.Redis.Prefix, redis.AdvisoryBudget(cfg.Advisory.RateLimit)))
		}

		if cfg.Advisory.PrimaryURL != "" {
			sources = append(sources, NewHTTPSource("primary", cfg.Advisory.PrimaryURL, client))
		}
		if cfg.Advisory.SecondaryURL != "" {
			sources = append(sources, NewHTTPSource("secondary", cfg.Advisory.SecondaryURL, client))
		}
	}

	if cfg.Advisory.GeminiAPIKey != "" {
		gc, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.Advisory.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		sources = append(sources, NewGeminiSource(gc.Models, cfg.Advisory.GeminiModel))
	}

	if len(sources) == 0 {
		log.Warn("No advisory sources configured, every candidate will be rejected")
	}
	return sources, nil
}
