package app

import (
	"time"

	"github.com/yungbote/studyforge-backend/internal/jobs/generation/steps"
	"github.com/yungbote/studyforge-backend/internal/platform/envutil"
	"github.com/yungbote/studyforge-backend/internal/platform/llm"
)

type Config struct {
	Port      string
	JWTSecret string

	MaxActivePerOwner int

	RateLimitPerWindow int
	RateLimitWindow    time.Duration

	Pipeline steps.Config
	LLM      llm.Config
}

func LoadConfig() Config {
	defaults := steps.DefaultConfig()
	return Config{
		Port:      envutil.String("PORT", "8080"),
		JWTSecret: envutil.String("JWT_SECRET_KEY", ""),

		MaxActivePerOwner: envutil.Int("MAX_ACTIVE_JOBS_PER_OWNER", 3),

		RateLimitPerWindow: envutil.Int("SUBMIT_RATE_LIMIT", 10),
		RateLimitWindow:    envutil.Duration("SUBMIT_RATE_WINDOW", time.Minute),

		Pipeline: steps.Config{
			MaxConcepts:               envutil.Int("MAX_CONCEPTS_PER_JOB", defaults.MaxConcepts),
			TargetPhrasingsPerConcept: envutil.Int("TARGET_PHRASINGS_PER_CONCEPT", defaults.TargetPhrasingsPerConcept),
			RecentPhrasingWindow:      envutil.Int("RECENT_PHRASING_WINDOW", defaults.RecentPhrasingWindow),
			EmbedBatchSize:            envutil.Int("EMBED_BATCH_SIZE", defaults.EmbedBatchSize),
		},
		LLM: llm.ConfigFromEnv(),
	}
}
