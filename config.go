package menuagent

import "time"

type ModelConfig struct {
	ModelID     string  `env:"MODEL_ID,required"`
	MaxTokens   int32   `env:"MAX_TOKENS,default=1024"`
	Temperature float32 `env:"TEMPERATURE,default=0.2"`
	TopP        float32 `env:"TOP_P,default=0.9"`
}

type PlannerConfig struct {
	CorpusPath            string        `env:"CORPUS_PATH,default=artifacts/recipes.json"`
	CandidatesPerCategory int           `env:"CANDIDATES_PER_CATEGORY,default=3"`
	MaxRounds             int           `env:"MAX_ROUNDS,default=6"`
	PlanningInterval      int           `env:"PLANNING_INTERVAL,default=3"`
	CallTimeout           time.Duration `env:"CALL_TIMEOUT,default=30s"`
	RunTimeout            time.Duration `env:"RUN_TIMEOUT,default=5m"`
	DirectDispatch        bool          `env:"DIRECT_DISPATCH,default=false"`
	DiscoveryEnabled      bool          `env:"DISCOVERY_ENABLED,default=true"`
	SearchEndpoint        string        `env:"SEARCH_ENDPOINT,default=https://api.duckduckgo.com"`
	WebhookURL            string        `env:"WEBHOOK_URL,default="`
	WebhookChannel        string        `env:"WEBHOOK_CHANNEL,default=#menu"`
}
