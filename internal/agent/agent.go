package agent

const (
	// KimiBaseURL is Moonshot's Anthropic-compatible endpoint.
	KimiBaseURL = "https://api.moonshot.cn/anthropic/"

	BaseURLEnv = "ANTHROPIC_BASE_URL"
	APIKeyEnv  = "ANTHROPIC_API_KEY"
)

// Options selects how Claude Code inside the sandbox reaches its API.
type Options struct {
	Kimi   bool
	APIKey string
}

// Env returns the environment overrides for the sandbox. Keys are only set
// when the matching option is; the zero Options yields an empty map.
func Env(opts Options) map[string]string {
	env := map[string]string{}
	if opts.Kimi {
		env[BaseURLEnv] = KimiBaseURL
	}
	if opts.APIKey != "" {
		env[APIKeyEnv] = opts.APIKey
	}
	return env
}
