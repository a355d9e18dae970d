package ai

// ProviderName identifies an LLM provider
type ProviderName string

const (
	ProviderNameOpenAI ProviderName = "openai"
	ProviderNameGemini ProviderName = "gemini"
)

func (p ProviderName) String() string {
	return string(p)
}

// IsValid checks if the provider name is supported
func (p ProviderName) IsValid() bool {
	switch p {
	case ProviderNameOpenAI, ProviderNameGemini:
		return true
	default:
		return false
	}
}

const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.2
)
