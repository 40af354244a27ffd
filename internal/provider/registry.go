package provider

import "time"

// DefaultSet builds the standard caller set keyed by provider name, all with
// public API bases, default models and conservative billing rates.
func DefaultSet(timeout time.Duration) map[string]Caller {
	return map[string]Caller{
		"openai":    NewOpenAI("", "", 0, timeout),
		"anthropic": NewAnthropic("", "", 0, timeout),
		"gemini":    NewGemini("", "", 0, timeout),
		"glm":       NewGLM("", "", 0, timeout),
	}
}
