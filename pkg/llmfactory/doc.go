// Package llmfactory creates LLM models from configuration,
// supporting OpenAI compatible, Anthropic, Bedrock and Gemini providers,
// and model selection by name, provider type or assistant.
package llmfactory
