package llmfactory_test

import (
	"context"
	"testing"

	"github.com/effective-security/mcpbot/pkg/llmfactory"
	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	provider string
	model    string
}

func (f *fakeLLM) GetProviderType() llms.ProviderType {
	return llms.ProviderType(f.provider)
}

func (f *fakeLLM) GenerateContent(context.Context, []llms.Message, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.model}}}, nil
}

func setEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "fakekey")
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")
	t.Setenv("GOOGLE_API_KEY", "fakekey")
	t.Setenv("GATEWAY_APP_KEY", "appkey")
}

func Test_Factory(t *testing.T) {
	setEnv(t)

	cfg, err := llmfactory.LoadConfig("testdata/llm.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 4)
	assert.Equal(t, "fakekey", cfg.Providers[0].Token)
	assert.Equal(t, "appkey", cfg.Providers[0].OpenAI.Headers["x-app-key"])
	assert.Equal(t, "/openai/v1", cfg.Providers[0].OpenAI.BaseURLSuffix)

	llmfactory.NewLLM = func(cfg *llmfactory.ProviderConfig, preferredModels ...string) (llms.Model, error) {
		return &fakeLLM{provider: cfg.Name, model: cfg.FindModel(preferredModels...)}, nil
	}
	defer func() {
		llmfactory.NewLLM = llmfactory.CreateLLM
	}()

	f := llmfactory.New(cfg)

	check := func(model llms.Model, err error, expProvider, expModel string) {
		t.Helper()
		require.NoError(t, err)
		require.NotNil(t, model)
		fm := model.(*fakeLLM)
		assert.Equal(t, expProvider, fm.provider)
		assert.Equal(t, expModel, fm.model)
	}

	model, err := f.DefaultModel()
	check(model, err, "openai", "gpt-4o")

	model, err = f.ModelByName("gpt-4o-mini")
	check(model, err, "openai", "gpt-4o-mini")

	model, err = f.ModelByName("unknown", "claude-3-5-haiku-20241022")
	check(model, err, "anthropic", "claude-3-5-haiku-20241022")

	// not found falls back to default
	model, err = f.ModelByName("non-existent-model")
	check(model, err, "openai", "gpt-4o")

	model, err = f.ModelByType("OPEN_AI")
	check(model, err, "openai", "gpt-4o")
	model2, err := f.ModelByType("openai")
	require.NoError(t, err)
	assert.Same(t, model, model2)

	model, err = f.ModelByType("BEDROCK")
	check(model, err, "bedrock", "anthropic.claude-3-5-sonnet-20241022-v2:0")

	model, err = f.ModelByType("GOOGLEAI")
	check(model, err, "gemini", "gemini-2.5-pro")

	model, err = f.AssistantModel("troubleshooter")
	check(model, err, "anthropic", "claude-3-5-haiku-20241022")

	model, err = f.AssistantModel("other", "gemini-2.5-flash")
	check(model, err, "openai", "gpt-4o-mini")

	_, err = f.ModelByType("UNSUPPORTED")
	assert.EqualError(t, err, "provider not found for type: UNSUPPORTED")

	_, err = llmfactory.New(&llmfactory.Config{}).DefaultModel()
	assert.EqualError(t, err, "no providers configured")

	model, err = llmfactory.New(&llmfactory.Config{
		DefaultProvider: "non-existent",
		Providers:       cfg.Providers,
	}).DefaultModel()
	check(model, err, "openai", "gpt-4o")

	model, err = llmfactory.New(&llmfactory.Config{
		DefaultProvider: "gemini",
		Providers:       cfg.Providers,
	}).AssistantModel("any", "gemini-2.5-flash")
	check(model, err, "gemini", "gemini-2.5-flash")
}

func Test_Load(t *testing.T) {
	setEnv(t)

	f, err := llmfactory.Load("testdata/llm.yaml")
	require.NoError(t, err)
	require.NotNil(t, f)

	_, err = llmfactory.Load("testdata/non-existent.yaml")
	require.Error(t, err)

	_, err = llmfactory.LoadConfig("testdata/invalid.yaml")
	require.Error(t, err)

	cfg, err := llmfactory.LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers)
}

func Test_CreateLLM(t *testing.T) {
	setEnv(t)

	cfg := &llmfactory.ProviderConfig{
		Name:            "test-provider",
		Token:           "fakekey",
		AvailableModels: []string{"model-a", "model-b"},
		DefaultModel:    "model-a",
		Region:          "us-east-1",
	}

	tcases := []struct {
		apiType string
		exp     llms.ProviderType
	}{
		{"OPEN_AI", llms.ProviderOpenAI},
		{"openai", llms.ProviderOpenAI},
		{"ANTHROPIC", llms.ProviderAnthropic},
		{"BEDROCK", llms.ProviderBedrock},
		{"GOOGLEAI", llms.ProviderGoogleAI},
	}
	for _, tc := range tcases {
		t.Run(tc.apiType, func(t *testing.T) {
			c := *cfg
			c.OpenAI = llmfactory.OpenAIConfig{
				APIType:       tc.apiType,
				BaseURL:       "http://localhost:1",
				BaseURLSuffix: "/v1",
				Headers:       map[string]string{"x-app": "mcpbot"},
			}
			if tc.exp == llms.ProviderBedrock {
				c.OpenAI.BaseURL = ""
			}
			model, err := llmfactory.CreateLLM(&c, "model-b")
			require.NoError(t, err)
			assert.Equal(t, tc.exp, model.GetProviderType())
		})
	}

	cfg.OpenAI.APIType = "UNSUPPORTED"
	_, err := llmfactory.CreateLLM(cfg)
	assert.EqualError(t, err, "unsupported provider type: UNSUPPORTED")
}

func Test_FindModel(t *testing.T) {
	cfg := &llmfactory.ProviderConfig{
		DefaultModel:    "a",
		AvailableModels: []string{"a", "b"},
	}
	assert.Equal(t, "b", cfg.FindModel("x", "b"))
	assert.Equal(t, "a", cfg.FindModel("x"))
	assert.Equal(t, "a", cfg.FindModel())
}
