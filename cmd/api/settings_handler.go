package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"inboxjanitor/pkg/ai"

	"github.com/gin-gonic/gin"
)

// RuntimeConfig holds runtime-configurable AI settings
type RuntimeConfig struct {
	Provider      ai.ProviderType `json:"provider"`
	OllamaBaseURL string          `json:"ollama_base_url"`
	OllamaModel   string          `json:"ollama_model,omitempty"`
}

var (
	runtimeConfig     RuntimeConfig
	runtimeConfigLock sync.RWMutex
)

// InitRuntimeConfig initializes runtime config from static config
func InitRuntimeConfig(provider, ollamaBaseURL, ollamaModel string) {
	runtimeConfigLock.Lock()
	defer runtimeConfigLock.Unlock()
	runtimeConfig = RuntimeConfig{
		Provider:      ai.ProviderType(provider),
		OllamaBaseURL: ollamaBaseURL,
		OllamaModel:   ollamaModel,
	}
}

// GetRuntimeProvider returns the preferred provider the classifier tries first
func GetRuntimeProvider() ai.ProviderType {
	runtimeConfigLock.RLock()
	defer runtimeConfigLock.RUnlock()
	return runtimeConfig.Provider
}

// GetRuntimeOllamaBaseURL returns the current runtime Ollama base URL
func GetRuntimeOllamaBaseURL() string {
	runtimeConfigLock.RLock()
	defer runtimeConfigLock.RUnlock()
	return runtimeConfig.OllamaBaseURL
}

// GetRuntimeOllamaModel returns the current runtime Ollama model
func GetRuntimeOllamaModel() string {
	runtimeConfigLock.RLock()
	defer runtimeConfigLock.RUnlock()
	return runtimeConfig.OllamaModel
}

func snapshotRuntimeConfig() RuntimeConfig {
	runtimeConfigLock.RLock()
	defer runtimeConfigLock.RUnlock()
	return runtimeConfig
}

// UpdateAISettingsRequest represents the request body for updating AI settings.
// Empty fields keep their current value.
type UpdateAISettingsRequest struct {
	Provider      ai.ProviderType `json:"provider" binding:"omitempty,oneof=auto gemini ollama openai"`
	OllamaBaseURL string          `json:"ollama_base_url" binding:"omitempty,url"`
	OllamaModel   string          `json:"ollama_model,omitempty"`
}

// GetAISettings returns the current AI configuration and the registered providers
// GET /api/settings/ai
func GetAISettings(available func() []ai.ProviderType) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := snapshotRuntimeConfig()
		providers := []ai.ProviderType{}
		if available != nil {
			providers = available()
		}

		c.JSON(http.StatusOK, gin.H{
			"provider":        cfg.Provider,
			"ollama_base_url": cfg.OllamaBaseURL,
			"ollama_model":    cfg.OllamaModel,
			"available":       providers,
		})
	}
}

// UpdateAISettings updates AI configuration at runtime
// PUT /api/settings/ai
func UpdateAISettings(c *gin.Context) {
	var req UpdateAISettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runtimeConfigLock.Lock()
	if req.Provider != "" {
		runtimeConfig.Provider = req.Provider
	}
	if req.OllamaBaseURL != "" {
		runtimeConfig.OllamaBaseURL = strings.TrimRight(req.OllamaBaseURL, "/")
	}
	if req.OllamaModel != "" {
		runtimeConfig.OllamaModel = req.OllamaModel
	}
	updated := runtimeConfig
	runtimeConfigLock.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"message":         "AI settings updated successfully",
		"provider":        updated.Provider,
		"ollama_base_url": updated.OllamaBaseURL,
		"ollama_model":    updated.OllamaModel,
	})
}

// TestOllamaConnection tests if the Ollama server is reachable
// POST /api/settings/ai/ollama/test
func TestOllamaConnection(c *gin.Context) {
	var req struct {
		OllamaBaseURL string `json:"ollama_base_url"`
	}
	// No body means the current config
	_ = c.ShouldBindJSON(&req)
	if req.OllamaBaseURL == "" {
		req.OllamaBaseURL = GetRuntimeOllamaBaseURL()
	}
	baseURL := strings.TrimRight(req.OllamaBaseURL, "/")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"connected": false, "error": err.Error()})
		return
	}

	// Test connection by calling Ollama's /api/tags endpoint
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"connected": false,
			"error":     err.Error(),
		})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"connected":   false,
			"status_code": resp.StatusCode,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connected":       true,
		"ollama_base_url": baseURL,
	})
}
