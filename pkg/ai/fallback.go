package ai

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
)

// FallbackService routes completions to Gemini first (better structured
// output) and falls back to a local Ollama instance on connection or quota
// failures.
type FallbackService struct {
	gemini CompletionService
	ollama *OllamaService
}

func NewFallbackService(gemini CompletionService, ollama *OllamaService) *FallbackService {
	return &FallbackService{
		gemini: gemini,
		ollama: ollama,
	}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if _, ok := err.(net.Error); ok {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	}
	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
	}
	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// Complete tries Gemini first, falls back to Ollama on connection or quota
// errors.
func (f *FallbackService) Complete(ctx context.Context, prompt string) (string, error) {
	if f.gemini != nil {
		result, err := f.gemini.Complete(ctx, prompt)
		if err == nil {
			return result, nil
		}

		if (isConnectionError(err) || isQuotaError(err)) && f.ollama != nil {
			log.Printf("[AI] Gemini failed (%v), falling back to Ollama", err)
			return f.ollama.Complete(ctx, prompt)
		}
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	if f.ollama != nil {
		return f.ollama.Complete(ctx, prompt)
	}

	return "", fmt.Errorf("no AI provider configured")
}
