package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/shared"
	"github.com/sirupsen/logrus"
)

const (
	MinSuggestions = 8
	MaxSuggestions = 12
	MaxScoreBatch  = 6
)

// PostAnalysis is the oracle's typed verdict on one post.
type PostAnalysis struct {
	RelevancyScore     int
	IsHelpSeeking      bool
	HelpSeekingSignals []string
	Reasoning          string
	IntentStrength     models.IntentStrength
	PotentialValue     string
	KeyPainPoints      []string
}

// Oracle suggests communities, scores posts and drafts replies.
type Oracle interface {
	SuggestCommunities(ctx context.Context, business models.BusinessContext) ([]models.CommunitySuggestion, error)
	// ScorePosts returns analyses keyed by post ID. Posts whose analysis is
	// missing or malformed are absent from the map.
	ScorePosts(ctx context.Context, business models.BusinessContext, posts []models.Post) (map[string]PostAnalysis, error)
	DraftReply(ctx context.Context, business models.BusinessContext, lead *models.ScoredLead) (string, error)
	Ping(ctx context.Context) error
}

// CompletionRequest is a single chat completion call.
type CompletionRequest struct {
	Category    string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	JSON        bool
}

// CompletionResult carries the model's text and token usage.
type CompletionResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Completer is an LLM provider able to answer one system+user exchange.
type Completer interface {
	Complete(ctx context.Context, request CompletionRequest) (CompletionResult, error)
	Name() string
}

// OracleService implements Oracle on top of any Completer. It owns prompt
// rendering, per-call deadlines and validation of the model's JSON.
type OracleService struct {
	completer Completer
	prompts   *PromptCatalog
	timeout   time.Duration
	metrics   *shared.ServiceMetrics
}

// NewOracleService creates an oracle bound to completer.
func NewOracleService(completer Completer, prompts *PromptCatalog, timeout time.Duration) *OracleService {
	if prompts == nil {
		prompts = DefaultPromptCatalog()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OracleService{
		completer: completer,
		prompts:   prompts,
		timeout:   timeout,
		metrics:   shared.NewServiceMetrics("Oracle_" + completer.Name()),
	}
}

// Metrics exposes call and token counters for the usage endpoint.
func (o *OracleService) Metrics() *shared.ServiceMetrics {
	return o.metrics
}

func (o *OracleService) complete(ctx context.Context, operation, prompt string, data PromptData) (string, error) {
	request, err := o.prompts.Render(prompt, data)
	if err != nil {
		return "", shared.NewServiceError(shared.ErrorCategoryInternal, "PROMPT_RENDER", "failed to render prompt",
			"OracleService", operation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	result, err := o.completer.Complete(ctx, request)
	o.metrics.RecordRequest(err == nil, time.Since(start))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "OracleService",
			"provider":  o.completer.Name(),
			"operation": operation,
			"error":     err.Error(),
		}).Warn("Oracle call failed")
		return "", shared.NewOracleUnavailableError("OracleService", operation, err)
	}
	o.metrics.RecordTokens(request.Category, result.PromptTokens, result.CompletionTokens)

	logrus.WithFields(logrus.Fields{
		"component":         "OracleService",
		"provider":          o.completer.Name(),
		"operation":         operation,
		"prompt_tokens":     result.PromptTokens,
		"completion_tokens": result.CompletionTokens,
		"duration":          time.Since(start),
	}).Debug("Oracle call completed")

	return strings.TrimSpace(result.Text), nil
}

type suggestionPayload struct {
	Subreddits []struct {
		Name           string  `json:"name"`
		RelevanceScore float64 `json:"relevance_score"`
		EstimatedSize  string  `json:"estimated_size"`
		Reason         string  `json:"reason"`
	} `json:"subreddits"`
}

// SuggestCommunities asks for 8-12 communities relevant to business.
func (o *OracleService) SuggestCommunities(ctx context.Context, business models.BusinessContext) ([]models.CommunitySuggestion, error) {
	const operation = "SuggestCommunities"
	text, err := o.complete(ctx, operation, PromptDiscover, PromptData{Context: BusinessContextText(business)})
	if err != nil {
		return nil, err
	}
	return ParseSuggestions(text)
}

// ParseSuggestions converts the discovery reply into validated suggestions.
// Entries without a name or with a score outside [0,100] are dropped; more
// than MaxSuggestions are cut to the most relevant.
func ParseSuggestions(text string) ([]models.CommunitySuggestion, error) {
	const operation = "ParseSuggestions"
	logger := logrus.WithField("component", "OracleService")

	var payload suggestionPayload
	if err := json.Unmarshal([]byte(cleanJSON(text)), &payload); err != nil {
		var bare []json.RawMessage
		if arrErr := json.Unmarshal([]byte(cleanJSON(text)), &bare); arrErr != nil {
			return nil, shared.NewOracleUnavailableError("OracleService", operation,
				fmt.Errorf("malformed discovery response: %w", err))
		}
		wrapped, _ := json.Marshal(map[string]interface{}{"subreddits": bare})
		if err := json.Unmarshal(wrapped, &payload); err != nil {
			return nil, shared.NewOracleUnavailableError("OracleService", operation, err)
		}
	}

	seen := make(map[string]bool)
	suggestions := make([]models.CommunitySuggestion, 0, len(payload.Subreddits))
	for _, entry := range payload.Subreddits {
		name := models.NormalizeCommunityName(entry.Name)
		if name == "" || entry.RelevanceScore < 0 || entry.RelevanceScore > 100 || math.IsNaN(entry.RelevanceScore) {
			logger.WithFields(logrus.Fields{
				"name":  entry.Name,
				"score": entry.RelevanceScore,
			}).Warn("Quarantined malformed community suggestion")
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		suggestions = append(suggestions, models.CommunitySuggestion{
			Name:           name,
			RelevanceScore: int(math.Round(entry.RelevanceScore)),
			EstimatedSize:  models.NormalizeSize(entry.EstimatedSize),
			Reason:         strings.TrimSpace(entry.Reason),
		})
	}

	if len(suggestions) == 0 {
		return nil, shared.NewOracleUnavailableError("OracleService", operation,
			errors.New("discovery response contained no valid suggestions"))
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].RelevanceScore > suggestions[j].RelevanceScore
	})
	if len(suggestions) > MaxSuggestions {
		suggestions = suggestions[:MaxSuggestions]
	}
	if len(suggestions) < MinSuggestions {
		logger.WithField("count", len(suggestions)).Info("Discovery returned fewer suggestions than requested")
	}
	return suggestions, nil
}

type analysisEntry struct {
	PostNumber         int      `json:"post_number"`
	RelevancyScore     *float64 `json:"relevancy_score"`
	IsHelpSeeking      bool     `json:"is_help_seeking"`
	HelpSeekingSignals []string `json:"help_seeking_signals"`
	Reasoning          string   `json:"reasoning"`
	IntentStrength     string   `json:"intent_strength"`
	PotentialValue     string   `json:"potential_value"`
	KeyPainPoints      []string `json:"key_pain_points"`
}

// ScorePosts scores up to MaxScoreBatch posts in a single call.
func (o *OracleService) ScorePosts(ctx context.Context, business models.BusinessContext, posts []models.Post) (map[string]PostAnalysis, error) {
	const operation = "ScorePosts"
	if len(posts) == 0 {
		return map[string]PostAnalysis{}, nil
	}
	if len(posts) > MaxScoreBatch {
		return nil, shared.NewValidationError("OracleService", operation,
			fmt.Sprintf("batch size cannot exceed %d posts", MaxScoreBatch))
	}

	text, err := o.complete(ctx, operation, PromptScoreBatch, PromptData{
		Context: BusinessContextText(business),
		Posts:   posts,
	})
	if err != nil {
		return nil, err
	}
	return ParseAnalyses(text, posts)
}

// ParseAnalyses maps the batch reply back onto posts by post_number, falling
// back to position when the number is absent. Entries with an unknown post
// number or a score outside [0,100] are quarantined; a post is scored at most once.
func ParseAnalyses(text string, posts []models.Post) (map[string]PostAnalysis, error) {
	const operation = "ParseAnalyses"
	logger := logrus.WithField("component", "OracleService")
	cleaned := cleanJSON(text)

	var entries []analysisEntry
	var wrapper struct {
		Analyses []analysisEntry `json:"analyses"`
		Results  []analysisEntry `json:"results"`
	}
	if err := json.Unmarshal([]byte(cleaned), &entries); err != nil {
		if wrapErr := json.Unmarshal([]byte(cleaned), &wrapper); wrapErr != nil {
			return nil, shared.NewOracleUnavailableError("OracleService", operation,
				fmt.Errorf("malformed scoring response: %w", err))
		}
		entries = wrapper.Analyses
		if len(entries) == 0 {
			entries = wrapper.Results
		}
	}

	analyses := make(map[string]PostAnalysis, len(posts))
	for position, entry := range entries {
		number := entry.PostNumber
		if number == 0 {
			number = position + 1
		}
		if number < 1 || number > len(posts) {
			logger.WithField("post_number", entry.PostNumber).Warn("Quarantined analysis for unknown post number")
			continue
		}
		if entry.RelevancyScore == nil || *entry.RelevancyScore < 0 || *entry.RelevancyScore > 100 {
			logger.WithField("post_id", posts[number-1].ID).Warn("Quarantined analysis with invalid relevancy score")
			continue
		}

		postID := posts[number-1].ID
		if _, exists := analyses[postID]; exists {
			continue
		}
		analyses[postID] = PostAnalysis{
			RelevancyScore:     int(math.Round(*entry.RelevancyScore)),
			IsHelpSeeking:      entry.IsHelpSeeking,
			HelpSeekingSignals: nonNil(entry.HelpSeekingSignals),
			Reasoning:          strings.TrimSpace(entry.Reasoning),
			IntentStrength:     models.ParseIntentStrength(entry.IntentStrength),
			PotentialValue:     string(models.ParseIntentStrength(entry.PotentialValue)),
			KeyPainPoints:      nonNil(entry.KeyPainPoints),
		}
	}

	if len(analyses) < len(posts) {
		logger.WithFields(logrus.Fields{
			"posts":    len(posts),
			"analyses": len(analyses),
		}).Warn("Scoring response did not cover every post")
	}
	return analyses, nil
}

// DraftReply writes a short reply addressing the lead's pain points.
func (o *OracleService) DraftReply(ctx context.Context, business models.BusinessContext, lead *models.ScoredLead) (string, error) {
	const operation = "DraftReply"
	if lead == nil {
		return "", shared.NewValidationError("OracleService", operation, "lead is required")
	}
	text, err := o.complete(ctx, operation, PromptDraftReply, PromptData{
		Context: BusinessContextText(business),
		Lead:    lead,
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", shared.NewOracleUnavailableError("OracleService", operation, errors.New("empty reply"))
	}
	return text, nil
}

// Ping issues a minimal completion to check provider connectivity.
func (o *OracleService) Ping(ctx context.Context) error {
	text, err := o.complete(ctx, "Ping", PromptPing, PromptData{})
	if err != nil {
		return err
	}
	if text == "" {
		return shared.NewOracleUnavailableError("OracleService", "Ping", errors.New("no response"))
	}
	return nil
}

// cleanJSON strips markdown fences and any prose surrounding the JSON value.
func cleanJSON(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	input = strings.TrimSpace(input)

	start := strings.IndexAny(input, "{[")
	if start > 0 {
		input = input[start:]
	}
	if end := strings.LastIndexAny(input, "}]"); end >= 0 && end < len(input)-1 {
		input = input[:end+1]
	}
	return input
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
