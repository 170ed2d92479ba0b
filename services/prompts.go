package services

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/anatech/leadscout/models"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

const (
	PromptDiscover   = "discover"
	PromptScoreBatch = "score_batch"
	PromptDraftReply = "draft_reply"
	PromptPing       = "ping"
)

// PromptDefinition is one entry of the prompt catalog before template compilation.
type PromptDefinition struct {
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	JSON        bool    `yaml:"json"`
	System      string  `yaml:"system"`
	User        string  `yaml:"user"`
}

type compiledPrompt struct {
	definition PromptDefinition
	system     *template.Template
	user       *template.Template
}

// PromptCatalog renders oracle prompts from the embedded YAML templates.
type PromptCatalog struct {
	prompts map[string]compiledPrompt
}

// PromptData is the value every prompt template is executed against.
type PromptData struct {
	Context string
	Posts   []models.Post
	Lead    *models.ScoredLead
}

var promptFuncs = template.FuncMap{
	"inc":      func(i int) int { return i + 1 },
	"truncate": func(text string, limit int) string { return TruncateRunes(text, limit) },
	"join":     strings.Join,
}

// LoadPromptCatalog parses and compiles a YAML prompt catalog.
func LoadPromptCatalog(raw []byte) (*PromptCatalog, error) {
	var definitions map[string]PromptDefinition
	if err := yaml.Unmarshal(raw, &definitions); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}

	catalog := &PromptCatalog{prompts: make(map[string]compiledPrompt, len(definitions))}
	for name, definition := range definitions {
		system, err := template.New(name + ".system").Funcs(promptFuncs).Parse(definition.System)
		if err != nil {
			return nil, fmt.Errorf("compile %s system prompt: %w", name, err)
		}
		user, err := template.New(name + ".user").Funcs(promptFuncs).Parse(definition.User)
		if err != nil {
			return nil, fmt.Errorf("compile %s user prompt: %w", name, err)
		}
		catalog.prompts[name] = compiledPrompt{definition: definition, system: system, user: user}
	}

	for _, required := range []string{PromptDiscover, PromptScoreBatch, PromptDraftReply, PromptPing} {
		if _, ok := catalog.prompts[required]; !ok {
			return nil, fmt.Errorf("prompt catalog is missing %q", required)
		}
	}
	return catalog, nil
}

// DefaultPromptCatalog returns the catalog embedded in the binary.
func DefaultPromptCatalog() *PromptCatalog {
	catalog, err := LoadPromptCatalog(promptsYAML)
	if err != nil {
		panic(err)
	}
	return catalog
}

// Render builds a CompletionRequest for the named prompt.
func (c *PromptCatalog) Render(name string, data PromptData) (CompletionRequest, error) {
	prompt, ok := c.prompts[name]
	if !ok {
		return CompletionRequest{}, fmt.Errorf("unknown prompt %q", name)
	}

	var system, user bytes.Buffer
	if err := prompt.system.Execute(&system, data); err != nil {
		return CompletionRequest{}, fmt.Errorf("render %s system prompt: %w", name, err)
	}
	if err := prompt.user.Execute(&user, data); err != nil {
		return CompletionRequest{}, fmt.Errorf("render %s user prompt: %w", name, err)
	}

	return CompletionRequest{
		Category:    name,
		System:      strings.TrimSpace(system.String()),
		User:        strings.TrimSpace(user.String()),
		Temperature: prompt.definition.Temperature,
		MaxTokens:   prompt.definition.MaxTokens,
		JSON:        prompt.definition.JSON,
	}, nil
}

// BusinessContextText formats the business description the way every prompt expects it.
func BusinessContextText(business models.BusinessContext) string {
	var lines []string
	if company := strings.TrimSpace(business.CompanyName); company != "" {
		lines = append(lines, "Company: "+company)
	}
	if niche := strings.TrimSpace(business.BusinessNiche); niche != "" {
		lines = append(lines, "Niche/Industry: "+niche)
	}
	lines = append(lines, "Description: "+strings.TrimSpace(business.Prompt))
	return strings.Join(lines, "\n")
}
