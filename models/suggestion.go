package models

import "strings"

// CommunitySuggestion is one community proposed by the discovery oracle.
type CommunitySuggestion struct {
	Name           string `json:"name"`
	RelevanceScore int    `json:"relevance_score"`
	EstimatedSize  string `json:"estimated_size"`
	Reason         string `json:"reason"`
}

// BusinessContext is the caller-supplied description fed into every oracle prompt.
type BusinessContext struct {
	Prompt        string `json:"prompt"`
	CompanyName   string `json:"company_name,omitempty"`
	BusinessNiche string `json:"business_niche,omitempty"`
}

// WithProfileDefaults fills blank company fields from the stored profile.
func (b BusinessContext) WithProfileDefaults(p Profile) BusinessContext {
	if strings.TrimSpace(b.CompanyName) == "" {
		b.CompanyName = p.CompanyName
	}
	if strings.TrimSpace(b.BusinessNiche) == "" {
		b.BusinessNiche = p.BusinessNiche
	}
	return b
}

// NormalizeCommunityName strips an r/ prefix and surrounding slashes and lowercases the name.
func NormalizeCommunityName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "/")
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "r/") {
		lower = lower[2:]
	}
	return strings.Trim(lower, "/ ")
}

// NormalizeSize maps the oracle's size label onto large, medium or small.
func NormalizeSize(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "large":
		return "large"
	case "small":
		return "small"
	default:
		return "medium"
	}
}
