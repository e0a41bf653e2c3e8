package domain

import "strings"

// Category is the closed set of AI categories a message can carry
type Category string

const (
	CategoryUnknown      Category = "unknown"
	CategoryPersonal     Category = "personal"
	CategoryWork         Category = "work"
	CategoryReceipt      Category = "receipt"
	CategoryPromo        Category = "promo"
	CategoryNotification Category = "notification"
	CategorySpamLike     Category = "spamLike"
)

// Categories lists every valid category, in prompt order
var Categories = []Category{
	CategoryUnknown,
	CategoryPersonal,
	CategoryWork,
	CategoryReceipt,
	CategoryPromo,
	CategoryNotification,
	CategorySpamLike,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// categoryKeywords is checked in order; first match wins
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategorySpamLike, []string{"spam", "junk", "phishing", "scam"}},
	{CategoryWork, []string{"urgent", "important", "critical", "work", "business", "meeting"}},
	{CategoryReceipt, []string{"receipt", "invoice", "order", "purchase", "billing", "payment"}},
	{CategoryPromo, []string{"promo", "newsletter", "marketing", "advert", "sale", "deal", "offer"}},
	{CategoryNotification, []string{"alert", "reminder", "notification", "notice", "update", "security"}},
	{CategoryPersonal, []string{"personal", "family", "friend", "social"}},
}

// NormalizeCategory maps any model output onto the closed category set
func NormalizeCategory(raw string) Category {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CategoryUnknown
	}
	for _, known := range Categories {
		if strings.EqualFold(trimmed, string(known)) {
			return known
		}
	}

	lower := strings.ToLower(trimmed)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.category
			}
		}
	}
	return CategoryUnknown
}
