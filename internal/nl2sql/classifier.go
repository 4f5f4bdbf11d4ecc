// Package nl2sql turns natural-language questions into SQL, runs it, and
// explains the results.
package nl2sql

import "strings"

// DefaultDataKeywords mark a question as one that must be answered with SQL.
var DefaultDataKeywords = []string{
	"customers", "customer", "sales", "orders", "purchase", "data",
	"revenue", "transaction", "transactions", "database", "analytics",
	"analysis", "statistics", "report", "metrics", "users", "usage",
}

// DefaultProductKeywords mark a question as being about the product catalog
// rather than stored data.
var DefaultProductKeywords = []string{
	"product", "laptop", "computer", "techpro", "ultrabook", "ecobook",
	"software", "warranty", "price", "cost", "spec", "specification",
	"techguard", "productivitysuite", "features", "compare",
}

// Classifier decides by keyword whether a question forces the SQL tool.
type Classifier struct {
	data    []string
	product []string
}

// NewClassifier returns a Classifier. Empty keyword sets fall back to the
// defaults.
func NewClassifier(data, product []string) *Classifier {
	if len(data) == 0 {
		data = DefaultDataKeywords
	}
	if len(product) == 0 {
		product = DefaultProductKeywords
	}
	return &Classifier{data: lowerAll(data), product: lowerAll(product)}
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// IsProductQuestion reports whether q is about the product catalog.
// Matching is by substring, so "products" matches "product".
func (c *Classifier) IsProductQuestion(q string) bool {
	lower := strings.ToLower(q)
	if containsAny(lower, c.product) {
		return true
	}
	return strings.Contains(lower, "tell me about") &&
		!strings.Contains(lower, "database") &&
		!strings.Contains(lower, "customer")
}

// ForceStructured reports whether the first generation attempt must insist
// on the SQL tool and escalate once if it is ignored.
func (c *Classifier) ForceStructured(q string) bool {
	return containsAny(strings.ToLower(q), c.data) && !c.IsProductQuestion(q)
}

// IsCatalogRequest reports whether q simply asks for the product overview.
func (c *Classifier) IsCatalogRequest(q string) bool {
	lower := strings.ToLower(strings.TrimSpace(q))
	return lower == "products" || lower == "tell me about your products"
}
