package push

import "regexp"

// Template is a reusable message pattern. Title and Body may contain
// {{name}} placeholders; DefaultData is merged under caller data at
// render time (caller values win).
type Template struct {
	ID          string            `json:"id" firestore:"id"`
	Title       string            `json:"title" firestore:"title"`
	Body        string            `json:"body" firestore:"body"`
	DefaultData map[string]string `json:"default_data,omitempty" firestore:"default_data,omitempty"`
	ImageURL    string            `json:"image_url,omitempty" firestore:"image_url,omitempty"`
	Sound       string            `json:"sound,omitempty" firestore:"sound,omitempty"`
	Badge       int               `json:"badge,omitempty" firestore:"badge,omitempty"`
	Actions     []Action          `json:"actions,omitempty" firestore:"actions,omitempty"`
}

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render substitutes each {{key}} occurrence with data[key]. A placeholder
// with no matching key is left literal: a missing substitution is a
// content defect, never a system failure.
func Render(pattern string, data map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(pattern, func(match string) string {
		key := match[2 : len(match)-2]
		if value, ok := data[key]; ok {
			return value
		}
		return match
	})
}
