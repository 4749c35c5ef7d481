// Package intent recognises questions that ask for a picture so they can be
// answered without a model round trip.
package intent

import (
	"strings"
	"unicode/utf8"
)

// Rule matches queries containing Trigger and extracts the picture
// description from them.
type Rule struct {
	Name    string
	Trigger string
	// Extract returns the raw description; nil keeps the whole query.
	Extract func(query string) string
}

func (r Rule) matches(query string) bool {
	return r.Trigger != "" && strings.Contains(query, r.Trigger)
}

type Match struct {
	Rule   string
	Prompt string
}

// Router checks rules strictly in order; the first rule whose trigger occurs
// in the query wins.
type Router struct {
	rules []Rule
}

func NewRouter(rules ...Rule) *Router {
	return &Router{rules: append([]Rule(nil), rules...)}
}

// DefaultRules are the picture phrases the assistant understands, highest
// priority first.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "draw-animal", Trigger: "画一只", Extract: After("画一只")},
		{Name: "draw-object", Trigger: "画一个", Extract: After("画一个")},
		{Name: "generate-colon", Trigger: "生成图像", Extract: afterColon},
		{Name: "make-picture", Trigger: "制作图片"},
	}
}

// Route reports whether query is a picture request. The prompt is the
// trimmed extraction, or the trimmed query when nothing is left.
func (r *Router) Route(query string) (Match, bool) {
	for _, rule := range r.rules {
		if !rule.matches(query) {
			continue
		}
		prompt := query
		if rule.Extract != nil {
			prompt = rule.Extract(query)
		}
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			prompt = strings.TrimSpace(query)
		}
		return Match{Rule: rule.Name, Prompt: prompt}, true
	}
	return Match{}, false
}

func (r *Router) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// After takes the text following the last occurrence of sep.
func After(sep string) func(string) string {
	return func(query string) string {
		idx := strings.LastIndex(query, sep)
		if idx < 0 {
			return query
		}
		return query[idx+len(sep):]
	}
}

// afterColon handles both "生成图像: 海边日落" and "生成图像海边日落".
func afterColon(query string) string {
	idx := strings.LastIndexAny(query, ":：")
	if idx >= 0 {
		_, size := utf8.DecodeRuneInString(query[idx:])
		return query[idx+size:]
	}
	return strings.ReplaceAll(query, "生成图像", "")
}
