package ratelimit

import (
	"strings"
	"time"
)

// Rule limits requests whose method and path match. Pattern is a slash
// separated path where "*" matches any single segment.
type Rule struct {
	Method  string
	Pattern string
	Limit   int // requests per Window
	Window  time.Duration
	Burst   int // defaults to Limit
}

func (r *Rule) capacity() int {
	if r.Burst > 0 {
		return r.Burst
	}
	return r.Limit
}

// SubmissionRules limits job submissions and retries, the calls that start
// LLM work. Both share the same hourly budget shape but separate buckets.
func SubmissionRules(perHour, burst int) []Rule {
	return []Rule{
		{Method: "POST", Pattern: "/jobs/*", Limit: perHour, Window: time.Hour, Burst: burst},
		{Method: "POST", Pattern: "/jobs/*/retry", Limit: perHour, Window: time.Hour, Burst: burst},
	}
}

// Match returns the first rule matching the request, or nil
func Match(method, path string, rules []Rule) *Rule {
	segments := splitPath(path)
	for i := range rules {
		r := &rules[i]
		if r.Method == method && matchSegments(splitPath(r.Pattern), segments) {
			return r
		}
	}
	return nil
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != path[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
