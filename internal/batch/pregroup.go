package batch

import (
	"strconv"
	"strings"
)

// Issue is the minimal shape the batch engine needs from an issue.
type Issue struct {
	Number int
	Title  string
	Body   string
	Labels []string
}

// labelBuckets is the fixed set of recognized labels, each naming its own
// bucket. Matching is by priority: when an issue carries several recognized
// labels, the one listed first here wins, whatever order the issue lists
// them in.
var labelBuckets = []string{"bug", "documentation", "performance", "security", "ui", "testing", "dependencies"}

// keywordBuckets is the fallback when no label matches: a fixed set of
// keywords scanned against title+body.
var keywordBuckets = map[string][]string{
	"bug":           {"crash", "error", "exception", "broken", "fails", "failure"},
	"documentation": {"docs", "documentation", "readme", "typo"},
	"performance":   {"slow", "latency", "timeout", "performance"},
	"security":      {"vulnerability", "cve", "security", "auth bypass"},
	"ui":            {"button", "layout", "style", "color", "ui "},
	"testing":       {"flaky", "test fails", "coverage"},
}

// Pregroup assigns each issue to a bucket name in O(n): label match first,
// keyword match second, otherwise a unique singleton bucket keyed by issue
// number so it becomes its own single-item batch.
func Pregroup(issues []Issue) map[string][]Issue {
	buckets := make(map[string][]Issue)
	for _, issue := range issues {
		bucket, ok := bucketForLabels(issue.Labels)
		if !ok {
			bucket, ok = bucketForKeywords(issue.Title + " " + issue.Body)
		}
		if !ok {
			bucket = singletonBucketName(issue.Number)
		}
		buckets[bucket] = append(buckets[bucket], issue)
	}
	return buckets
}

func bucketForLabels(labels []string) (string, bool) {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[strings.ToLower(l)] = true
	}
	for _, b := range labelBuckets {
		if set[b] {
			return b, true
		}
	}
	return "", false
}

func bucketForKeywords(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, bucket := range labelBuckets {
		for _, kw := range keywordBuckets[bucket] {
			if strings.Contains(lower, kw) {
				return bucket, true
			}
		}
	}
	return "", false
}

func singletonBucketName(issueNumber int) string {
	return "singleton-" + strconv.Itoa(issueNumber)
}
