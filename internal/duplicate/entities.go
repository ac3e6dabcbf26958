// Package duplicate implements embedding-based similarity scoring between
// issues, so triage can flag likely duplicates before a human ever reads
// both.
package duplicate

import "regexp"

// Entities are the structured signals extraction pulls out of free-form
// issue text, used for Jaccard overlap alongside the semantic embedding
// score.
type Entities struct {
	ErrorCodes    []string `json:"error_codes"`
	FilePaths     []string `json:"file_paths"`
	FunctionNames []string `json:"function_names"`
	URLs          []string `json:"urls"`
	Versions      []string `json:"versions"`
	StackFrames   []string `json:"stack_frames"`
}

// maxEntitiesPerKind bounds extraction so a pathological wall-of-text issue
// body can't make entity extraction unbounded.
const maxEntitiesPerKind = 50

var (
	errorCodeRe    = regexp.MustCompile(`\b[A-Z]{2,}[-_][A-Z0-9]{2,}\b|\bE[0-9]{3,}\b`)
	filePathRe     = regexp.MustCompile(`\b[\w./-]+\.(go|ts|tsx|js|jsx|py|rb|java|rs|c|cpp|h|hpp|yaml|yml|json)\b`)
	functionNameRe = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\s*\(`)
	urlRe          = regexp.MustCompile(`https?://[^\s)]+`)
	versionRe      = regexp.MustCompile(`\bv?\d+\.\d+(\.\d+)?(-[A-Za-z0-9.]+)?\b`)
	stackFrameRe   = regexp.MustCompile(`(?m)^\s*at\s+[\w.$]+\(.*\)\s*$|(?m)^\s*File\s+"[^"]+",\s*line\s*\d+`)
)

// ExtractEntities pulls a fixed set of structured signals out of text.
// Extraction is deterministic: same input always yields the same output,
// with no network or randomness involved.
func ExtractEntities(text string) Entities {
	return Entities{
		ErrorCodes:    capMatches(errorCodeRe.FindAllString(text, -1)),
		FilePaths:     capMatches(filePathRe.FindAllString(text, -1)),
		FunctionNames: capMatches(trimParens(functionNameRe.FindAllString(text, -1))),
		URLs:          capMatches(urlRe.FindAllString(text, -1)),
		Versions:      capMatches(versionRe.FindAllString(text, -1)),
		StackFrames:   capMatches(stackFrameRe.FindAllString(text, -1)),
	}
}

func trimParens(matches []string) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m[:len(m)-1]
	}
	return out
}

func capMatches(matches []string) []string {
	if matches == nil {
		return []string{}
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
		if len(out) >= maxEntitiesPerKind {
			break
		}
	}
	return out
}

// jaccard returns the Jaccard similarity of two string sets: |intersection|
// / |union|. Two empty sets are defined as similarity 0 (nothing to
// compare), not 1.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	intersection := 0
	for v := range setA {
		if setB[v] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// EntityOverlap reports the per-kind Jaccard overlap between two entity
// sets.
type EntityOverlap struct {
	ErrorCodes    float64 `json:"error_codes"`
	FilePaths     float64 `json:"file_paths"`
	FunctionNames float64 `json:"function_names"`
	URLs          float64 `json:"urls"`
	Versions      float64 `json:"versions"`
	StackFrames   float64 `json:"stack_frames"`
}

func overlapEntities(a, b Entities) EntityOverlap {
	return EntityOverlap{
		ErrorCodes:    jaccard(a.ErrorCodes, b.ErrorCodes),
		FilePaths:     jaccard(a.FilePaths, b.FilePaths),
		FunctionNames: jaccard(a.FunctionNames, b.FunctionNames),
		URLs:          jaccard(a.URLs, b.URLs),
		Versions:      jaccard(a.Versions, b.Versions),
		StackFrames:   jaccard(a.StackFrames, b.StackFrames),
	}
}
