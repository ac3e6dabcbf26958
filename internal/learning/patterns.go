package learning

// DefaultPatternThreshold is the minimum sample size before a pattern is
// reported, per §4.13.
const DefaultPatternThreshold = 20

// Pattern is an aggregated accuracy signal for one dimension value (a file
// type, a category, or a change-size bucket).
type Pattern struct {
	Dimension string  `json:"dimension"`
	Value     string  `json:"value"`
	Total     int     `json:"total"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`
}

// DetectPatterns aggregates resolved outcomes by file type, category, and
// change-size bucket, emitting a Pattern only when its sample size meets
// threshold (DefaultPatternThreshold if zero).
func DetectPatterns(outcomes []Outcome, threshold int) []Pattern {
	if threshold <= 0 {
		threshold = DefaultPatternThreshold
	}

	byFileType := map[string]*aggregate{}
	byCategory := map[string]*aggregate{}
	byChangeSize := map[string]*aggregate{}

	for _, o := range outcomes {
		if o.IsPending() {
			continue
		}
		correct := o.WasCorrect != nil && *o.WasCorrect

		for _, ft := range o.FileTypes {
			addSample(byFileType, ft, correct)
		}
		for _, cat := range o.Categories {
			addSample(byCategory, cat, correct)
		}
		addSample(byChangeSize, changeSizeBucket(o.ChangeSize), correct)
	}

	var patterns []Pattern
	patterns = append(patterns, collect("file_type", byFileType, threshold)...)
	patterns = append(patterns, collect("category", byCategory, threshold)...)
	patterns = append(patterns, collect("change_size", byChangeSize, threshold)...)
	return patterns
}

type aggregate struct {
	total, correct int
}

func addSample(m map[string]*aggregate, key string, correct bool) {
	if key == "" {
		return
	}
	a, ok := m[key]
	if !ok {
		a = &aggregate{}
		m[key] = a
	}
	a.total++
	if correct {
		a.correct++
	}
}

func collect(dimension string, m map[string]*aggregate, threshold int) []Pattern {
	var out []Pattern
	for value, a := range m {
		if a.total < threshold {
			continue
		}
		out = append(out, Pattern{
			Dimension: dimension,
			Value:     value,
			Total:     a.total,
			Correct:   a.correct,
			Accuracy:  float64(a.correct) / float64(a.total),
		})
	}
	return out
}

func changeSizeBucket(lines int) string {
	switch {
	case lines <= 0:
		return ""
	case lines < 10:
		return "tiny"
	case lines < 50:
		return "small"
	case lines < 200:
		return "medium"
	default:
		return "large"
	}
}
