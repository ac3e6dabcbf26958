package learning

import "time"

// AccuracyQuery filters outcomes before aggregation.
type AccuracyQuery struct {
	Repo           string
	Since          time.Time
	Until          time.Time
	PredictionType PredictionType // zero value matches every type
}

// AccuracyReport summarizes prediction accuracy for a query.
type AccuracyReport struct {
	Total              int                          `json:"total"`
	Correct            int                          `json:"correct"`
	Incorrect          int                          `json:"incorrect"`
	Pending            int                          `json:"pending"`
	ByType             map[PredictionType]TypeStats `json:"by_type"`
	AverageTimeToMerge *time.Duration                `json:"average_time_to_merge,omitempty"`
}

// TypeStats is the per-prediction-type breakdown within an AccuracyReport.
type TypeStats struct {
	Total     int `json:"total"`
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
	Pending   int `json:"pending"`
}

// Accuracy aggregates outcomes matching q.
func Accuracy(outcomes []Outcome, q AccuracyQuery) AccuracyReport {
	report := AccuracyReport{ByType: map[PredictionType]TypeStats{}}
	var mergeTimes []time.Duration

	for _, o := range outcomes {
		if !matches(o, q) {
			continue
		}
		report.Total++
		stats := report.ByType[o.PredictionType]
		stats.Total++

		switch {
		case o.IsPending():
			report.Pending++
			stats.Pending++
		case o.WasCorrect != nil && *o.WasCorrect:
			report.Correct++
			stats.Correct++
		default:
			report.Incorrect++
			stats.Incorrect++
		}
		report.ByType[o.PredictionType] = stats

		if o.ActualOutcome != nil && *o.ActualOutcome == OutcomeMerged && o.TimeToOutcome != nil {
			mergeTimes = append(mergeTimes, *o.TimeToOutcome)
		}
	}

	if len(mergeTimes) > 0 {
		var sum time.Duration
		for _, d := range mergeTimes {
			sum += d
		}
		avg := sum / time.Duration(len(mergeTimes))
		report.AverageTimeToMerge = &avg
	}
	return report
}

func matches(o Outcome, q AccuracyQuery) bool {
	if q.Repo != "" && o.Repo != q.Repo {
		return false
	}
	if q.PredictionType != "" && o.PredictionType != q.PredictionType {
		return false
	}
	if !q.Since.IsZero() && o.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && o.CreatedAt.After(q.Until) {
		return false
	}
	return true
}
