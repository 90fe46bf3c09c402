package run

// ComputeSummary derives the dashboard aggregate from a run's items.
//
// For each metric in the run's metric list the average is taken over all
// items: an item with no score row for that metric (typically because the
// task errored) contributes 0, so failures visibly degrade the aggregate.
func ComputeSummary(r *Run, items []Item, expectedTotal int) Summary {
	s := Summary{
		TotalItems:     len(items),
		ExpectedTotal:  expectedTotal,
		MetricAverages: make(map[string]float64, len(r.Metrics)),
	}

	var latencySum int64
	var latencyCount int
	metricSums := make(map[string]float64, len(r.Metrics))

	for i := range items {
		it := &items[i]
		if it.Error != "" {
			s.ErrorItems++
		} else if it.Terminated() {
			s.CompletedItems++
		}
		if it.LatencyMS != nil {
			latencySum += *it.LatencyMS
			latencyCount++
		}
		for j := range it.Scores {
			sc := &it.Scores[j]
			if sc.ScoreNumeric != nil {
				metricSums[sc.MetricName] += *sc.ScoreNumeric
			}
		}
	}

	if terminated := s.CompletedItems + s.ErrorItems; terminated > 0 {
		s.SuccessRate = float64(s.CompletedItems) / float64(terminated)
	}
	if latencyCount > 0 {
		s.AvgLatencyMS = float64(latencySum) / float64(latencyCount)
	}
	if s.TotalItems > 0 {
		for _, m := range r.Metrics {
			s.MetricAverages[m] = metricSums[m] / float64(s.TotalItems)
		}
	}
	return s
}
