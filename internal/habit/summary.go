package habit

import "github.com/hitoshi/vidasana/internal/model"

// SummaryWindow は集計に使う直近の記録数。
const SummaryWindow = 7

// Summary は直近SummaryWindow件の記録の平均値。
type Summary struct {
	Days           int     `json:"days"`
	AvgSleepHours  float64 `json:"avg_sleep_hours"`
	AvgStressLevel float64 `json:"avg_stress_level"`
}

// Summarize は日付の降順に並んだ記録から直近1週間分の平均を求める。
// 記録がSummaryWindow件未満の場合と、睡眠時間を解釈できる記録がない場合はokがfalseになる。
// 睡眠時間を解釈できない記録はストレスの平均からも除外する。
func Summarize(logs []*model.HabitLog) (Summary, bool) {
	if len(logs) < SummaryWindow {
		return Summary{}, false
	}

	var sleepSum float64
	var stressSum, n int
	for _, l := range logs[:SummaryWindow] {
		hours, err := SleepHours(l.Sleep)
		if err != nil {
			continue
		}
		sleepSum += hours
		stressSum += l.Stress
		n++
	}
	if n == 0 {
		return Summary{}, false
	}
	return Summary{
		Days:           n,
		AvgSleepHours:  sleepSum / float64(n),
		AvgStressLevel: float64(stressSum) / float64(n),
	}, true
}
