// Package risk は診療履歴から臨床リスクスコアを算出する。
// ScoreRiskは純粋関数で、同じ履歴に対して常に同じ結果を返す。
package risk

import (
	"strings"

	"github.com/hitoshi/vidasana/internal/model"
)

// Level はリスクレベルを表す。
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

const (
	// MaxScore はスコアの上限。
	MaxScore = 10
	// HighThreshold 以上のスコアはHIGH。
	HighThreshold = 7
	// MediumThreshold 以上のスコアはMEDIUM。
	MediumThreshold = 4
)

// Concept は診断名に含まれるリスク要因とその重み。
// Aliasesのいずれかが部分一致すれば1回だけ加点する。
type Concept struct {
	Name    string
	Aliases []string // 正規化済み（小文字・発音区別符号なし）
	Weight  int
}

// Concepts はリスク要因の固定テーブル。英語とスペイン語の表記を受け付ける。
var Concepts = []Concept{
	{Name: "hypertension", Aliases: []string{"hypertension", "hipertension"}, Weight: 2},
	{Name: "diabetes", Aliases: []string{"diabetes"}, Weight: 3},
	{Name: "obesity", Aliases: []string{"obesity", "obesidad"}, Weight: 2},
	{Name: "cardiac", Aliases: []string{"cardiac", "cardio"}, Weight: 2},
	{Name: "cancer", Aliases: []string{"cancer"}, Weight: 3},
	{Name: "high fever", Aliases: []string{"high fever", "fiebre alta"}, Weight: 1},
	{Name: "breathing difficulty", Aliases: []string{"breathing difficulty", "difficulty breathing", "dificultad respirar", "dificultad para respirar"}, Weight: 2},
	{Name: "angina", Aliases: []string{"angina"}, Weight: 1},
}

// Result はリスク評価の結果。
type Result struct {
	Score int
	Level Level
	// Alert はHIGHのとき真。通知の送信は呼び出し側が行う。
	Alert bool
	// Matched は加点した要因名（履歴の出現順、重複あり）。
	Matched []string
}

// ScoreRisk は履歴の全エントリについて一致した要因の重みを合計し、MaxScoreで打ち切る。
// 1つの診断名が複数の要因に一致した場合はすべて加点する。
func ScoreRisk(history []model.HistoryEntry) Result {
	score := 0
	var matched []string
	for _, entry := range history {
		diag := Normalize(entry.Diagnosis)
		if diag == "" {
			continue
		}
		for _, c := range Concepts {
			if matchesAny(diag, c.Aliases) {
				score += c.Weight
				matched = append(matched, c.Name)
			}
		}
	}
	if score > MaxScore {
		score = MaxScore
	}

	level := Classify(score)
	return Result{
		Score:   score,
		Level:   level,
		Alert:   level == LevelHigh,
		Matched: matched,
	}
}

// Classify はスコアをレベルに分類する。
func Classify(score int) Level {
	switch {
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func matchesAny(text string, aliases []string) bool {
	for _, a := range aliases {
		if strings.Contains(text, a) {
			return true
		}
	}
	return false
}
