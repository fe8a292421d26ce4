package risk

import (
	"fmt"

	"github.com/usdanismanlik/takipus/pkg/types"
)

const (
	MinInput = 1
	MaxInput = 5

	// DefaultInput is used when an action is created without probability or severity.
	DefaultInput = 3
)

type Assessment struct {
	Probability int             `json:"probability"`
	Severity    int             `json:"severity"`
	Score       int             `json:"score"`
	Level       types.RiskLevel `json:"level"`
	Priority    types.Priority  `json:"priority"`
	Color       string          `json:"color"`
}

type band struct {
	minScore int
	level    types.RiskLevel
	color    string
	label    string
	guidance string
	rng      string
}

// Ordered from the highest threshold down; the first band whose minScore is met wins.
var bands = []band{
	{20, types.RiskVeryHigh, "#DC2626", "Very high risk", "Stop the work; act immediately.", "20-25"},
	{15, types.RiskHigh, "#EA580C", "High risk", "Act within 24 hours.", "15-19"},
	{10, types.RiskMedium, "#F59E0B", "Medium risk", "Plan an intervention within a week.", "10-14"},
	{5, types.RiskLow, "#10B981", "Low risk", "Monitor; act within a month.", "5-9"},
	{0, types.RiskVeryLow, "#6B7280", "Very low risk", "Acceptable; routine control is enough.", "1-4"},
}

var table = buildTable()

func buildTable() [MaxInput][MaxInput]Assessment {
	var t [MaxInput][MaxInput]Assessment
	for p := MinInput; p <= MaxInput; p++ {
		for s := MinInput; s <= MaxInput; s++ {
			t[p-1][s-1] = compute(p, s)
		}
	}
	return t
}

func compute(probability, severity int) Assessment {
	score := probability * severity
	b := bandFor(score)
	return Assessment{
		Probability: probability,
		Severity:    severity,
		Score:       score,
		Level:       b.level,
		Priority:    priorityFor(score),
		Color:       b.color,
	}
}

func bandFor(score int) band {
	for _, b := range bands {
		if score >= b.minScore {
			return b
		}
	}
	return bands[len(bands)-1]
}

func priorityFor(score int) types.Priority {
	switch {
	case score >= 15:
		return types.PriorityHigh
	case score >= 10:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

// Validate checks that both inputs lie on the 1-5 scale.
func Validate(probability, severity int) error {
	if probability < MinInput || probability > MaxInput {
		return fmt.Errorf("risk_probability must be between %d and %d", MinInput, MaxInput)
	}
	if severity < MinInput || severity > MaxInput {
		return fmt.Errorf("risk_severity must be between %d and %d", MinInput, MaxInput)
	}
	return nil
}

// Score maps (probability, severity) to the derived risk fields.
// Inputs outside 1-5 are computed directly rather than read from the table;
// callers are expected to Validate first.
func Score(probability, severity int) Assessment {
	if Validate(probability, severity) != nil {
		return compute(probability, severity)
	}
	return table[probability-1][severity-1]
}

type Cell struct {
	Probability int             `json:"probability"`
	Severity    int             `json:"severity"`
	Score       int             `json:"score"`
	Level       types.RiskLevel `json:"level"`
	Color       string          `json:"color"`
}

// Matrix renders the 5x5 grid with severity rows from 5 down to 1 and
// probability columns from 1 up to 5.
func Matrix() [][]Cell {
	rows := make([][]Cell, 0, MaxInput)
	for s := MaxInput; s >= MinInput; s-- {
		row := make([]Cell, 0, MaxInput)
		for p := MinInput; p <= MaxInput; p++ {
			a := Score(p, s)
			row = append(row, Cell{Probability: p, Severity: s, Score: a.Score, Level: a.Level, Color: a.Color})
		}
		rows = append(rows, row)
	}
	return rows
}

type LevelDescription struct {
	Level      types.RiskLevel `json:"level"`
	Label      string          `json:"label"`
	Guidance   string          `json:"guidance"`
	Color      string          `json:"color"`
	ScoreRange string          `json:"score_range"`
}

func Levels() []LevelDescription {
	out := make([]LevelDescription, 0, len(bands))
	for _, b := range bands {
		out = append(out, LevelDescription{Level: b.level, Label: b.label, Guidance: b.guidance, Color: b.color, ScoreRange: b.rng})
	}
	return out
}

type ScaleStep struct {
	Value       int    `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

func ProbabilityScale() []ScaleStep {
	return []ScaleStep{
		{1, "Very rare", "Once a year or less"},
		{2, "Rare", "A few times a year"},
		{3, "Possible", "A few times a month"},
		{4, "Likely", "A few times a week"},
		{5, "Very likely", "Daily or continuous"},
	}
}

func SeverityScale() []ScaleStep {
	return []ScaleStep{
		{1, "Negligible", "No first aid needed"},
		{2, "Minor", "First aid needed"},
		{3, "Moderate", "Medical treatment needed"},
		{4, "Serious", "Permanent damage, lost work time"},
		{5, "Fatal", "Death or permanent disability"},
	}
}
