package risk

import (
	"testing"

	"github.com/usdanismanlik/takipus/pkg/types"
)

func expectedLevel(score int) types.RiskLevel {
	switch {
	case score >= 20:
		return types.RiskVeryHigh
	case score >= 15:
		return types.RiskHigh
	case score >= 10:
		return types.RiskMedium
	case score >= 5:
		return types.RiskLow
	default:
		return types.RiskVeryLow
	}
}

func expectedPriority(score int) types.Priority {
	switch {
	case score >= 15:
		return types.PriorityHigh
	case score >= 10:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

func TestScoreExhaustive(t *testing.T) {
	for p := 1; p <= 5; p++ {
		for s := 1; s <= 5; s++ {
			got := Score(p, s)
			if got.Score != p*s {
				t.Fatalf("score(%d,%d): expected %d, got %d", p, s, p*s, got.Score)
			}
			if got.Level != expectedLevel(p*s) {
				t.Fatalf("score(%d,%d): expected level %s, got %s", p, s, expectedLevel(p*s), got.Level)
			}
			if got.Priority != expectedPriority(p*s) {
				t.Fatalf("score(%d,%d): expected priority %s, got %s", p, s, expectedPriority(p*s), got.Priority)
			}
			if got.Probability != p || got.Severity != s {
				t.Fatalf("inputs not echoed: %+v", got)
			}
		}
	}
}

func TestScoreBoundaries(t *testing.T) {
	cases := []struct {
		p, s     int
		score    int
		level    types.RiskLevel
		priority types.Priority
		color    string
	}{
		{1, 4, 4, types.RiskVeryLow, types.PriorityLow, "#6B7280"},
		{1, 5, 5, types.RiskLow, types.PriorityLow, "#10B981"},
		{3, 3, 9, types.RiskLow, types.PriorityLow, "#10B981"},
		{2, 5, 10, types.RiskMedium, types.PriorityMedium, "#F59E0B"},
		{3, 4, 12, types.RiskMedium, types.PriorityMedium, "#F59E0B"},
		{3, 5, 15, types.RiskHigh, types.PriorityHigh, "#EA580C"},
		{4, 4, 16, types.RiskHigh, types.PriorityHigh, "#EA580C"},
		{4, 5, 20, types.RiskVeryHigh, types.PriorityHigh, "#DC2626"},
		{5, 5, 25, types.RiskVeryHigh, types.PriorityHigh, "#DC2626"},
	}
	for _, tc := range cases {
		got := Score(tc.p, tc.s)
		if got.Score != tc.score || got.Level != tc.level || got.Priority != tc.priority || got.Color != tc.color {
			t.Fatalf("score(%d,%d) mismatch: %+v", tc.p, tc.s, got)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(1, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, in := range [][2]int{{0, 3}, {6, 3}, {3, 0}, {3, 6}, {-1, -1}} {
		if err := Validate(in[0], in[1]); err == nil {
			t.Fatalf("expected error for %v", in)
		}
	}
}

func TestMatrixLayout(t *testing.T) {
	m := Matrix()
	if len(m) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(m))
	}
	for i, row := range m {
		if len(row) != 5 {
			t.Fatalf("row %d: expected 5 cells, got %d", i, len(row))
		}
		for j, cell := range row {
			if cell.Severity != 5-i || cell.Probability != j+1 {
				t.Fatalf("unexpected cell position %d,%d: %+v", i, j, cell)
			}
			if cell.Score != cell.Severity*cell.Probability {
				t.Fatalf("unexpected score: %+v", cell)
			}
		}
	}
	if m[0][4].Level != types.RiskVeryHigh || m[4][0].Level != types.RiskVeryLow {
		t.Fatalf("unexpected corners: %+v %+v", m[0][4], m[4][0])
	}
}

func TestLevelsAndScales(t *testing.T) {
	levels := Levels()
	if len(levels) != 5 || levels[0].Level != types.RiskVeryHigh || levels[4].ScoreRange != "1-4" {
		t.Fatalf("unexpected levels: %+v", levels)
	}
	if len(ProbabilityScale()) != 5 || len(SeverityScale()) != 5 {
		t.Fatalf("expected five scale steps")
	}
}
