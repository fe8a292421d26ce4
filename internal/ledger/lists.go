package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/usdanismanlik/takipus/pkg/types"
)

// NormalizeReminderDays validates reminder offsets and returns them unique and
// in descending order. A nil input stays nil.
func NormalizeReminderDays(days []int) ([]int, error) {
	if days == nil {
		return nil, nil
	}
	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 {
			return nil, fmt.Errorf("reminder day offset must be non-negative, got %d", d)
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out, nil
}

// NormalizeEvidence trims entries and drops blanks.
func NormalizeEvidence(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// DateOnly truncates t to its calendar date at UTC midnight.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EncodeIntList renders reminder offsets as JSON text for SQLite. nil stays NULL.
func EncodeIntList(days []int) (*string, error) {
	if days == nil {
		return nil, nil
	}
	raw, err := json.Marshal(days)
	if err != nil {
		return nil, err
	}
	s := string(raw)
	return &s, nil
}

func DecodeIntList(raw *string) ([]int, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var out []int
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil, fmt.Errorf("decode int list: %w", err)
	}
	return NormalizeReminderDays(out)
}

func EncodeStringList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func DecodeStringList(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func statusAllowed(statuses []types.ActionStatus, s types.ActionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if want == s {
			return true
		}
	}
	return false
}

// Matches applies f to a single action; the in-memory store and tests use it.
func (f ActionFilter) Matches(a types.Action) bool {
	if !statusAllowed(f.Statuses, a.Status) {
		return false
	}
	if f.AssignedTo != nil && (a.AssignedToUserID == nil || *a.AssignedToUserID != *f.AssignedTo) {
		return false
	}
	if f.CreatedBy != nil && a.CreatedBy != *f.CreatedBy {
		return false
	}
	if f.DueBefore != nil && (a.DueDate == nil || !a.DueDate.Before(*f.DueBefore)) {
		return false
	}
	if f.DueOnOrAfter != nil && (a.DueDate == nil || a.DueDate.Before(*f.DueOnOrAfter)) {
		return false
	}
	if f.IsOverdue != nil && a.IsOverdue != *f.IsOverdue {
		return false
	}
	return true
}
