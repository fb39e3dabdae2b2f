package timetable

import (
	"fmt"
	"sort"
	"strings"
)

// Conflict rules
const (
	RuleTeacher = "teacher" // a teacher cannot be in two places at once
	RuleClass   = "class"   // a class cannot attend two lessons at once
	RuleRoom    = "room"    // a room cannot host two lessons at once
)

type Conflict struct {
	Rule   string `json:"rule"`
	Period Period `json:"period"`
}

// ConflictError is returned when a period cannot be scheduled.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		c := e.Conflicts[0]
		return fmt.Sprintf("period conflicts with %s (%s %s)", c.Period.ID, c.Rule, c.Period.Span())
	}
	return fmt.Sprintf("period conflicts with %d existing periods", len(e.Conflicts))
}

// FindConflicts returns the periods of existing the candidate cannot coexist with, one Conflict per broken rule.
// Only periods on the candidate's weekday whose span overlaps the candidate's are considered;
// the candidate itself (same ID) is skipped so that updates do not conflict with their previous version.
// Conflicts are ordered by start time, then period ID, then rule.
func FindConflicts(candidate Period, existing []Period) []Conflict {
	var conflicts []Conflict
	room := normalizeRoom(candidate.Room)

	for _, p := range existing {
		if candidate.ID != "" && p.ID == candidate.ID {
			continue
		}
		if p.Weekday != candidate.Weekday || !p.Span().Overlaps(candidate.Span()) {
			continue
		}
		if p.TeacherID == candidate.TeacherID {
			conflicts = append(conflicts, Conflict{Rule: RuleTeacher, Period: p})
		}
		if p.TimetableID == candidate.TimetableID {
			conflicts = append(conflicts, Conflict{Rule: RuleClass, Period: p})
		}
		if room != "" && normalizeRoom(p.Room) == room {
			conflicts = append(conflicts, Conflict{Rule: RuleRoom, Period: p})
		}
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		a, b := conflicts[i].Period, conflicts[j].Period
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return conflicts[i].Rule < conflicts[j].Rule
	})
	return conflicts
}

func normalizeRoom(room string) string {
	return strings.ToLower(strings.TrimSpace(room))
}
