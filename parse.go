package main

import (
	"strconv"
	"strings"

	"seatplan/solver"
)

// parseNumSet parses a comma-separated list of integers as entered on the
// restriction form. Blank input means unrestricted (nil); so does input with
// any unparsable entry, mirroring how a teacher-facing form treats a typo as
// "leave this student free" rather than rejecting the whole sheet.
func parseNumSet(value string) []int {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	var nums []int
	seen := map[int]bool{}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil
		}
		if !seen[n] {
			seen[n] = true
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return nil
	}
	return nums
}

// defaultCount resolves the export request's layout count. Zero means the
// caller left it out and gets the dashboard default of 5; anything else must
// fall in 1..20.
func defaultCount(n int) (int, bool) {
	if n == 0 {
		return 5, true
	}
	if n < 1 || n > 20 {
		return 0, false
	}
	return n, true
}

// countDroppedRules reports how many stored rules the solver will ignore:
// self-pairs and rules naming a student no longer on the roster. The rules
// themselves still go to BuildConstraints, which applies the same filter;
// the count only feeds a dashboard warning.
func countDroppedRules(rules []solver.PairRule, roster map[int]bool) int {
	dropped := 0
	for _, r := range rules {
		if r.StudentA == r.StudentB || !roster[r.StudentA] || !roster[r.StudentB] {
			dropped++
		}
	}
	return dropped
}

func gridExtent(seats []solver.Seat) (maxRow, maxCol int) {
	for _, s := range seats {
		maxRow = max(maxRow, s.Row)
		maxCol = max(maxCol, s.Col)
	}
	return maxRow, maxCol
}

// renderGrid lays one assignment out as rows of cell labels, "number name"
// where a student sits and "" for empty cells or gaps in the layout.
func renderGrid(layout solver.Assignment, seats []solver.Seat, names map[int]string) [][]string {
	maxRow, maxCol := gridExtent(seats)
	cells := make([][]string, maxRow)
	for i := range cells {
		cells[i] = make([]string, maxCol)
	}

	seatByID := make(map[int]solver.Seat, len(seats))
	for _, s := range seats {
		seatByID[s.ID] = s
	}

	for sid, seatID := range layout {
		seat, ok := seatByID[seatID]
		if !ok {
			continue
		}
		label := strconv.Itoa(sid)
		if name := names[sid]; name != "" {
			label += " " + name
		}
		cells[seat.Row-1][seat.Col-1] = label
	}
	return cells
}
