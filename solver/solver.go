package solver

import (
	"math/rand"
	"slices"
	"strconv"
	"strings"
)

type Seat struct {
	ID  int
	Row int
	Col int
}

type PairRule struct {
	StudentA int
	StudentB int
	Kind     string
}

// Constraint holds one student's placement limits. A nil AllowedRows or
// AllowedCols means unrestricted; an empty set means no seat qualifies.
type Constraint struct {
	AllowedRows   map[int]bool
	AllowedCols   map[int]bool
	AdjacentTo    map[int]bool
	NotAdjacentTo map[int]bool
}

// Adjacency maps seat id to neighboring seat ids. LR is same-row,
// column-distance-1; Box is the 8-neighborhood. Both are symmetric,
// irreflexive, built once per layout and read-only afterwards.
type Adjacency struct {
	LR  map[int]map[int]bool
	Box map[int]map[int]bool
}

type Assignment map[int]int

// maxSolveSteps caps placement attempts within one Solve call so a
// pathological rule set fails the trial instead of hanging the caller.
// A variable so tests can lower it.
var maxSolveSteps = 1_000_000

// DefaultSeats is the stock classroom layout: a 6x6 grid plus one extra
// seat behind column 2, 37 seats in total.
func DefaultSeats() []Seat {
	var seats []Seat
	id := 1
	for r := 1; r <= 6; r++ {
		for c := 1; c <= 6; c++ {
			seats = append(seats, Seat{ID: id, Row: r, Col: c})
			id++
		}
	}
	seats = append(seats, Seat{ID: id, Row: 7, Col: 2})
	return seats
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func BuildAdjacency(seats []Seat) *Adjacency {
	adj := &Adjacency{
		LR:  make(map[int]map[int]bool, len(seats)),
		Box: make(map[int]map[int]bool, len(seats)),
	}
	for _, s := range seats {
		adj.LR[s.ID] = map[int]bool{}
		adj.Box[s.ID] = map[int]bool{}
	}
	for _, s1 := range seats {
		for _, s2 := range seats {
			if s1.ID == s2.ID {
				continue
			}
			dr := abs(s1.Row - s2.Row)
			dc := abs(s1.Col - s2.Col)
			if dr == 0 && dc == 1 {
				adj.LR[s1.ID][s2.ID] = true
			}
			if dr <= 1 && dc <= 1 {
				adj.Box[s1.ID][s2.ID] = true
			}
		}
	}
	return adj
}

// BuildConstraints assembles the per-student constraint set. Row and column
// restrictions apply only to students present in the respective map with a
// non-nil slice. Pair rules become symmetric entries on both students; rules
// that self-pair, carry an unknown kind, or name a student outside the
// roster are dropped.
func BuildConstraints(students []int, allowedRows, allowedCols map[int][]int, rules []PairRule) map[int]*Constraint {
	byID := make(map[int]*Constraint, len(students))
	for _, sid := range students {
		c := &Constraint{
			AdjacentTo:    map[int]bool{},
			NotAdjacentTo: map[int]bool{},
		}
		if rows, ok := allowedRows[sid]; ok && rows != nil {
			c.AllowedRows = toSet(rows)
		}
		if cols, ok := allowedCols[sid]; ok && cols != nil {
			c.AllowedCols = toSet(cols)
		}
		byID[sid] = c
	}
	for _, r := range rules {
		if r.StudentA == r.StudentB {
			continue
		}
		a, okA := byID[r.StudentA]
		b, okB := byID[r.StudentB]
		if !okA || !okB {
			continue
		}
		switch r.Kind {
		case "adjacent":
			a.AdjacentTo[r.StudentB] = true
			b.AdjacentTo[r.StudentA] = true
		case "not_adjacent":
			a.NotAdjacentTo[r.StudentB] = true
			b.NotAdjacentTo[r.StudentA] = true
		}
	}
	return byID
}

func toSet(vals []int) map[int]bool {
	set := make(map[int]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}

func seatAllowed(seat Seat, c *Constraint) bool {
	if c == nil {
		return true
	}
	if c.AllowedRows != nil && !c.AllowedRows[seat.Row] {
		return false
	}
	if c.AllowedCols != nil && !c.AllowedCols[seat.Col] {
		return false
	}
	return true
}

// PlacementLegal reports whether seating studentID at seatID keeps the
// partial assignment valid. Must-adjacent is always judged on the LR
// relation; must-not-adjacent uses Box when strict, LR when relaxed. The
// check covers the student's own rules plus rules already-placed students
// declared about this student, and never mutates assigned.
func PlacementLegal(assigned Assignment, studentID, seatID int, seatByID map[int]Seat, constraints map[int]*Constraint, adj *Adjacency, strict bool) bool {
	c := constraints[studentID]
	if !seatAllowed(seatByID[seatID], c) {
		return false
	}

	if c != nil {
		for other := range c.AdjacentTo {
			if otherSeat, ok := assigned[other]; ok && !adj.LR[seatID][otherSeat] {
				return false
			}
		}
		for other := range c.NotAdjacentTo {
			otherSeat, ok := assigned[other]
			if !ok {
				continue
			}
			if strict {
				if adj.Box[seatID][otherSeat] {
					return false
				}
			} else if adj.LR[seatID][otherSeat] {
				return false
			}
		}
	}

	for other, otherSeat := range assigned {
		oc := constraints[other]
		if oc == nil {
			continue
		}
		if oc.AdjacentTo[studentID] && !adj.LR[seatID][otherSeat] {
			return false
		}
		if oc.NotAdjacentTo[studentID] {
			if strict {
				if adj.Box[otherSeat][seatID] {
					return false
				}
			} else if adj.LR[otherSeat][seatID] {
				return false
			}
		}
	}

	return true
}

func constraintScore(c *Constraint) int {
	if c == nil {
		return 0
	}
	score := 0
	if c.AllowedRows != nil {
		score += 2
	}
	if c.AllowedCols != nil {
		score += 2
	}
	score += 3 * len(c.AdjacentTo)
	score += 3 * len(c.NotAdjacentTo)
	return score
}

// Solve searches for one full assignment by depth-first backtracking.
// Students are placed most-constrained-first; the sort is stable, so the
// caller's input order is the tie break among equal scores. Candidate seats
// are shuffled at every step to diversify which valid solution is found.
// Returns false when this randomized trial finds no legal full assignment.
func Solve(students []int, seats []Seat, constraints map[int]*Constraint, adj *Adjacency, strict bool, rng *rand.Rand) (Assignment, bool) {
	order := slices.Clone(students)
	slices.SortStableFunc(order, func(a, b int) int {
		return constraintScore(constraints[b]) - constraintScore(constraints[a])
	})

	seatByID := make(map[int]Seat, len(seats))
	for _, s := range seats {
		seatByID[s.ID] = s
	}

	assigned := Assignment{}
	used := make(map[int]bool, len(seats))
	steps := 0

	var place func(idx int) bool
	place = func(idx int) bool {
		if idx == len(order) {
			return true
		}
		sid := order[idx]
		c := constraints[sid]

		var candidates []int
		for _, seat := range seats {
			if used[seat.ID] || !seatAllowed(seat, c) {
				continue
			}
			candidates = append(candidates, seat.ID)
		}
		rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})

		for _, seatID := range candidates {
			steps++
			if steps > maxSolveSteps {
				return false
			}
			if !PlacementLegal(assigned, sid, seatID, seatByID, constraints, adj, strict) {
				continue
			}
			assigned[sid] = seatID
			used[seatID] = true
			if place(idx + 1) {
				return true
			}
			delete(assigned, sid)
			used[seatID] = false
		}
		return false
	}

	if !place(0) {
		return nil, false
	}
	return assigned, true
}

func canonicalKey(a Assignment) string {
	ids := make([]int, 0, len(a))
	for sid := range a {
		ids = append(ids, sid)
	}
	slices.Sort(ids)
	var buf strings.Builder
	for _, sid := range ids {
		buf.WriteString(strconv.Itoa(sid))
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(a[sid]))
		buf.WriteByte(';')
	}
	return buf.String()
}

// GenerateDistinct collects up to count distinct assignments within a budget
// of count*30 solver attempts. Each attempt reshuffles the student order so
// equal-score students sort differently, then runs Solve once. Duplicates
// under canonical comparison are discarded but still spend budget. The
// result may hold fewer than count entries; strictness never changes
// mid-run.
func GenerateDistinct(count int, students []int, seats []Seat, constraints map[int]*Constraint, adj *Adjacency, strict bool, rng *rand.Rand) []Assignment {
	layouts, _ := GenerateWithBudget(count, count*30, students, seats, constraints, adj, strict, rng)
	return layouts
}

// GenerateWithBudget is GenerateDistinct with an explicit attempt budget. It
// also reports how many attempts were spent, which is what the tuning tool
// reads when sizing budgets.
func GenerateWithBudget(count, maxAttempts int, students []int, seats []Seat, constraints map[int]*Constraint, adj *Adjacency, strict bool, rng *rand.Rand) ([]Assignment, int) {
	var layouts []Assignment
	seen := map[string]bool{}
	order := slices.Clone(students)

	attempts := 0
	for ; attempts < maxAttempts && len(layouts) < count; attempts++ {
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
		result, ok := Solve(order, seats, constraints, adj, strict, rng)
		if !ok {
			continue
		}
		key := canonicalKey(result)
		if seen[key] {
			continue
		}
		seen[key] = true
		layouts = append(layouts, result)
	}
	return layouts, attempts
}
