package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"seatplan/solver"
)

type seatData struct {
	Number int `json:"number"`
	Row    int `json:"row"`
	Col    int `json:"col"`
}

type studentData struct {
	Number      int    `json:"number"`
	Name        string `json:"name"`
	AllowedRows []int  `json:"allowed_rows"`
	AllowedCols []int  `json:"allowed_cols"`
}

type ruleData struct {
	StudentA int    `json:"student_a"`
	StudentB int    `json:"student_b"`
	Kind     string `json:"kind"`
}

type runResult struct {
	yield    int
	relaxed  bool
	attempts int
	layouts  []solver.Assignment
	elapsed  time.Duration
}

func layoutKey(a solver.Assignment) string {
	ids := make([]int, 0, len(a))
	for sid := range a {
		ids = append(ids, sid)
	}
	sort.Ints(ids)
	var buf strings.Builder
	for _, sid := range ids {
		buf.WriteString(strconv.Itoa(sid))
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(a[sid]))
		buf.WriteByte(';')
	}
	return buf.String()
}

func printStats(label string, results []runResult, runs int) {
	yields := map[int]int{}
	uniqueLayouts := map[string]int{}
	relaxedRuns := 0
	totalAttempts := 0
	var totalTime time.Duration

	for _, r := range results {
		totalTime += r.elapsed
		totalAttempts += r.attempts
		yields[r.yield]++
		if r.relaxed {
			relaxedRuns++
		}
		for _, layout := range r.layouts {
			uniqueLayouts[layoutKey(layout)]++
		}
	}

	fmt.Printf("--- %s ---\n", label)
	fmt.Printf("  avg time: %v\n", totalTime/time.Duration(runs))
	fmt.Printf("  avg attempts: %.1f (total %d)\n", float64(totalAttempts)/float64(runs), totalAttempts)

	var yieldList []struct {
		yield int
		count int
	}
	for y, c := range yields {
		yieldList = append(yieldList, struct {
			yield int
			count int
		}{y, c})
	}
	sort.Slice(yieldList, func(i, j int) bool { return yieldList[i].yield > yieldList[j].yield })

	fmt.Printf("  yield distribution:\n")
	for _, y := range yieldList {
		fmt.Printf("    %d distinct: %d/%d runs (%.0f%%)\n", y.yield, y.count, runs, float64(y.count)/float64(runs)*100)
	}
	fmt.Printf("  relaxed fallback used: %d/%d runs\n", relaxedRuns, runs)
	fmt.Printf("  unique layouts across runs: %d\n", len(uniqueLayouts))
	fmt.Println()
}

func main() {
	dir := flag.String("dir", "tmp", "directory with seats/students/rules JSON files")
	runs := flag.Int("runs", 20, "number of generation runs per count")
	counts := flag.String("counts", "5", "comma-separated layout counts to request")
	budgetMults := flag.String("budget-mult", "30", "comma-separated attempt budget multipliers (budget = count x mult)")
	mode := flag.String("mode", "fallback", "strictness: strict, relaxed, fallback")
	seed := flag.Int64("seed", 31337, "base rng seed; run r uses seed+r")
	flag.Parse()

	seats := loadSeats(*dir + "/seats")
	students, allowedRows, allowedCols := loadStudents(*dir + "/students")
	rules := loadRules(*dir + "/rules")

	constraints := solver.BuildConstraints(students, allowedRows, allowedCols, rules)
	adj := solver.BuildAdjacency(seats)

	ruleCount := 0
	restricted := 0
	for _, c := range constraints {
		ruleCount += len(c.AdjacentTo) + len(c.NotAdjacentTo)
		if c.AllowedRows != nil || c.AllowedCols != nil {
			restricted++
		}
	}
	fmt.Printf("Seats: %d, Students: %d (%d restricted), Pair rule entries: %d\n", len(seats), len(students), restricted, ruleCount)
	fmt.Printf("Mode: %s, Runs per count: %d\n\n", *mode, *runs)

	for _, count := range parseIntList(*counts) {
		for _, mult := range parseIntList(*budgetMults) {
			budget := count * mult
			var results []runResult
			for run := range *runs {
				rng := rand.New(rand.NewSource(*seed + int64(run)))
				start := time.Now()

				var layouts []solver.Assignment
				attempts := 0
				relaxed := false
				switch *mode {
				case "strict":
					layouts, attempts = solver.GenerateWithBudget(count, budget, students, seats, constraints, adj, true, rng)
				case "relaxed":
					layouts, attempts = solver.GenerateWithBudget(count, budget, students, seats, constraints, adj, false, rng)
				default:
					layouts, attempts = solver.GenerateWithBudget(count, budget, students, seats, constraints, adj, true, rng)
					if len(layouts) == 0 {
						var retry int
						layouts, retry = solver.GenerateWithBudget(count, budget, students, seats, constraints, adj, false, rng)
						attempts += retry
						relaxed = true
					}
				}

				results = append(results, runResult{
					yield:    len(layouts),
					relaxed:  relaxed,
					attempts: attempts,
					layouts:  layouts,
					elapsed:  time.Since(start),
				})
			}
			printStats(fmt.Sprintf("count=%d budget=%d", count, budget), results, *runs)
		}
	}
}

func loadSeats(path string) []solver.Seat {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading seats: %v\n", err)
		os.Exit(1)
	}
	var raw []seatData
	json.Unmarshal(data, &raw)
	if len(raw) == 0 {
		return solver.DefaultSeats()
	}
	seats := make([]solver.Seat, len(raw))
	for i, s := range raw {
		seats[i] = solver.Seat{ID: s.Number, Row: s.Row, Col: s.Col}
	}
	return seats
}

func loadStudents(path string) (students []int, allowedRows, allowedCols map[int][]int) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading students: %v\n", err)
		os.Exit(1)
	}
	var raw []studentData
	json.Unmarshal(data, &raw)

	allowedRows = map[int][]int{}
	allowedCols = map[int][]int{}
	for _, s := range raw {
		students = append(students, s.Number)
		if s.AllowedRows != nil {
			allowedRows[s.Number] = s.AllowedRows
		}
		if s.AllowedCols != nil {
			allowedCols[s.Number] = s.AllowedCols
		}
	}
	return students, allowedRows, allowedCols
}

func loadRules(path string) []solver.PairRule {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading rules: %v\n", err)
		os.Exit(1)
	}
	var raw []ruleData
	json.Unmarshal(data, &raw)
	rules := make([]solver.PairRule, len(raw))
	for i, r := range raw {
		rules[i] = solver.PairRule{StudentA: r.StudentA, StudentB: r.StudentB, Kind: r.Kind}
	}
	return rules
}

func parseIntList(s string) []int {
	parts := strings.Split(s, ",")
	var result []int
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err == nil {
			result = append(result, v)
		}
	}
	return result
}
