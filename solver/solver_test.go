package solver_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatplan/solver"
)

func singleRow(n int) []solver.Seat {
	seats := make([]solver.Seat, n)
	for i := range seats {
		seats[i] = solver.Seat{ID: i + 1, Row: 1, Col: i + 1}
	}
	return seats
}

func noConstraints(students []int) map[int]*solver.Constraint {
	return solver.BuildConstraints(students, nil, nil, nil)
}

func TestAdjacencySymmetricIrreflexive(t *testing.T) {
	adj := solver.BuildAdjacency(solver.DefaultSeats())

	for _, rel := range []map[int]map[int]bool{adj.LR, adj.Box} {
		for x, neighbors := range rel {
			assert.False(t, neighbors[x], "seat %d adjacent to itself", x)
			for y := range neighbors {
				assert.True(t, rel[y][x], "adjacency %d->%d has no reverse", x, y)
			}
		}
	}
}

func TestAdjacencyRelations(t *testing.T) {
	seats := []solver.Seat{
		{ID: 1, Row: 1, Col: 1},
		{ID: 2, Row: 1, Col: 2},
		{ID: 3, Row: 2, Col: 1},
		{ID: 4, Row: 2, Col: 2},
		{ID: 5, Row: 1, Col: 3},
		{ID: 6, Row: 4, Col: 4},
	}
	adj := solver.BuildAdjacency(seats)

	// LR: same row, column distance exactly 1.
	assert.True(t, adj.LR[1][2])
	assert.False(t, adj.LR[1][3], "front/back neighbors are not LR")
	assert.False(t, adj.LR[1][4], "diagonal neighbors are not LR")
	assert.False(t, adj.LR[1][5], "column distance 2 is not LR")

	// Box: both distances at most 1.
	assert.True(t, adj.Box[1][2])
	assert.True(t, adj.Box[1][3])
	assert.True(t, adj.Box[1][4])
	assert.False(t, adj.Box[1][5])
	assert.False(t, adj.Box[1][6])
}

func TestAdjacencyIdempotent(t *testing.T) {
	seats := solver.DefaultSeats()
	first := solver.BuildAdjacency(seats)
	second := solver.BuildAdjacency(seats)
	require.Equal(t, first, second)
}

func TestBuildConstraintsSymmetry(t *testing.T) {
	students := []int{1, 2, 3}
	rules := []solver.PairRule{
		{StudentA: 1, StudentB: 2, Kind: "adjacent"},
		{StudentA: 2, StudentB: 3, Kind: "not_adjacent"},
	}
	cs := solver.BuildConstraints(students, nil, nil, rules)

	assert.True(t, cs[1].AdjacentTo[2])
	assert.True(t, cs[2].AdjacentTo[1])
	assert.True(t, cs[2].NotAdjacentTo[3])
	assert.True(t, cs[3].NotAdjacentTo[2])
}

func TestBuildConstraintsDropsMalformedRules(t *testing.T) {
	students := []int{1, 2}
	rules := []solver.PairRule{
		{StudentA: 1, StudentB: 1, Kind: "adjacent"},     // self-pair
		{StudentA: 1, StudentB: 99, Kind: "adjacent"},    // unknown student
		{StudentA: 1, StudentB: 2, Kind: "best_friends"}, // unknown kind
	}
	cs := solver.BuildConstraints(students, nil, nil, rules)

	for sid, c := range cs {
		assert.Empty(t, c.AdjacentTo, "student %d", sid)
		assert.Empty(t, c.NotAdjacentTo, "student %d", sid)
		assert.False(t, c.AdjacentTo[sid], "self-reference on student %d", sid)
	}
}

func TestBuildConstraintsNilVersusEmpty(t *testing.T) {
	students := []int{1, 2}
	cs := solver.BuildConstraints(students,
		map[int][]int{1: {}},
		map[int][]int{1: nil},
		nil)

	// Empty slice restricts to nothing; nil slice leaves unrestricted.
	require.NotNil(t, cs[1].AllowedRows)
	assert.Empty(t, cs[1].AllowedRows)
	assert.Nil(t, cs[1].AllowedCols)
	assert.Nil(t, cs[2].AllowedRows)

	seats := singleRow(2)
	adj := solver.BuildAdjacency(seats)
	rng := rand.New(rand.NewSource(1))
	_, ok := solver.Solve(students, seats, cs, adj, true, rng)
	assert.False(t, ok, "empty allowed-rows set admits no seat")
}

func TestPlacementLegalPositional(t *testing.T) {
	seats := singleRow(3)
	seatByID := map[int]solver.Seat{}
	for _, s := range seats {
		seatByID[s.ID] = s
	}
	adj := solver.BuildAdjacency(seats)
	cs := map[int]*solver.Constraint{
		1: {AllowedCols: map[int]bool{2: true}},
	}

	assert.False(t, solver.PlacementLegal(solver.Assignment{}, 1, 1, seatByID, cs, adj, true))
	assert.True(t, solver.PlacementLegal(solver.Assignment{}, 1, 2, seatByID, cs, adj, true))
	assert.True(t, solver.PlacementLegal(solver.Assignment{}, 2, 1, seatByID, cs, adj, true),
		"student without constraints may sit anywhere")
}

func TestPlacementLegalIncomingAndOutgoing(t *testing.T) {
	seats := singleRow(4)
	seatByID := map[int]solver.Seat{}
	for _, s := range seats {
		seatByID[s.ID] = s
	}
	adj := solver.BuildAdjacency(seats)

	// Only student 1 declares the relation; the check must hold no matter
	// which side is being placed.
	cs := map[int]*solver.Constraint{
		1: {AdjacentTo: map[int]bool{2: true}},
	}

	// Outgoing: 2 already placed, 1 being placed.
	placed := solver.Assignment{2: 1}
	assert.True(t, solver.PlacementLegal(placed, 1, 2, seatByID, cs, adj, true))
	assert.False(t, solver.PlacementLegal(placed, 1, 4, seatByID, cs, adj, true))

	// Incoming: 1 already placed, 2 being placed.
	placed = solver.Assignment{1: 1}
	assert.True(t, solver.PlacementLegal(placed, 2, 2, seatByID, cs, adj, true))
	assert.False(t, solver.PlacementLegal(placed, 2, 4, seatByID, cs, adj, true))
}

func TestPlacementLegalStrictnessTiers(t *testing.T) {
	seats := []solver.Seat{
		{ID: 1, Row: 1, Col: 1},
		{ID: 2, Row: 2, Col: 1}, // behind seat 1: Box neighbor, not LR
	}
	seatByID := map[int]solver.Seat{1: seats[0], 2: seats[1]}
	adj := solver.BuildAdjacency(seats)
	cs := map[int]*solver.Constraint{
		1: {NotAdjacentTo: map[int]bool{2: true}},
	}
	placed := solver.Assignment{2: 2}

	assert.False(t, solver.PlacementLegal(placed, 1, 1, seatByID, cs, adj, true),
		"strict mode forbids box neighbors")
	assert.True(t, solver.PlacementLegal(placed, 1, 1, seatByID, cs, adj, false),
		"relaxed mode only forbids LR neighbors")
}

func TestPlacementLegalDoesNotMutate(t *testing.T) {
	seats := singleRow(3)
	seatByID := map[int]solver.Seat{}
	for _, s := range seats {
		seatByID[s.ID] = s
	}
	adj := solver.BuildAdjacency(seats)
	cs := noConstraints([]int{1, 2})

	placed := solver.Assignment{1: 1}
	for range 5 {
		solver.PlacementLegal(placed, 2, 2, seatByID, cs, adj, true)
	}
	require.Equal(t, solver.Assignment{1: 1}, placed)
}

func TestSolveUnconstrained(t *testing.T) {
	seats := singleRow(3)
	students := []int{1, 2, 3}
	adj := solver.BuildAdjacency(seats)
	cs := noConstraints(students)

	for seed := int64(0); seed < 10; seed++ {
		rng := rand.New(rand.NewSource(seed))
		result, ok := solver.Solve(students, seats, cs, adj, true, rng)
		require.True(t, ok, "seed %d", seed)
		require.Len(t, result, 3)

		seen := map[int]bool{}
		for _, seatID := range result {
			assert.False(t, seen[seatID], "seat %d assigned twice", seatID)
			seen[seatID] = true
		}
	}
}

func TestSolvePositionalAndNonAdjacent(t *testing.T) {
	// Single row of three seats; student 1 pinned to column 1, student 2 may
	// not sit in student 1's box neighborhood, so only seat 3 remains for 2.
	seats := singleRow(3)
	students := []int{1, 2, 3}
	cs := solver.BuildConstraints(students,
		nil,
		map[int][]int{1: {1}},
		[]solver.PairRule{{StudentA: 2, StudentB: 1, Kind: "not_adjacent"}})
	adj := solver.BuildAdjacency(seats)

	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		result, ok := solver.Solve(students, seats, cs, adj, true, rng)
		require.True(t, ok, "seed %d", seed)
		assert.Equal(t, 1, result[1], "seed %d", seed)
		assert.Equal(t, 3, result[2], "seed %d", seed)
		assert.Equal(t, 2, result[3], "seed %d", seed)
	}
}

func TestSolveMutualAdjacency(t *testing.T) {
	students := []int{1, 2}
	rules := []solver.PairRule{{StudentA: 1, StudentB: 2, Kind: "adjacent"}}

	t.Run("TwoAdjacentSeats", func(t *testing.T) {
		seats := singleRow(2)
		cs := solver.BuildConstraints(students, nil, nil, rules)
		adj := solver.BuildAdjacency(seats)
		rng := rand.New(rand.NewSource(7))

		result, ok := solver.Solve(students, seats, cs, adj, true, rng)
		require.True(t, ok)
		assert.True(t, adj.LR[result[1]][result[2]])
		assert.True(t, adj.LR[result[2]][result[1]])
	})

	t.Run("TwoDistantSeats", func(t *testing.T) {
		seats := []solver.Seat{
			{ID: 1, Row: 1, Col: 1},
			{ID: 2, Row: 5, Col: 5},
		}
		cs := solver.BuildConstraints(students, nil, nil, rules)
		adj := solver.BuildAdjacency(seats)

		for _, strict := range []bool{true, false} {
			rng := rand.New(rand.NewSource(7))
			_, ok := solver.Solve(students, seats, cs, adj, strict, rng)
			assert.False(t, ok, "strict=%v", strict)
		}
	})
}

func TestSolveHonorsAllowedSets(t *testing.T) {
	seats := solver.DefaultSeats()
	seatByID := map[int]solver.Seat{}
	for _, s := range seats {
		seatByID[s.ID] = s
	}
	students := []int{1, 2, 3, 4, 5}
	cs := solver.BuildConstraints(students,
		map[int][]int{1: {1, 2}, 2: {6}},
		map[int][]int{3: {1, 3, 5}},
		[]solver.PairRule{{StudentA: 4, StudentB: 5, Kind: "adjacent"}})
	adj := solver.BuildAdjacency(seats)

	for seed := int64(0); seed < 10; seed++ {
		rng := rand.New(rand.NewSource(seed))
		result, ok := solver.Solve(students, seats, cs, adj, true, rng)
		require.True(t, ok, "seed %d", seed)

		assert.Contains(t, []int{1, 2}, seatByID[result[1]].Row)
		assert.Equal(t, 6, seatByID[result[2]].Row)
		assert.Contains(t, []int{1, 3, 5}, seatByID[result[3]].Col)
		assert.True(t, adj.LR[result[4]][result[5]], "seed %d", seed)
	}
}

func TestGenerateDistinct(t *testing.T) {
	// Four unconstrained seats give 24 permutations; five distinct layouts
	// must come back well inside the 150-attempt budget.
	seats := singleRow(4)
	students := []int{1, 2, 3, 4}
	cs := noConstraints(students)
	adj := solver.BuildAdjacency(seats)
	rng := rand.New(rand.NewSource(1))

	layouts := solver.GenerateDistinct(5, students, seats, cs, adj, true, rng)
	require.Len(t, layouts, 5)

	keys := map[string]bool{}
	for _, layout := range layouts {
		require.Len(t, layout, 4)
		key := ""
		for sid := 1; sid <= 4; sid++ {
			key += fmt.Sprintf("%d:%d;", sid, layout[sid])
		}
		assert.False(t, keys[key], "duplicate layout %s", key)
		keys[key] = true
	}
}

func TestGenerateDistinctExhaustsUniverse(t *testing.T) {
	// One student, one seat: a single solution exists, so asking for three
	// layouts spends the budget and returns just one.
	seats := singleRow(1)
	students := []int{1}
	cs := noConstraints(students)
	adj := solver.BuildAdjacency(seats)
	rng := rand.New(rand.NewSource(3))

	layouts := solver.GenerateDistinct(3, students, seats, cs, adj, true, rng)
	require.Len(t, layouts, 1)
	assert.Equal(t, solver.Assignment{1: 1}, layouts[0])
}

func TestGenerateDistinctUnsatisfiable(t *testing.T) {
	seats := []solver.Seat{
		{ID: 1, Row: 1, Col: 1},
		{ID: 2, Row: 5, Col: 5},
	}
	students := []int{1, 2}
	cs := solver.BuildConstraints(students, nil, nil,
		[]solver.PairRule{{StudentA: 1, StudentB: 2, Kind: "adjacent"}})
	adj := solver.BuildAdjacency(seats)
	rng := rand.New(rand.NewSource(9))

	layouts := solver.GenerateDistinct(4, students, seats, cs, adj, true, rng)
	assert.Empty(t, layouts)
}

func TestGenerateWithBudgetReportsAttempts(t *testing.T) {
	t.Run("UnsatisfiableSpendsWholeBudget", func(t *testing.T) {
		seats := []solver.Seat{
			{ID: 1, Row: 1, Col: 1},
			{ID: 2, Row: 5, Col: 5},
		}
		students := []int{1, 2}
		cs := solver.BuildConstraints(students, nil, nil,
			[]solver.PairRule{{StudentA: 1, StudentB: 2, Kind: "adjacent"}})
		adj := solver.BuildAdjacency(seats)
		rng := rand.New(rand.NewSource(11))

		layouts, attempts := solver.GenerateWithBudget(2, 17, students, seats, cs, adj, true, rng)
		assert.Empty(t, layouts)
		assert.Equal(t, 17, attempts)
	})

	t.Run("SingleSolutionSpendsWholeBudget", func(t *testing.T) {
		seats := singleRow(1)
		students := []int{1}
		cs := noConstraints(students)
		adj := solver.BuildAdjacency(seats)
		rng := rand.New(rand.NewSource(11))

		layouts, attempts := solver.GenerateWithBudget(3, 12, students, seats, cs, adj, true, rng)
		require.Len(t, layouts, 1)
		assert.Equal(t, 12, attempts, "duplicates still spend budget")
	})

	t.Run("EasyRequestStopsEarly", func(t *testing.T) {
		seats := singleRow(1)
		students := []int{1}
		cs := noConstraints(students)
		adj := solver.BuildAdjacency(seats)
		rng := rand.New(rand.NewSource(11))

		layouts, attempts := solver.GenerateWithBudget(1, 30, students, seats, cs, adj, true, rng)
		require.Len(t, layouts, 1)
		assert.Equal(t, 1, attempts)
	})
}

func TestGenerateDistinctFullClassroom(t *testing.T) {
	seats := solver.DefaultSeats()
	students := make([]int, len(seats))
	for i := range students {
		students[i] = i + 1
	}
	cs := solver.BuildConstraints(students,
		map[int][]int{5: {1}, 12: {1, 2}},
		map[int][]int{20: {6}},
		[]solver.PairRule{
			{StudentA: 1, StudentB: 2, Kind: "adjacent"},
			{StudentA: 3, StudentB: 4, Kind: "not_adjacent"},
		})
	adj := solver.BuildAdjacency(seats)
	rng := rand.New(rand.NewSource(42))

	layouts := solver.GenerateDistinct(3, students, seats, cs, adj, true, rng)
	require.NotEmpty(t, layouts)

	for i, layout := range layouts {
		require.Len(t, layout, len(students), "layout %d incomplete", i)
		assert.True(t, adj.LR[layout[1]][layout[2]], "layout %d", i)
		assert.False(t, adj.Box[layout[3]][layout[4]], "layout %d", i)
	}
}
