package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"seatplan/solver"
)

// handleExport generates layouts like handleGenerate and writes them to a
// new Google Spreadsheet, one sheet per layout, with "number name" at each
// occupied seat's row/column cell.
func handleExport(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := requireClassAdmin(db, w, r)
		if !ok {
			return
		}
		creds := os.Getenv("SHEETS_CREDENTIALS")
		if creds == "" {
			http.Error(w, "spreadsheet export is not configured", http.StatusServiceUnavailable)
			return
		}
		var body struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		count, ok := defaultCount(body.Count)
		if !ok {
			http.Error(w, "count must be between 1 and 20", http.StatusBadRequest)
			return
		}

		var className string
		if err := db.QueryRow("SELECT name FROM classes WHERE id = $1", classID).Scan(&className); err != nil {
			http.Error(w, "class not found", http.StatusNotFound)
			return
		}

		in, err := loadSolveInput(db, classID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(in.students) == 0 || len(in.seats) == 0 {
			http.Error(w, "class needs students and seats before exporting", http.StatusBadRequest)
			return
		}
		if len(in.students) > len(in.seats) {
			http.Error(w, "more students than seats", http.StatusBadRequest)
			return
		}

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		layouts, strict := generateLayouts(in, count, rng)
		if len(layouts) == 0 {
			http.Error(w, "no layout satisfies the current rules", http.StatusConflict)
			return
		}

		svc, err := sheets.NewService(r.Context(), option.WithCredentialsFile(creds))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		ss := &sheets.Spreadsheet{
			Properties: &sheets.SpreadsheetProperties{
				Title: fmt.Sprintf("%s seating %s", className, time.Now().Format("2006-01-02")),
			},
		}
		for i := range layouts {
			ss.Sheets = append(ss.Sheets, &sheets.Sheet{
				Properties: &sheets.SheetProperties{Title: fmt.Sprintf("Layout %d", i+1)},
			})
		}
		created, err := svc.Spreadsheets.Create(ss).Context(r.Context()).Do()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for i, layout := range layouts {
			values := gridValues(layout, in.seats, in.names)
			rangeA1 := fmt.Sprintf("'Layout %d'!A1", i+1)
			_, err := svc.Spreadsheets.Values.Update(created.SpreadsheetId, rangeA1, &sheets.ValueRange{Values: values}).
				ValueInputOption("RAW").Context(r.Context()).Do()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"url":     created.SpreadsheetUrl,
			"layouts": len(layouts),
			"strict":  strict,
		})
	}
}

func gridValues(layout solver.Assignment, seats []solver.Seat, names map[int]string) [][]any {
	grid := renderGrid(layout, seats, names)
	values := make([][]any, len(grid))
	for i, row := range grid {
		values[i] = make([]any, len(row))
		for j, cell := range row {
			values[i][j] = cell
		}
	}
	return values
}
