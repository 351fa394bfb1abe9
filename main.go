package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/joho/godotenv"
	"github.com/lib/pq"
	"google.golang.org/api/idtoken"

	"seatplan/solver"
)

//go:embed schema.sql
var schema string

var (
	htmlTemplates *template.Template
	jsTemplates   *texttemplate.Template
)

func main() {
	godotenv.Load()

	for _, key := range []string{"PGCONN", "CLIENT_ID", "CLIENT_SECRET", "ADMINS"} {
		if os.Getenv(key) == "" {
			log.Fatalf("%s environment variable is required", key)
		}
	}

	db, err := sql.Open("postgres", os.Getenv("PGCONN"))
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	log.Println("connected to database")

	if _, err := db.Exec(schema); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	htmlTemplates = template.Must(template.New("").ParseGlob("static/*.html"))
	jsTemplates = texttemplate.Must(texttemplate.New("").ParseGlob("static/*.js"))

	http.HandleFunc("GET /{$}", serveHTML("index.html"))
	http.HandleFunc("GET /app.js", serveJS("app.js"))
	http.HandleFunc("GET /class/{classID}", serveHTML("class.html"))
	http.HandleFunc("GET /class.js", serveJS("class.js"))
	http.HandleFunc("POST /auth/google/callback", handleGoogleCallback)
	http.HandleFunc("GET /api/admin/check", handleAdminCheck)
	http.HandleFunc("GET /api/classes", handleListClasses(db))
	http.HandleFunc("POST /api/classes", handleCreateClass(db))
	http.HandleFunc("DELETE /api/classes/{classID}", handleDeleteClass(db))
	http.HandleFunc("POST /api/classes/{classID}/admins", handleAddClassAdmin(db))
	http.HandleFunc("DELETE /api/classes/{classID}/admins/{adminID}", handleRemoveClassAdmin(db))
	http.HandleFunc("GET /api/classes/{classID}", handleGetClass(db))
	http.HandleFunc("GET /api/classes/{classID}/students", handleListStudents(db))
	http.HandleFunc("POST /api/classes/{classID}/students", handleCreateStudent(db))
	http.HandleFunc("PATCH /api/classes/{classID}/students/{studentID}", handleUpdateStudent(db))
	http.HandleFunc("DELETE /api/classes/{classID}/students/{studentID}", handleDeleteStudent(db))
	http.HandleFunc("GET /api/classes/{classID}/seats", handleListSeats(db))
	http.HandleFunc("PUT /api/classes/{classID}/seats", handleReplaceSeats(db))
	http.HandleFunc("GET /api/classes/{classID}/rules", handleListRules(db))
	http.HandleFunc("POST /api/classes/{classID}/rules", handleCreateRule(db))
	http.HandleFunc("DELETE /api/classes/{classID}/rules/{ruleID}", handleDeleteRule(db))
	http.HandleFunc("POST /api/classes/{classID}/generate", handleGenerate(db))
	http.HandleFunc("POST /api/classes/{classID}/export", handleExport(db))
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			http.Error(w, "db unhealthy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Println("listening on", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func templateData() map[string]any {
	return map[string]any{
		"env": envMap(),
	}
}

func envMap() map[string]string {
	m := map[string]string{}
	for _, e := range os.Environ() {
		if parts := strings.SplitN(e, "=", 2); len(parts) == 2 {
			m[parts[0]] = parts[1]
		}
	}
	return m
}

func serveHTML(name string) http.HandlerFunc {
	t := htmlTemplates.Lookup(name)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html")
		t.Execute(w, templateData())
	}
}

func serveJS(name string) http.HandlerFunc {
	t := jsTemplates.Lookup(name)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "application/javascript")
		t.Execute(w, templateData())
	}
}

func handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	credential := r.FormValue("credential")
	if credential == "" {
		http.Error(w, "missing credential", http.StatusBadRequest)
		return
	}

	payload, err := idtoken.Validate(r.Context(), credential, os.Getenv("CLIENT_ID"))
	if err != nil {
		log.Println("failed to validate token:", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	email := payload.Claims["email"].(string)

	profile := map[string]any{
		"email":   email,
		"name":    payload.Claims["name"],
		"picture": payload.Claims["picture"],
		"token":   signEmail(email),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profile)
}

func signEmail(email string) string {
	h := hmac.New(sha256.New, []byte(os.Getenv("CLIENT_SECRET")))
	h.Write([]byte(email))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + "." + sig
}

func authorize(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	emailBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	email := string(emailBytes)
	if signEmail(email) != token {
		return "", false
	}
	return email, true
}

func isAdmin(email string) bool {
	return slices.ContainsFunc(strings.Split(os.Getenv("ADMINS"), ","), func(a string) bool {
		return strings.TrimSpace(a) == email
	})
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	if !isAdmin(email) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return email, true
}

func isClassAdmin(db *sql.DB, email string, classID int64) bool {
	var exists bool
	db.QueryRow("SELECT EXISTS(SELECT 1 FROM class_admins WHERE class_id = $1 AND email = $2)", classID, email).Scan(&exists)
	return exists
}

func requireClassAdmin(db *sql.DB, w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", 0, false
	}
	classID, err := strconv.ParseInt(r.PathValue("classID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid class ID", http.StatusBadRequest)
		return "", 0, false
	}
	if !isAdmin(email) && !isClassAdmin(db, email, classID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", 0, false
	}
	return email, classID, true
}

func handleAdminCheck(w http.ResponseWriter, r *http.Request) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"admin": isAdmin(email)})
}

func handleListClasses(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		rows, err := db.Query(`
			SELECT c.id, c.name, COALESCE(
				json_agg(json_build_object('id', ca.id, 'email', ca.email)) FILTER (WHERE ca.id IS NOT NULL),
				'[]'
			)
			FROM classes c
			LEFT JOIN class_admins ca ON ca.class_id = c.id
			GROUP BY c.id, c.name
			ORDER BY c.id`)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		type classAdmin struct {
			ID    int64  `json:"id"`
			Email string `json:"email"`
		}
		type class struct {
			ID     int64        `json:"id"`
			Name   string       `json:"name"`
			Admins []classAdmin `json:"admins"`
		}

		var classes []class
		for rows.Next() {
			var c class
			var adminsJSON string
			if err := rows.Scan(&c.ID, &c.Name, &adminsJSON); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			json.Unmarshal([]byte(adminsJSON), &c.Admins)
			classes = append(classes, c)
		}
		if classes == nil {
			classes = []class{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(classes)
	}
}

func handleCreateClass(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}

		tx, err := db.Begin()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer tx.Rollback()

		var id int64
		if err := tx.QueryRow("INSERT INTO classes (name) VALUES ($1) RETURNING id", body.Name).Scan(&id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// New classes start with the stock layout and a matching roster of
		// numbered, unnamed students.
		for _, seat := range solver.DefaultSeats() {
			if _, err := tx.Exec("INSERT INTO seats (class_id, seat_no, row_no, col_no) VALUES ($1, $2, $3, $4)",
				id, seat.ID, seat.Row, seat.Col); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if _, err := tx.Exec("INSERT INTO students (class_id, number) VALUES ($1, $2)", id, seat.ID); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		if err := tx.Commit(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": id, "name": body.Name})
	}
}

func handleDeleteClass(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		classID, err := strconv.ParseInt(r.PathValue("classID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid class ID", http.StatusBadRequest)
			return
		}
		result, err := db.Exec("DELETE FROM classes WHERE id = $1", classID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			http.Error(w, "class not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAddClassAdmin(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		classID, err := strconv.ParseInt(r.PathValue("classID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid class ID", http.StatusBadRequest)
			return
		}
		var body struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
			http.Error(w, "email is required", http.StatusBadRequest)
			return
		}
		var id int64
		err = db.QueryRow("INSERT INTO class_admins (class_id, email) VALUES ($1, $2) RETURNING id", classID, body.Email).Scan(&id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": id, "email": body.Email})
	}
}

func handleRemoveClassAdmin(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		adminID, err := strconv.ParseInt(r.PathValue("adminID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid admin ID", http.StatusBadRequest)
			return
		}
		result, err := db.Exec("DELETE FROM class_admins WHERE id = $1", adminID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			http.Error(w, "class admin not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetClass(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := requireClassAdmin(db, w, r)
		if !ok {
			return
		}
		var name string
		if err := db.QueryRow("SELECT name FROM classes WHERE id = $1", classID).Scan(&name); err != nil {
			http.Error(w, "class not found", http.StatusNotFound)
			return
		}
		var numStudents, numSeats, numRules int
		db.QueryRow("SELECT COUNT(*) FROM students WHERE class_id = $1", classID).Scan(&numStudents)
		db.QueryRow("SELECT COUNT(*) FROM seats WHERE class_id = $1", classID).Scan(&numSeats)
		db.QueryRow("SELECT COUNT(*) FROM pair_rules WHERE class_id = $1", classID).Scan(&numRules)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":       classID,
			"name":     name,
			"students": numStudents,
			"seats":    numSeats,
			"rules":    numRules,
		})
	}
}

func handleListStudents(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := requireClassAdmin(db, w, r)
		if !ok {
			return
		}
		rows, err := db.Query("SELECT id, number, name, allowed_rows, allowed_cols FROM students WHERE class_id = $1 ORDER BY number", classID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		type student struct {
			ID          int64  `json:"id"`
			Number      int    `json:"number"`
			Name        string `json:"name"`
			AllowedRows string `json:"allowed_rows"`
			AllowedCols string `json:"allowed_cols"`
		}
		var students []student
		for rows.Next() {
			var s student
			if err := rows.Scan(&s.ID, &s.Number, &s.Name, &s.AllowedRows, &s.AllowedCols); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			students = append(students, s)
		}
		if students == nil {
			students = []student{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(students)
	}
}

func handleCreateStudent(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := requireClassAdmin(db, w, r)
		if !ok {
			return
		}
		var body struct {
			Number int    `json:"number"`
			Name   string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Number < 1 {
			http.Error(w, "a positive student number is required", http.StatusBadRequest)
			return
		}
		var id int64
		err := db.QueryRow("INSERT INTO students (class_id, number, name) VALUES ($1, $2, $3) RETURNING id",
			classID, body.Number, body.Name).Scan(&id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": id, "number": body.Number, "name": body.Name})
	}
}

func handleUpdateStudent(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := requireClassAdmin(db, w, r)
		if !ok {
			return
		}
		studentID, err := strconv.ParseInt(r.PathValue("studentID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid student ID", http.StatusBadRequest)
			return
		}
		var body struct {
			Name        *string `json:"name"`
			AllowedRows *string `json:"allowed_rows"`
			AllowedCols *string `json:"allowed_cols"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if body.Name != nil {
			if _, err := db.Exec("UPDATE students SET name = $1 WHERE id = $2 AND class_id = $3", *body.Name, studentID, classID); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		if body.AllowedRows != nil {
			if _, err := db.Exec("UPDATE students SET allowed_rows = $1 WHERE id = $2 AND class_id = $3", *body.AllowedRows, studentID, classID); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		if body.AllowedCols != nil {
			if _, err := db.Exec("UPDATE students SET allowed_cols = $1 WHERE id = $2 AND class_id = $3", *body.AllowedCols, studentID, classID); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteStudent(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := requireClassAdmin(db, w, r)
		if !ok {
			return
		}
		studentID, err := strconv.ParseInt(r.PathValue("studentID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid student ID", http.StatusBadRequest)
			return
		}
		result, err := db.Exec("DELETE FROM students WHERE id = $1 AND class_id = $2", studentID, classID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			http.Error(w, "student not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListSeats(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := requireClassAdmin(db, w, r)
		if !ok {
			return
		}
		seats, err := loadSeats(db, classID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		type seatOut struct {
			Number int `json:"number"`
			Row    int `json:"row"`
			Col    int `json:"col"`
		}
		out := make([]seatOut, len(seats))
		for i, s := range seats {
			out[i] = seatOut{Number: s.ID, Row: s.Row, Col: s.Col}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleReplaceSeats(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := requireClassAdmin(db, w, r)
		if !ok {
			return
		}
		var body []struct {
			Row int `json:"row"`
			Col int `json:"col"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body) == 0 {
			http.Error(w, "a non-empty seat list is required", http.StatusBadRequest)
			return
		}
		positions := map[[2]int]bool{}
		for _, s := range body {
			if s.Row < 1 || s.Col < 1 {
				http.Error(w, "seat rows and columns must be at least 1", http.StatusBadRequest)
				return
			}
			pos := [2]int{s.Row, s.Col}
			if positions[pos] {
				http.Error(w, fmt.Sprintf("duplicate seat at row %d col %d", s.Row, s.Col), http.StatusBadRequest)
				return
			}
			positions[pos] = true
		}

		tx, err := db.Begin()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer tx.Rollback()

		if _, err := tx.Exec("DELETE FROM seats WHERE class_id = $1", classID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for i, s := range body {
			if _, err := tx.Exec("INSERT INTO seats (class_id, seat_no, row_no, col_no) VALUES ($1, $2, $3, $4)",
				classID, i+1, s.Row, s.Col); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		if err := tx.Commit(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"seats": len(body)})
	}
}

func handleListRules(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := requireClassAdmin(db, w, r)
		if !ok {
			return
		}
		rows, err := db.Query("SELECT id, student_a, student_b, kind::text FROM pair_rules WHERE class_id = $1 ORDER BY id", classID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		type rule struct {
			ID       int64  `json:"id"`
			StudentA int    `json:"student_a"`
			StudentB int    `json:"student_b"`
			Kind     string `json:"kind"`
		}
		var rules []rule
		for rows.Next() {
			var ru rule
			if err := rows.Scan(&ru.ID, &ru.StudentA, &ru.StudentB, &ru.Kind); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			rules = append(rules, ru)
		}
		if rules == nil {
			rules = []rule{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rules)
	}
}

func handleCreateRule(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := requireClassAdmin(db, w, r)
		if !ok {
			return
		}
		var body struct {
			StudentA int    `json:"student_a"`
			StudentB int    `json:"student_b"`
			Kind     string `json:"kind"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if body.StudentA == body.StudentB {
			http.Error(w, "students must be different", http.StatusBadRequest)
			return
		}
		if body.Kind != "adjacent" && body.Kind != "not_adjacent" {
			http.Error(w, "invalid kind", http.StatusBadRequest)
			return
		}
		var onRoster int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM students WHERE class_id = $1 AND number = ANY($2)",
			classID, pq.Array([]int64{int64(body.StudentA), int64(body.StudentB)})).Scan(&onRoster)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if onRoster != 2 {
			http.Error(w, "both students must be on the roster", http.StatusBadRequest)
			return
		}
		var id int64
		err = db.QueryRow(`
			INSERT INTO pair_rules (class_id, student_a, student_b, kind)
			VALUES ($1, $2, $3, $4::pair_rule_kind)
			ON CONFLICT (class_id, student_a, student_b) DO UPDATE SET kind = EXCLUDED.kind
			RETURNING id`, classID, body.StudentA, body.StudentB, body.Kind).Scan(&id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": id})
	}
}

func handleDeleteRule(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := requireClassAdmin(db, w, r)
		if !ok {
			return
		}
		ruleID, err := strconv.ParseInt(r.PathValue("ruleID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid rule ID", http.StatusBadRequest)
			return
		}
		result, err := db.Exec("DELETE FROM pair_rules WHERE id = $1 AND class_id = $2", ruleID, classID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			http.Error(w, "rule not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type solveInput struct {
	seats       []solver.Seat
	students    []int
	names       map[int]string
	constraints map[int]*solver.Constraint
	dropped     int
}

func loadSeats(db *sql.DB, classID int64) ([]solver.Seat, error) {
	rows, err := db.Query("SELECT seat_no, row_no, col_no FROM seats WHERE class_id = $1 ORDER BY seat_no", classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []solver.Seat
	for rows.Next() {
		var s solver.Seat
		if err := rows.Scan(&s.ID, &s.Row, &s.Col); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

func loadSolveInput(db *sql.DB, classID int64) (*solveInput, error) {
	seats, err := loadSeats(db, classID)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query("SELECT number, name, allowed_rows, allowed_cols FROM students WHERE class_id = $1 ORDER BY number", classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	in := &solveInput{seats: seats, names: map[int]string{}}
	allowedRows := map[int][]int{}
	allowedCols := map[int][]int{}
	for rows.Next() {
		var number int
		var name, rowSpec, colSpec string
		if err := rows.Scan(&number, &name, &rowSpec, &colSpec); err != nil {
			return nil, err
		}
		in.students = append(in.students, number)
		in.names[number] = name
		if set := parseNumSet(rowSpec); set != nil {
			allowedRows[number] = set
		}
		if set := parseNumSet(colSpec); set != nil {
			allowedCols[number] = set
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rrows, err := db.Query("SELECT student_a, student_b, kind::text FROM pair_rules WHERE class_id = $1", classID)
	if err != nil {
		return nil, err
	}
	defer rrows.Close()

	var rules []solver.PairRule
	for rrows.Next() {
		var ru solver.PairRule
		if err := rrows.Scan(&ru.StudentA, &ru.StudentB, &ru.Kind); err != nil {
			return nil, err
		}
		rules = append(rules, ru)
	}
	if err := rrows.Err(); err != nil {
		return nil, err
	}

	roster := map[int]bool{}
	for _, sid := range in.students {
		roster[sid] = true
	}
	in.dropped = countDroppedRules(rules, roster)
	in.constraints = solver.BuildConstraints(in.students, allowedRows, allowedCols, rules)
	return in, nil
}

// generateLayouts runs the strict tier first and falls back to the relaxed
// not-adjacent interpretation only when the strict run produced nothing.
func generateLayouts(in *solveInput, count int, rng *rand.Rand) ([]solver.Assignment, bool) {
	adj := solver.BuildAdjacency(in.seats)
	layouts := solver.GenerateDistinct(count, in.students, in.seats, in.constraints, adj, true, rng)
	if len(layouts) > 0 {
		return layouts, true
	}
	return solver.GenerateDistinct(count, in.students, in.seats, in.constraints, adj, false, rng), false
}

func handleGenerate(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := requireClassAdmin(db, w, r)
		if !ok {
			return
		}
		var body struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if body.Count < 1 || body.Count > 20 {
			http.Error(w, "count must be between 1 and 20", http.StatusBadRequest)
			return
		}

		in, err := loadSolveInput(db, classID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(in.students) == 0 || len(in.seats) == 0 {
			http.Error(w, "class needs students and seats before generating", http.StatusBadRequest)
			return
		}
		if len(in.students) > len(in.seats) {
			http.Error(w, "more students than seats", http.StatusBadRequest)
			return
		}

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		layouts, strict := generateLayouts(in, body.Count, rng)

		type layoutOut struct {
			Assignment solver.Assignment `json:"assignment"`
			Grid       [][]string        `json:"grid"`
		}
		out := make([]layoutOut, len(layouts))
		for i, layout := range layouts {
			out[i] = layoutOut{Assignment: layout, Grid: renderGrid(layout, in.seats, in.names)}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"layouts":       out,
			"strict":        strict,
			"requested":     body.Count,
			"dropped_rules": in.dropped,
		})
	}
}
