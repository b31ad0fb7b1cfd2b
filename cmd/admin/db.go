package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type tickRow struct {
	RunID     string  `json:"run_id"`
	Tick      int64   `json:"tick"`
	UnixMS    int64   `json:"unix_ms"`
	Digest    string  `json:"digest"`
	Units     int     `json:"units"`
	Commands  int     `json:"commands"`
	Resets    int     `json:"resets"`
	Staged    int     `json:"staged"`
	Discarded int     `json:"discarded"`
	StepMS    float64 `json:"step_ms"`
}

type commandRow struct {
	RunID   string          `json:"run_id"`
	Tick    int64           `json:"tick"`
	Seq     int             `json:"seq"`
	Kind    string          `json:"kind"`
	Payload string          `json:"payload"`
	UnitID  string          `json:"unit_id"`
	Raw     json.RawMessage `json:"raw"`
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index.sqlite)")
	runID := fs.String("run", "", "run id (optional; defaults to the latest run)")
	unitID := fs.String("unit", "", "unit id filter (commands)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "ticks"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if q != "runs" && *runID == "" {
		lr, err := latestRun(db)
		if err != nil {
			fmt.Fprintln(os.Stderr, "latest run:", err)
			os.Exit(1)
		}
		if lr == "" {
			fmt.Fprintln(os.Stderr, "no runs found")
			os.Exit(2)
		}
		*runID = lr
	}

	switch q {
	case "runs":
		rows, err := db.Query(`SELECT r.run_id, r.started_at, COUNT(t.tick), COALESCE(MAX(t.tick),0)
			FROM runs r LEFT JOIN ticks t ON t.run_id = r.run_id
			GROUP BY r.run_id ORDER BY r.started_at DESC, r.rowid DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID     string `json:"run_id"`
				StartedAt string `json:"started_at"`
				Ticks     int64  `json:"ticks"`
				LastTick  int64  `json:"last_tick"`
			}
			if err := rows.Scan(&r.RunID, &r.StartedAt, &r.Ticks, &r.LastTick); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "ticks":
		rows, err := db.Query(`SELECT run_id,tick,unix_ms,digest,units,commands,resets,staged,discarded,step_ms
			FROM ticks WHERE run_id=? ORDER BY tick DESC LIMIT ?`, *runID, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r tickRow
			if err := rows.Scan(&r.RunID, &r.Tick, &r.UnixMS, &r.Digest, &r.Units, &r.Commands, &r.Resets, &r.Staged, &r.Discarded, &r.StepMS); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "commands":
		query := `SELECT run_id,tick,seq,kind,payload,unit_id,raw_json FROM commands WHERE run_id=?`
		params := []any{*runID}
		if s := strings.TrimSpace(*unitID); s != "" {
			query += ` AND unit_id=?`
			params = append(params, s)
		}
		query += ` ORDER BY tick DESC, seq ASC LIMIT ?`
		params = append(params, *limit)
		rows, err := db.Query(query, params...)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r commandRow
			var raw string
			if err := rows.Scan(&r.RunID, &r.Tick, &r.Seq, &r.Kind, &r.Payload, &r.UnitID, &raw); err != nil {
				fail("scan", err)
			}
			r.Raw = json.RawMessage(raw)
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func latestRun(db *sql.DB) (string, error) {
	if db == nil {
		return "", fmt.Errorf("nil db")
	}
	var id sql.NullString
	if err := db.QueryRow(`SELECT run_id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return id.String, nil
}

func fail(what string, err error) {
	fmt.Fprintln(os.Stderr, what+":", err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
