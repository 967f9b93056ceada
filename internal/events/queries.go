package events

import (
	"database/sql"
	"fmt"
	"sort"
)

// EventCount aggregates occurrences of one event type for a project.
type EventCount struct {
	Event string `json:"event"`
	Count int    `json:"count"`
}

// TaskFailure aggregates retry churn per task.
type TaskFailure struct {
	Stage    string `json:"stage"`
	Task     string `json:"task"`
	Retries  int    `json:"retries"`
	Skipped  bool   `json:"skipped"`
	Critical bool   `json:"critical"`
}

// QueryEventCounts returns per-event totals for a project, alphabetical by
// event.
func (r *Recorder) QueryEventCounts(project string) ([]EventCount, error) {
	if r == nil || r.conn == nil {
		return nil, nil
	}
	rows, err := r.conn.Query(
		`SELECT event, COUNT(*) FROM pipeline_events WHERE project = $1 GROUP BY event`,
		project,
	)
	if err != nil {
		return nil, fmt.Errorf("query event counts: %w", err)
	}
	defer rows.Close()

	var results []EventCount
	for rows.Next() {
		var ec EventCount
		if err := rows.Scan(&ec.Event, &ec.Count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		results = append(results, ec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Event < results[j].Event })
	return results, nil
}

// QueryTaskFailures returns the retry count per task for a project, worst
// first. A task appears once per (stage, detail) pair.
func (r *Recorder) QueryTaskFailures(project string) ([]TaskFailure, error) {
	if r == nil || r.conn == nil {
		return nil, nil
	}
	rows, err := r.conn.Query(
		`SELECT COALESCE(stage, ''), COALESCE(detail, ''),
			COUNT(*) FILTER (WHERE event = 'task_retry') AS retries,
			COUNT(*) FILTER (WHERE event = 'task_skipped') > 0 AS skipped,
			COUNT(*) FILTER (WHERE event = 'critical_failure') > 0 AS critical
		 FROM pipeline_events
		 WHERE project = $1
		   AND event IN ('task_retry', 'task_skipped', 'critical_failure')
		 GROUP BY stage, detail`,
		project,
	)
	if err != nil {
		return nil, fmt.Errorf("query task failures: %w", err)
	}
	defer rows.Close()

	var results []TaskFailure
	for rows.Next() {
		var tf TaskFailure
		if err := rows.Scan(&tf.Stage, &tf.Task, &tf.Retries, &tf.Skipped, &tf.Critical); err != nil {
			return nil, fmt.Errorf("scan task failure: %w", err)
		}
		results = append(results, tf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Retries > results[j].Retries })
	return results, nil
}

// LastEventTimestamp returns the most recent event time for a project, or
// the zero string when none exist.
func (r *Recorder) LastEventTimestamp(project string) (string, error) {
	if r == nil || r.conn == nil {
		return "", nil
	}
	var ts sql.NullString
	err := r.conn.QueryRow(
		`SELECT MAX(timestamp)::text FROM pipeline_events WHERE project = $1`,
		project,
	).Scan(&ts)
	if err != nil {
		return "", fmt.Errorf("query last event: %w", err)
	}
	return ts.String, nil
}
