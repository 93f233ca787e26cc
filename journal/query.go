package journal

import (
	"database/sql"
	"fmt"
	"time"
)

const resultColumns = `decision_id, market_id, kind, status, shares, net_cost, realized_cost, net_ev, retained, realized, reason, signal_time, settled_time`

// GetResult returns a single result record by decision ID.
func (j *SQLite) GetResult(decisionID string) (ResultRecord, error) {
	row := j.db.QueryRow(`
		SELECT `+resultColumns+`
		FROM results
		WHERE decision_id = ?`, decisionID)

	rec, err := scanResult(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return ResultRecord{}, fmt.Errorf("result %q not found", decisionID)
		}
		return ResultRecord{}, err
	}
	return rec, nil
}

// ListResultsBetween returns results settled within [start, end).
func (j *SQLite) ListResultsBetween(start, end time.Time) ([]ResultRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+resultColumns+`
		FROM results
		WHERE settled_time >= ? AND settled_time < ?
		ORDER BY settled_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListResultsByMarket returns all results for one market, oldest first.
func (j *SQLite) ListResultsByMarket(marketID string) ([]ResultRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+resultColumns+`
		FROM results
		WHERE market_id = ?
		ORDER BY settled_time ASC`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(s scanner) (ResultRecord, error) {
	var rec ResultRecord
	err := s.Scan(
		&rec.DecisionID,
		&rec.MarketID,
		&rec.Kind,
		&rec.Status,
		&rec.Shares,
		&rec.NetCost,
		&rec.RealizedCost,
		&rec.NetEV,
		&rec.Retained,
		&rec.Realized,
		&rec.Reason,
		&rec.SignalTime,
		&rec.SettledTime,
	)
	return rec, err
}

// Summary aggregates one period's results for the session report.
type Summary struct {
	Results    int
	Complete   int
	Abandoned  int
	Unwound    int
	Failed     int
	Realized   float64
	GrossEV    float64
	LastUpdate time.Time
}

// Summarize folds every result settled within [start, end) into a Summary.
func (j *SQLite) Summarize(start, end time.Time) (Summary, error) {
	recs, err := j.ListResultsBetween(start, end)
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	for _, r := range recs {
		s.Results++
		switch r.Status {
		case "complete":
			s.Complete++
			s.GrossEV += r.NetEV
		case "abandoned":
			s.Abandoned++
		case "unwound":
			s.Unwound++
		case "unwound-failed":
			s.Failed++
		}
		s.Realized += r.Realized
		if r.SettledTime.After(s.LastUpdate) {
			s.LastUpdate = r.SettledTime
		}
	}
	return s, nil
}
