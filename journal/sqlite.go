package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordResult(r ResultRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO results
		(decision_id, market_id, kind, status, shares, net_cost, realized_cost, net_ev, retained, realized, reason, signal_time, settled_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.DecisionID, r.MarketID, r.Kind, r.Status, r.Shares, r.NetCost,
		r.RealizedCost, r.NetEV, r.Retained, r.Realized, r.Reason,
		r.SignalTime, r.SettledTime,
	)
	return err
}

func (j *SQLite) RecordExposure(e ExposureSnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO exposure
		(time, aggregate, day_realized, total_realized, drawdown, breaker)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Time, e.Aggregate, e.DayRealized, e.TotalRealized, e.Drawdown, e.Breaker,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
