package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

type CSV struct {
	results  *csv.Writer
	exposure *csv.Writer
	rf, ef   *os.File
}

func NewCSV(resultsPath, exposurePath string) (*CSV, error) {
	rf, err := os.Create(resultsPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(exposurePath)
	if err != nil {
		rf.Close()
		return nil, err
	}

	rw := csv.NewWriter(rf)
	ew := csv.NewWriter(ef)

	if err := rw.Write([]string{"decision_id", "market_id", "kind", "status", "shares", "net_cost", "realized_cost", "net_ev", "retained", "realized", "reason", "signal_time", "settled_time"}); err != nil {
		return nil, err
	}
	if err := ew.Write([]string{"time", "aggregate", "day_realized", "total_realized", "drawdown", "breaker"}); err != nil {
		return nil, err
	}

	rw.Flush()
	if err := rw.Error(); err != nil {
		return nil, err
	}
	ew.Flush()
	if err := ew.Error(); err != nil {
		return nil, err
	}

	return &CSV{rw, ew, rf, ef}, nil
}

func (j *CSV) RecordResult(r ResultRecord) error {
	err := j.results.Write([]string{
		r.DecisionID,
		r.MarketID,
		r.Kind,
		r.Status,
		f(r.Shares),
		f(r.NetCost),
		f(r.RealizedCost),
		f(r.NetEV),
		f(r.Retained),
		f(r.Realized),
		r.Reason,
		r.SignalTime.Format(time.RFC3339),
		r.SettledTime.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	j.results.Flush()
	return j.results.Error()
}

func (j *CSV) RecordExposure(e ExposureSnapshot) error {
	err := j.exposure.Write([]string{
		e.Time.Format(time.RFC3339),
		f(e.Aggregate),
		f(e.DayRealized),
		f(e.TotalRealized),
		f(e.Drawdown),
		e.Breaker,
	})
	if err != nil {
		return err
	}
	j.exposure.Flush()
	return j.exposure.Error()
}

func (j *CSV) Close() error {
	j.results.Flush()
	if err := j.results.Error(); err != nil {
		return err
	}
	j.exposure.Flush()
	if err := j.exposure.Error(); err != nil {
		return err
	}

	if err := j.rf.Close(); err != nil {
		return err
	}
	return j.ef.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
