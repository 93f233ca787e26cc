package journal

const Schema = `
CREATE TABLE IF NOT EXISTS results (
	decision_id TEXT PRIMARY KEY,
	market_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	shares REAL NOT NULL,
	net_cost REAL NOT NULL,
	realized_cost REAL NOT NULL,
	net_ev REAL NOT NULL,
	retained REAL NOT NULL,
	realized REAL NOT NULL,
	reason TEXT NOT NULL,
	signal_time DATETIME NOT NULL,
	settled_time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_settled ON results(settled_time);
CREATE INDEX IF NOT EXISTS idx_results_market ON results(market_id);

CREATE TABLE IF NOT EXISTS exposure (
	time DATETIME NOT NULL,
	aggregate REAL NOT NULL,
	day_realized REAL NOT NULL,
	total_realized REAL NOT NULL,
	drawdown REAL NOT NULL,
	breaker TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exposure_time ON exposure(time);
`
