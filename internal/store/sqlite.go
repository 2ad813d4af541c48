package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// SQLiteStore persists every manifest in a single SQLite file. Experiment
// state is an explicit column; the untested/testing/tested views are
// queries over it.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    experiment_id TEXT PRIMARY KEY,
    listing_id INTEGER NOT NULL,
    state TEXT NOT NULL,
    change_json TEXT NOT NULL,
    hypothesis TEXT,
    snapshot_json TEXT,
    baseline_json TEXT,
    start_date TEXT,
    planned_end_date TEXT,
    run_duration_days INTEGER NOT NULL DEFAULT 0,
    model_used TEXT,
    evaluation_json TEXT,
    end_date TEXT,
    final_state TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_listing ON experiments(listing_id);
CREATE INDEX IF NOT EXISTS idx_experiments_state ON experiments(state);
CREATE INDEX IF NOT EXISTS idx_experiments_listing_state ON experiments(listing_id, state);

CREATE TABLE IF NOT EXISTS bundles (
    listing_id INTEGER PRIMARY KEY,
    generated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS listings (
    listing_id INTEGER PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    tags TEXT,
    views INTEGER NOT NULL DEFAULT 0,
    state TEXT,
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE TABLE IF NOT EXISTS listing_images (
    listing_id INTEGER PRIMARY KEY,
    images TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS archived_images (
    experiment_id TEXT PRIMARY KEY,
    images TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS performance (
    date TEXT NOT NULL,
    listing_id INTEGER NOT NULL,
    views INTEGER NOT NULL,
    PRIMARY KEY (date, listing_id)
);

CREATE TABLE IF NOT EXISTS settings (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
    report_id TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- Proposal bundles ---

func (s *SQLiteStore) SaveBundle(ctx context.Context, b *Bundle) error {
	if len(b.Options) != BundleSize {
		return fmt.Errorf("bundle must carry exactly %d options, got %d", BundleSize, len(b.Options))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bundles (listing_id, generated_at) VALUES (?, ?)`,
		b.ListingID, b.GeneratedAt.Unix(),
	); err != nil {
		return fmt.Errorf("failed to insert bundle: %w", err)
	}

	for _, opt := range b.Options {
		opt.ListingID = b.ListingID
		opt.State = StateProposed
		if err := insertExperiment(ctx, tx, opt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bundle: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetBundle(ctx context.Context, listingID int64) (*Bundle, error) {
	var generatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT generated_at FROM bundles WHERE listing_id = ?`, listingID,
	).Scan(&generatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle: %w", err)
	}

	options, err := s.ListListingExperiments(ctx, listingID, StateProposed)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		ListingID:   listingID,
		GeneratedAt: time.Unix(generatedAt, 0),
		Options:     options,
	}, nil
}

func (s *SQLiteStore) ListBundles(ctx context.Context) ([]*Bundle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT listing_id FROM bundles ORDER BY generated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	defer rows.Close()

	var listingIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan bundle: %w", err)
		}
		listingIDs = append(listingIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bundles: %w", err)
	}

	var bundles []*Bundle
	for _, id := range listingIDs {
		b, err := s.GetBundle(ctx, id)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}
	return bundles, nil
}

// DeleteBundle discards a live bundle and its proposed options. Used when
// regenerating proposals; selected experiments are never deleted.
func (s *SQLiteStore) DeleteBundle(ctx context.Context, listingID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM bundles WHERE listing_id = ?`, listingID)
	if err != nil {
		return fmt.Errorf("failed to delete bundle: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM experiments WHERE listing_id = ? AND state = ?`,
		listingID, StateProposed,
	); err != nil {
		return fmt.Errorf("failed to delete bundle options: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bundle delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PromoteBundle(ctx context.Context, listingID int64, selectedID string, snap *Snapshot) (*Experiment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM bundles WHERE listing_id = ?`, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete bundle: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	snapJSON, err := marshalNullable(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	now := time.Now().Unix()
	result, err = tx.ExecContext(ctx,
		`UPDATE experiments SET state = ?, snapshot_json = ?, updated_at = ?
		 WHERE experiment_id = ? AND listing_id = ? AND state = ?`,
		StateUntested, snapJSON, now, selectedID, listingID, StateProposed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to promote selected option: %w", err)
	}
	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	// Remaining options move to the untested backlog rather than vanishing.
	if _, err := tx.ExecContext(ctx,
		`UPDATE experiments SET state = ?, updated_at = ? WHERE listing_id = ? AND state = ?`,
		StateUntested, now, listingID, StateProposed,
	); err != nil {
		return nil, fmt.Errorf("failed to move remaining options: %w", err)
	}

	selected, err := getExperimentTx(ctx, tx, listingID, selectedID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bundle promotion: %w", err)
	}
	return selected, nil
}

// --- Experiments ---

const experimentColumns = `experiment_id, listing_id, state, change_json, hypothesis,
	snapshot_json, baseline_json, start_date, planned_end_date, run_duration_days,
	model_used, evaluation_json, end_date, final_state`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var e Experiment
	var changeJSON string
	var hypothesis, snapshotJSON, baselineJSON sql.NullString
	var startDate, plannedEndDate, modelUsed sql.NullString
	var evaluationJSON, endDate, finalState sql.NullString

	err := row.Scan(
		&e.ID, &e.ListingID, &e.State, &changeJSON, &hypothesis,
		&snapshotJSON, &baselineJSON, &startDate, &plannedEndDate, &e.RunDurationDays,
		&modelUsed, &evaluationJSON, &endDate, &finalState,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan experiment: %w", err)
	}

	change, err := DecodeChange([]byte(changeJSON))
	if err != nil {
		return nil, err
	}
	e.Change = change
	e.Hypothesis = hypothesis.String
	e.StartDate = startDate.String
	e.PlannedEndDate = plannedEndDate.String
	e.ModelUsed = modelUsed.String
	e.EndDate = endDate.String
	e.FinalState = State(finalState.String)

	if snapshotJSON.Valid && snapshotJSON.String != "" {
		var snap Snapshot
		if err := json.Unmarshal([]byte(snapshotJSON.String), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		e.Snapshot = &snap
	}
	if baselineJSON.Valid && baselineJSON.String != "" {
		var baseline Baseline
		if err := json.Unmarshal([]byte(baselineJSON.String), &baseline); err != nil {
			return nil, fmt.Errorf("failed to unmarshal baseline: %w", err)
		}
		e.Baseline = &baseline
	}
	if evaluationJSON.Valid && evaluationJSON.String != "" {
		var eval Evaluation
		if err := json.Unmarshal([]byte(evaluationJSON.String), &eval); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evaluation: %w", err)
		}
		e.Evaluation = &eval
	}
	return &e, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func experimentArgs(e *Experiment) ([]any, error) {
	changeJSON, err := EncodeChange(e.Change)
	if err != nil {
		return nil, err
	}
	snapJSON, err := marshalNullable(e.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	baselineJSON, err := marshalNullable(e.Baseline)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal baseline: %w", err)
	}
	evalJSON, err := marshalNullable(e.Evaluation)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evaluation: %w", err)
	}
	return []any{
		e.ID, e.ListingID, string(e.State), string(changeJSON), nullableText(e.Hypothesis),
		snapJSON, baselineJSON, nullableText(e.StartDate), nullableText(e.PlannedEndDate), e.RunDurationDays,
		nullableText(e.ModelUsed), evalJSON, nullableText(e.EndDate), nullableText(string(e.FinalState)),
	}, nil
}

func insertExperiment(ctx context.Context, ex execer, e *Experiment) error {
	args, err := experimentArgs(e)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	args = append(args, now, now)
	_, err = ex.ExecContext(ctx,
		`INSERT INTO experiments (`+experimentColumns+`, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}
	return nil
}

func getExperimentTx(ctx context.Context, tx *sql.Tx, listingID int64, experimentID string) (*Experiment, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE listing_id = ? AND experiment_id = ?`,
		listingID, experimentID,
	)
	return scanExperiment(row)
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, listingID int64, experimentID string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE listing_id = ? AND experiment_id = ?`,
		listingID, experimentID,
	)
	return scanExperiment(row)
}

func (s *SQLiteStore) UpdateExperiment(ctx context.Context, e *Experiment) error {
	args, err := experimentArgs(e)
	if err != nil {
		return err
	}
	// Key columns lead in experimentArgs; reorder for the UPDATE statement.
	args = append(args[2:], time.Now().Unix(), e.ID, e.ListingID)
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET state = ?, change_json = ?, hypothesis = ?,
		 snapshot_json = ?, baseline_json = ?, start_date = ?, planned_end_date = ?,
		 run_duration_days = ?, model_used = ?, evaluation_json = ?, end_date = ?,
		 final_state = ?, updated_at = ?
		 WHERE experiment_id = ? AND listing_id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context, states ...State) ([]*Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments`
	args := stateArgs(states)
	if len(states) > 0 {
		query += ` WHERE state IN (` + placeholders(len(states)) + `)`
	}
	query += ` ORDER BY listing_id, created_at`
	return s.queryExperiments(ctx, query, args...)
}

func (s *SQLiteStore) ListListingExperiments(ctx context.Context, listingID int64, states ...State) ([]*Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE listing_id = ?`
	args := append([]any{listingID}, stateArgs(states)...)
	if len(states) > 0 {
		query += ` AND state IN (` + placeholders(len(states)) + `)`
	}
	query += ` ORDER BY created_at`
	return s.queryExperiments(ctx, query, args...)
}

func (s *SQLiteStore) queryExperiments(ctx context.Context, query string, args ...any) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate experiments: %w", err)
	}
	return experiments, nil
}

// --- Listing cache ---

func (s *SQLiteStore) UpsertListing(ctx context.Context, l *Listing) error {
	tagsJSON, err := json.Marshal(l.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO listings (listing_id, title, description, tags, views, state, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(listing_id) DO UPDATE SET
		   title = excluded.title, description = excluded.description,
		   tags = excluded.tags, views = excluded.views, state = excluded.state,
		   updated_at = excluded.updated_at`,
		l.ID, l.Title, l.Description, string(tagsJSON), l.Views, l.State, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listing: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetListing(ctx context.Context, listingID int64) (*Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT listing_id, title, description, tags, views, state FROM listings WHERE listing_id = ?`,
		listingID,
	)
	return scanListing(row)
}

func (s *SQLiteStore) ListListings(ctx context.Context) ([]*Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT listing_id, title, description, tags, views, state FROM listings ORDER BY listing_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listings: %w", err)
	}
	return listings, nil
}

func scanListing(row rowScanner) (*Listing, error) {
	var l Listing
	var tagsJSON, state sql.NullString
	err := row.Scan(&l.ID, &l.Title, &l.Description, &tagsJSON, &l.Views, &state)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan listing: %w", err)
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &l.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	l.State = state.String
	return &l, nil
}

func (s *SQLiteStore) SaveListingImages(ctx context.Context, listingID int64, images []Image) error {
	payload, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("failed to marshal images: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO listing_images (listing_id, images) VALUES (?, ?)
		 ON CONFLICT(listing_id) DO UPDATE SET images = excluded.images`,
		listingID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save listing images: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetListingImages(ctx context.Context, listingID int64) ([]Image, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT images FROM listing_images WHERE listing_id = ?`, listingID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing images: %w", err)
	}
	var images []Image
	if err := json.Unmarshal([]byte(payload), &images); err != nil {
		return nil, fmt.Errorf("failed to unmarshal images: %w", err)
	}
	return images, nil
}

// --- Image archive ---

func (s *SQLiteStore) ArchiveImages(ctx context.Context, experimentID string, images []Image) error {
	payload, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("failed to marshal archived images: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO archived_images (experiment_id, images) VALUES (?, ?)
		 ON CONFLICT(experiment_id) DO UPDATE SET images = excluded.images`,
		experimentID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to archive images: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ArchivedImages(ctx context.Context, experimentID string) ([]Image, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT images FROM archived_images WHERE experiment_id = ?`, experimentID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archived images: %w", err)
	}
	var images []Image
	if err := json.Unmarshal([]byte(payload), &images); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archived images: %w", err)
	}
	return images, nil
}

// --- Performance history ---

func (s *SQLiteStore) SavePerformanceRow(ctx context.Context, date string, views map[int64]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for listingID, count := range views {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO performance (date, listing_id, views) VALUES (?, ?, ?)
			 ON CONFLICT(date, listing_id) DO UPDATE SET views = excluded.views`,
			date, listingID, count,
		); err != nil {
			return fmt.Errorf("failed to save performance row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit performance row: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadPerformanceHistory(ctx context.Context) (PerformanceHistory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, listing_id, views FROM performance`)
	if err != nil {
		return nil, fmt.Errorf("failed to load performance history: %w", err)
	}
	defer rows.Close()

	history := make(PerformanceHistory)
	for rows.Next() {
		var date string
		var listingID int64
		var views int
		if err := rows.Scan(&date, &listingID, &views); err != nil {
			return nil, fmt.Errorf("failed to scan performance row: %w", err)
		}
		if history[date] == nil {
			history[date] = make(map[int64]int)
		}
		history[date][listingID] = views
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate performance rows: %w", err)
	}
	return history, nil
}

// --- Settings ---

func (s *SQLiteStore) GetSettings(ctx context.Context) (*Settings, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM settings WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	settings := DefaultSettings()
	if err := json.Unmarshal([]byte(payload), settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return settings, nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, settings *Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (id, payload) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// --- Reports ---

func (s *SQLiteStore) SaveReport(ctx context.Context, id string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (report_id, payload) VALUES (?, ?)
		 ON CONFLICT(report_id) DO UPDATE SET payload = excluded.payload`,
		id, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM reports WHERE report_id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report %s: %w", id, err)
	}
	return []byte(payload), nil
}

func (s *SQLiteStore) ListReports(ctx context.Context) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM reports ORDER BY created_at DESC, report_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports [][]byte
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, []byte(payload))
	}
	return reports, rows.Err()
}

// --- helpers ---

func marshalNullable(v any) (sql.NullString, error) {
	switch value := v.(type) {
	case *Snapshot:
		if value == nil {
			return sql.NullString{}, nil
		}
	case *Baseline:
		if value == nil {
			return sql.NullString{}, nil
		}
	case *Evaluation:
		if value == nil {
			return sql.NullString{}, nil
		}
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(payload), Valid: true}, nil
}

func nullableText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stateArgs(states []State) []any {
	args := make([]any, 0, len(states))
	for _, st := range states {
		args = append(args, string(st))
	}
	return args
}
