package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Store keeps the history of training runs.
type Store struct {
	database *sql.DB
}

// Open opens or creates the SQLite database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database dir")
		}
	}
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	query := `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL UNIQUE,
        model_name VARCHAR(50),
        accuracy REAL,
        weighted_f1 REAL,
        precision REAL,
        recall REAL,
        train_rows INTEGER,
        test_rows INTEGER,
        data_points INTEGER,
        artifact_path TEXT,
        trained_at DATETIME
    );
    CREATE INDEX IF NOT EXISTS idx_training_log_trained_at ON training_log(trained_at);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &Store{database: database}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.database.Close()
}

type TrainingLog struct {
	RunID        string    `json:"run_id"`
	ModelName    string    `json:"model_name"`
	Accuracy     float64   `json:"accuracy"`
	WeightedF1   float64   `json:"weighted_f1"`
	Precision    float64   `json:"precision"`
	Recall       float64   `json:"recall"`
	TrainRows    int       `json:"train_rows"`
	TestRows     int       `json:"test_rows"`
	DataPoints   int       `json:"data_points"`
	ArtifactPath string    `json:"artifact_path"`
	TrainedAt    time.Time `json:"trained_at"`
}

// SaveTrainingLog records one run.
func (s *Store) SaveTrainingLog(entry TrainingLog) error {
	if entry.RunID == "" {
		return errors.New("run id required")
	}
	if entry.TrainedAt.IsZero() {
		entry.TrainedAt = time.Now()
	}
	_, err := s.database.Exec(`
        INSERT INTO training_log (
            run_id, model_name, accuracy, weighted_f1, precision, recall,
            train_rows, test_rows, data_points, artifact_path, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		entry.RunID,
		entry.ModelName,
		entry.Accuracy,
		entry.WeightedF1,
		entry.Precision,
		entry.Recall,
		entry.TrainRows,
		entry.TestRows,
		entry.DataPoints,
		entry.ArtifactPath,
		entry.TrainedAt.UTC(),
	)
	return errors.Wrap(err, "insert training log")
}

// LoadTrainingLog returns the most recent runs, newest first. A limit of 0
// returns every run.
func (s *Store) LoadTrainingLog(limit int) ([]TrainingLog, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.database.Query(`
        SELECT run_id, model_name, accuracy, weighted_f1, precision, recall,
               train_rows, test_rows, data_points, artifact_path, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query training log")
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(
			&log.RunID, &log.ModelName, &log.Accuracy, &log.WeightedF1, &log.Precision, &log.Recall,
			&log.TrainRows, &log.TestRows, &log.DataPoints, &log.ArtifactPath, &log.TrainedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan training log")
		}
		logs = append(logs, log)
	}
	return logs, errors.Wrap(rows.Err(), "iterate training log")
}
