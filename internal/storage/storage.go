package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"upres/internal/metrics"
)

// Store wraps SQLite-backed persistence for jobs, per-image scores, and
// weight sets.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT,
            result_json TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS image_scores (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id TEXT,
            image_key TEXT NOT NULL,
            weight_set_id INTEGER,
            width INTEGER,
            height INTEGER,
            psnr_before REAL,
            mse_before REAL NOT NULL,
            ssim_before REAL NOT NULL,
            psnr_after REAL,
            mse_after REAL NOT NULL,
            ssim_after REAL NOT NULL,
            output_path TEXT,
            duration_ms INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS weight_sets (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            path TEXT NOT NULL,
            sha256 TEXT NOT NULL UNIQUE,
            layer_shapes TEXT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_image_scores_key ON image_scores(image_key);`,
		`CREATE INDEX IF NOT EXISTS idx_image_scores_job ON image_scores(job_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	ResultJSON  string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ScoreRecord is one evaluated pair. PSNR fields are nil when the metric was
// infinite (pixel-identical images): the degenerate value is representable,
// not an error.
type ScoreRecord struct {
	JobID       string
	ImageKey    string
	WeightSetID int64
	Width       int
	Height      int
	Before      metrics.ScoreTriple
	After       metrics.ScoreTriple
	OutputPath  string
	Duration    time.Duration
	CreatedAt   time.Time
}

// WeightSetRecord identifies a loaded weight file.
type WeightSetRecord struct {
	ID          int64
	Path        string
	SHA256      string
	LayerShapes string
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and result meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	var metaJSON []byte
	if meta != nil {
		metaJSON, _ = json.Marshal(meta)
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=?, result_json=? WHERE id=?;`,
		status, errMsg, string(metaJSON), id)
	return err
}

// RecordScores persists one pair's score triples.
func (s *Store) RecordScores(rec ScoreRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO image_scores
        (job_id, image_key, weight_set_id, width, height,
         psnr_before, mse_before, ssim_before,
         psnr_after, mse_after, ssim_after,
         output_path, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.ImageKey, nullableID(rec.WeightSetID), rec.Width, rec.Height,
		finiteOrNull(rec.Before.PSNR), rec.Before.MSE, rec.Before.SSIM,
		finiteOrNull(rec.After.PSNR), rec.After.MSE, rec.After.SSIM,
		rec.OutputPath, rec.Duration.Milliseconds())
	return err
}

// RecordWeightSet registers a weight file, returning its row id. Re-recording
// the same file (by content hash) returns the existing id.
func (s *Store) RecordWeightSet(path, sha, layerShapes string) (int64, error) {
	if s == nil {
		return 0, errors.New("store not initialized")
	}
	var id int64
	err := s.DB.QueryRow(`SELECT id FROM weight_sets WHERE sha256=?;`, sha).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := s.DB.Exec(`INSERT INTO weight_sets (path, sha256, layer_shapes) VALUES (?, ?, ?);`,
		path, sha, layerShapes)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, input_path, output_path, options_json, COALESCE(result_json, ''), created_at, started_at, completed_at, error_message FROM processing_jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &rec.ResultJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecentScores returns the most recent score rows up to limit.
func (s *Store) RecentScores(limit int) ([]ScoreRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, image_key, COALESCE(weight_set_id, 0), width, height,
        psnr_before, mse_before, ssim_before, psnr_after, mse_after, ssim_after,
        COALESCE(output_path, ''), duration_ms, created_at
        FROM image_scores ORDER BY created_at DESC, id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ScoreRecord
	for rows.Next() {
		var rec ScoreRecord
		var psnrBefore, psnrAfter sql.NullFloat64
		var durationMS int64
		if err := rows.Scan(&rec.JobID, &rec.ImageKey, &rec.WeightSetID, &rec.Width, &rec.Height,
			&psnrBefore, &rec.Before.MSE, &rec.Before.SSIM,
			&psnrAfter, &rec.After.MSE, &rec.After.SSIM,
			&rec.OutputPath, &durationMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Before.PSNR = floatOrInf(psnrBefore)
		rec.After.PSNR = floatOrInf(psnrAfter)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ScoresForKey returns the history of one image key, newest first.
func (s *Store) ScoresForKey(key string, limit int) ([]ScoreRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, image_key, COALESCE(weight_set_id, 0), width, height,
        psnr_before, mse_before, ssim_before, psnr_after, mse_after, ssim_after,
        COALESCE(output_path, ''), duration_ms, created_at
        FROM image_scores WHERE image_key=? ORDER BY created_at DESC, id DESC LIMIT ?;`, key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ScoreRecord
	for rows.Next() {
		var rec ScoreRecord
		var psnrBefore, psnrAfter sql.NullFloat64
		var durationMS int64
		if err := rows.Scan(&rec.JobID, &rec.ImageKey, &rec.WeightSetID, &rec.Width, &rec.Height,
			&psnrBefore, &rec.Before.MSE, &rec.Before.SSIM,
			&psnrAfter, &rec.After.MSE, &rec.After.SSIM,
			&rec.OutputPath, &durationMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Before.PSNR = floatOrInf(psnrBefore)
		rec.After.PSNR = floatOrInf(psnrAfter)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// finiteOrNull maps an infinite PSNR to SQL NULL.
func finiteOrNull(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

func floatOrInf(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.Inf(1)
	}
	return v.Float64
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// LayerShapesJSON renders layer dimensions for the weight_sets table.
func LayerShapesJSON(shapes [][4]int) string {
	b, err := json.Marshal(shapes)
	if err != nil {
		return fmt.Sprintf("%v", shapes)
	}
	return string(b)
}
