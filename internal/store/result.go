package store

import (
	"database/sql"
	"time"

	"github.com/ayusman/handtrack/internal/emitter"
	"github.com/ayusman/handtrack/internal/track"
)

// Record is one persisted worker result.
type Record struct {
	ID          int64
	SessionID   string
	Worker      string
	Seq         uint64
	FrameSeq    uint64
	Source      track.Source
	Stride      int
	PublishedAt time.Time
	Objects     []track.Object
}

// ResultRepository provides operations on persisted results.
type ResultRepository struct {
	db *sql.DB
}

// Results returns the result repository for this store.
func (s *Store) Results() *ResultRepository {
	return &ResultRepository{db: s.db}
}

// Insert stores msg and its objects under sessionID in one transaction.
func (r *ResultRepository) Insert(sessionID string, msg emitter.Message) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO results (session_id, worker, seq, frame_seq, source, stride, published_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, msg.Worker, msg.Seq, msg.FrameSeq, string(msg.Source), msg.Stride, msg.Timestamp,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, o := range msg.Objects {
		_, err := tx.Exec(
			`INSERT INTO detections (result_id, track_id, class, label, x1, y1, x2, y2, score, cov_trace)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, o.ID, o.Class, o.Label, o.Box.X1, o.Box.Y1, o.Box.X2, o.Box.Y2, o.Score, o.CovTrace,
		)
		if err != nil {
			return 0, err
		}
	}

	return id, tx.Commit()
}

// List returns the most recent results of a session, newest first. An empty
// worker matches every worker; limit <= 0 means no limit.
func (r *ResultRepository) List(sessionID, worker string, limit int) ([]*Record, error) {
	query := `SELECT id, session_id, worker, seq, frame_seq, source, stride, published_ms
		 FROM results WHERE session_id = ?`
	args := []any{sessionID}
	if worker != "" {
		query += ` AND worker = ?`
		args = append(args, worker)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var source string
		var published int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Worker, &rec.Seq, &rec.FrameSeq,
			&source, &rec.Stride, &published); err != nil {
			return nil, err
		}
		rec.Source = track.Source(source)
		rec.PublishedAt = time.UnixMilli(published)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, rec := range records {
		objs, err := r.objects(rec.ID)
		if err != nil {
			return nil, err
		}
		rec.Objects = objs
	}
	return records, nil
}

func (r *ResultRepository) objects(resultID int64) ([]track.Object, error) {
	rows, err := r.db.Query(
		`SELECT track_id, class, label, x1, y1, x2, y2, score, cov_trace
		 FROM detections WHERE result_id = ? ORDER BY track_id`,
		resultID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	objs := []track.Object{}
	for rows.Next() {
		var o track.Object
		if err := rows.Scan(&o.ID, &o.Class, &o.Label, &o.Box.X1, &o.Box.Y1, &o.Box.X2, &o.Box.Y2,
			&o.Score, &o.CovTrace); err != nil {
			return nil, err
		}
		objs = append(objs, o)
	}
	return objs, rows.Err()
}

// Count returns how many results a session holds, per source.
func (r *ResultRepository) Count(sessionID string) (map[track.Source]int, error) {
	rows, err := r.db.Query(
		`SELECT source, COUNT(*) FROM results WHERE session_id = ? GROUP BY source`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[track.Source]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		counts[track.Source(source)] = n
	}
	return counts, rows.Err()
}
