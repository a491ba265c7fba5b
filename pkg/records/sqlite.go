package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"synapseqc/pkg/features"
)

// SQLite is a feature catalogue backed by a SQLite database. Records keep
// the order in which they were saved.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the catalogue at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma failed: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS synapse_features (
			position INTEGER NOT NULL,
			annotator TEXT NOT NULL,
			chunk_number INTEGER NOT NULL,
			synapse_number INTEGER NOT NULL,
			synapse_id INTEGER NOT NULL,
			neurotransmitter TEXT NOT NULL,
			cleft_mean REAL,
			cleft_median REAL,
			cleft_membrane_mean REAL,
			cleft_membrane_median REAL,
			cytosol_mean REAL,
			cytosol_median REAL,
			tbars_mean REAL,
			tbars_median REAL,
			cleft_normalized_mean REAL,
			cleft_normalized_median REAL,
			tbars_normalized_mean REAL,
			tbars_normalized_median REAL,
			post_count INTEGER NOT NULL,
			num_vesicles INTEGER NOT NULL,
			vesicle_sizes TEXT NOT NULL,
			vesicle_eccentricities TEXT NOT NULL,
			vesicle_circularities TEXT NOT NULL,
			duplicate_number INTEGER NOT NULL,
			PRIMARY KEY (annotator, chunk_number, synapse_number)
		);
		CREATE INDEX IF NOT EXISTS synapse_features_id ON synapse_features (synapse_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

const columns = `annotator, chunk_number, synapse_number, synapse_id, neurotransmitter,
	cleft_mean, cleft_median, cleft_membrane_mean, cleft_membrane_median,
	cytosol_mean, cytosol_median, tbars_mean, tbars_median,
	cleft_normalized_mean, cleft_normalized_median, tbars_normalized_mean, tbars_normalized_median,
	post_count, num_vesicles, vesicle_sizes, vesicle_eccentricities, vesicle_circularities,
	duplicate_number`

// Save replaces the catalogue contents with recs.
func (s *SQLite) Save(ctx context.Context, recs []*features.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM synapse_features"); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO synapse_features (position, "+columns+
		") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range recs {
		sizes, err := json.Marshal(nonNilInts(r.VesicleSizes))
		if err != nil {
			return err
		}
		eccs, err := json.Marshal(nonNilFloats(r.VesicleEccentricities))
		if err != nil {
			return err
		}
		circs, err := json.Marshal(nonNilFloats(r.VesicleCircularities))
		if err != nil {
			return err
		}
		args := []interface{}{i, r.Annotator, r.ChunkNumber, r.SynapseNumber, r.SynapseID, r.Neurotransmitter}
		for _, v := range intensityFields(r) {
			args = append(args, nullFloat(*v))
		}
		args = append(args, r.PostCount, r.NumVesicles, string(sizes), string(eccs), string(circs), r.DuplicateNumber)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert %s_%d/%d: %w", r.Annotator, r.ChunkNumber, r.SynapseNumber, err)
		}
	}

	return tx.Commit()
}

// Load returns every record in saved order.
func (s *SQLite) Load(ctx context.Context) ([]*features.Record, error) {
	return s.query(ctx, "SELECT "+columns+" FROM synapse_features ORDER BY position")
}

// BySynapseID returns the annotations of one physical synapse.
func (s *SQLite) BySynapseID(ctx context.Context, id int64) ([]*features.Record, error) {
	return s.query(ctx, "SELECT "+columns+" FROM synapse_features WHERE synapse_id = ? ORDER BY position", id)
}

func (s *SQLite) query(ctx context.Context, q string, args ...interface{}) ([]*features.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*features.Record
	for rows.Next() {
		r := &features.Record{}
		nulls := make([]sql.NullFloat64, 12)
		var sizes, eccs, circs string

		dest := []interface{}{&r.Annotator, &r.ChunkNumber, &r.SynapseNumber, &r.SynapseID, &r.Neurotransmitter}
		for i := range nulls {
			dest = append(dest, &nulls[i])
		}
		dest = append(dest, &r.PostCount, &r.NumVesicles, &sizes, &eccs, &circs, &r.DuplicateNumber)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		for i, v := range intensityFields(r) {
			if nulls[i].Valid {
				*v = features.Float(nulls[i].Float64)
			}
		}
		if err := json.Unmarshal([]byte(sizes), &r.VesicleSizes); err != nil {
			return nil, fmt.Errorf("bad vesicle_sizes: %w", err)
		}
		if err := json.Unmarshal([]byte(eccs), &r.VesicleEccentricities); err != nil {
			return nil, fmt.Errorf("bad vesicle_eccentricities: %w", err)
		}
		if err := json.Unmarshal([]byte(circs), &r.VesicleCircularities); err != nil {
			return nil, fmt.Errorf("bad vesicle_circularities: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// intensityFields lists the nullable fields in column order
func intensityFields(r *features.Record) []**float64 {
	return []**float64{
		&r.CleftMeanIntensity, &r.CleftMedianIntensity,
		&r.CleftMembraneMeanIntensity, &r.CleftMembraneMedianIntensity,
		&r.CytosolMeanIntensity, &r.CytosolMedianIntensity,
		&r.TBarsMeanIntensity, &r.TBarsMedianIntensity,
		&r.CleftNormalizedMeanIntensity, &r.CleftNormalizedMedianIntensity,
		&r.TBarsNormalizedMeanIntensity, &r.TBarsNormalizedMedianIntensity,
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func nonNilFloats(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
