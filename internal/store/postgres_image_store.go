package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

const imageSchemaSQL = `
CREATE TABLE IF NOT EXISTS images (
	id TEXT PRIMARY KEY,
	owner_ref TEXT NOT NULL DEFAULT '',
	current_version_id BIGINT NOT NULL,
	next_version_id BIGINT NOT NULL,
	format TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	byte_size BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS image_versions (
	image_id TEXT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
	version_id BIGINT NOT NULL,
	operation TEXT NOT NULL,
	params JSONB NOT NULL DEFAULT '{}',
	storage_ref TEXT NOT NULL,
	format TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	byte_size BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (image_id, version_id)
);

CREATE INDEX IF NOT EXISTS idx_images_updated_at ON images (updated_at);
`

type PostgresImageStore struct {
	db *sql.DB
}

func NewPostgresImageStore(ctx context.Context, dsn string) (*PostgresImageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresImageStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresImageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, imageSchemaSQL); err != nil {
		return fmt.Errorf("ensure image schema: %w", err)
	}
	return nil
}

func (s *PostgresImageStore) Close() error {
	return s.db.Close()
}

func (s *PostgresImageStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresImageStore) CreateImage(ctx context.Context, img domain.LogicalImage, base domain.Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create image: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO images (id, owner_ref, current_version_id, next_version_id, format, width, height, byte_size, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		img.ID,
		img.OwnerRef,
		img.CurrentVersionID,
		img.NextVersionID,
		string(img.Format),
		img.Width,
		img.Height,
		img.ByteSize,
		img.CreatedAt,
		img.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}

	if err := insertVersion(ctx, tx, base); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create image: %w", err)
	}
	return nil
}

func (s *PostgresImageStore) GetImage(ctx context.Context, id string) (domain.LogicalImage, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, owner_ref, current_version_id, next_version_id, format, width, height, byte_size, created_at, updated_at
		 FROM images
		 WHERE id = $1`,
		id,
	)

	img, err := scanImage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.LogicalImage{}, false, nil
		}
		return domain.LogicalImage{}, false, fmt.Errorf("query image: %w", err)
	}
	return img, true, nil
}

func (s *PostgresImageStore) ListImages(ctx context.Context, owner string) ([]domain.LogicalImage, error) {
	query := `SELECT id, owner_ref, current_version_id, next_version_id, format, width, height, byte_size, created_at, updated_at
		 FROM images`
	args := []any{}
	if owner != "" {
		query += ` WHERE owner_ref = $1`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var out []domain.LogicalImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return out, nil
}

func (s *PostgresImageStore) ListExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM images WHERE updated_at < $1 ORDER BY id`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired images: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired image id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired images: %w", err)
	}
	return ids, nil
}

func (s *PostgresImageStore) ListVersions(ctx context.Context, imageID string) ([]domain.Version, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT image_id, version_id, operation, params, storage_ref, format, width, height, byte_size, created_at
		 FROM image_versions
		 WHERE image_id = $1
		 ORDER BY version_id`,
		imageID,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []domain.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, imageID)
	}
	return out, nil
}

func (s *PostgresImageStore) GetVersion(ctx context.Context, imageID string, versionID int64) (domain.Version, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT image_id, version_id, operation, params, storage_ref, format, width, height, byte_size, created_at
		 FROM image_versions
		 WHERE image_id = $1 AND version_id = $2`,
		imageID,
		versionID,
	)

	v, err := scanVersion(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Version{}, false, nil
		}
		return domain.Version{}, false, fmt.Errorf("query version: %w", err)
	}
	return v, true, nil
}

func (s *PostgresImageStore) AppendVersion(ctx context.Context, img domain.LogicalImage, v domain.Version, evictIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := updateImage(ctx, tx, img); err != nil {
		return err
	}
	if err := insertVersion(ctx, tx, v); err != nil {
		return err
	}
	if len(evictIDs) > 0 {
		_, err = tx.ExecContext(
			ctx,
			`DELETE FROM image_versions WHERE image_id = $1 AND version_id = ANY($2)`,
			img.ID,
			pq.Array(evictIDs),
		)
		if err != nil {
			return fmt.Errorf("evict versions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append version: %w", err)
	}
	return nil
}

func (s *PostgresImageStore) SetCurrent(ctx context.Context, img domain.LogicalImage, dropIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set current: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := updateImage(ctx, tx, img); err != nil {
		return err
	}
	if len(dropIDs) > 0 {
		_, err = tx.ExecContext(
			ctx,
			`DELETE FROM image_versions WHERE image_id = $1 AND version_id = ANY($2)`,
			img.ID,
			pq.Array(dropIDs),
		)
		if err != nil {
			return fmt.Errorf("drop versions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set current: %w", err)
	}
	return nil
}

func (s *PostgresImageStore) DeleteImage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return nil
}

func updateImage(ctx context.Context, tx *sql.Tx, img domain.LogicalImage) error {
	res, err := tx.ExecContext(
		ctx,
		`UPDATE images
		 SET current_version_id = $1, next_version_id = $2, format = $3, width = $4, height = $5, byte_size = $6, updated_at = $7
		 WHERE id = $8`,
		img.CurrentVersionID,
		img.NextVersionID,
		string(img.Format),
		img.Width,
		img.Height,
		img.ByteSize,
		img.UpdatedAt,
		img.ID,
	)
	if err != nil {
		return fmt.Errorf("update image: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update image: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, img.ID)
	}
	return nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, v domain.Version) error {
	params := v.Params
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal version params: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO image_versions (image_id, version_id, operation, params, storage_ref, format, width, height, byte_size, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ImageID,
		v.VersionID,
		string(v.Operation),
		paramsJSON,
		v.StorageRef,
		string(v.Format),
		v.Width,
		v.Height,
		v.ByteSize,
		v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (domain.LogicalImage, error) {
	var (
		img    domain.LogicalImage
		format string
	)
	err := row.Scan(
		&img.ID,
		&img.OwnerRef,
		&img.CurrentVersionID,
		&img.NextVersionID,
		&format,
		&img.Width,
		&img.Height,
		&img.ByteSize,
		&img.CreatedAt,
		&img.UpdatedAt,
	)
	if err != nil {
		return domain.LogicalImage{}, err
	}
	img.Format = domain.Format(format)
	return img, nil
}

func scanVersion(row rowScanner) (domain.Version, error) {
	var (
		v          domain.Version
		operation  string
		format     string
		paramsJSON []byte
	)
	err := row.Scan(
		&v.ImageID,
		&v.VersionID,
		&operation,
		&paramsJSON,
		&v.StorageRef,
		&format,
		&v.Width,
		&v.Height,
		&v.ByteSize,
		&v.CreatedAt,
	)
	if err != nil {
		return domain.Version{}, err
	}
	if err := json.Unmarshal(paramsJSON, &v.Params); err != nil {
		return domain.Version{}, fmt.Errorf("unmarshal version params: %w", err)
	}
	if len(v.Params) == 0 {
		v.Params = nil
	}
	v.Operation = domain.Operation(operation)
	v.Format = domain.Format(format)
	return v, nil
}
