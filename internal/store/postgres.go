package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/pkg/models"
)

// PostgresStore implements Store against PostgreSQL via pgxpool. Used in
// production; the in-memory MemoryStore covers local development and tests.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to connURL, retrying with exponential backoff
// (the database may still be starting when the agent process boots), runs
// migrations, and seeds the settings singleton if empty.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int, defaults models.SystemSettings) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	var pool *pgxpool.Pool
	connect := func() error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.RetryNotify(connect, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		log.Warn().Err(err).Dur("retry_in", d).Msg("Postgres connect failed, retrying")
	}); err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.seedSettings(ctx, defaults); err != nil {
		pool.Close()
		return nil, fmt.Errorf("seed settings: %w", err)
	}

	log.Info().Msg("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *PostgresStore) Close() error                   { s.pool.Close(); return nil }

func (s *PostgresStore) migrate(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS messages (
		id                  BIGSERIAL PRIMARY KEY,
		text                TEXT NOT NULL,
		source              TEXT NOT NULL,
		split               TEXT NOT NULL DEFAULT '',
		true_label          TEXT NOT NULL DEFAULT '',
		status              TEXT NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_model_version  BIGINT NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_status ON messages (status);
	CREATE INDEX IF NOT EXISTS idx_messages_source_split_status ON messages (source, split, status);

	CREATE TABLE IF NOT EXISTS predictions (
		id                BIGSERIAL PRIMARY KEY,
		message_id        BIGINT NOT NULL REFERENCES messages(id),
		model_version_id  BIGINT NOT NULL,
		p_spam            DOUBLE PRECISION NOT NULL,
		decision          TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_predictions_message ON predictions (message_id);

	CREATE TABLE IF NOT EXISTS reviews (
		id           BIGSERIAL PRIMARY KEY,
		message_id   BIGINT NOT NULL UNIQUE REFERENCES messages(id),
		label        TEXT NOT NULL,
		reviewed_by  TEXT NOT NULL DEFAULT '',
		reviewed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		note         TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS model_versions (
		id                   BIGSERIAL PRIMARY KEY,
		version              BIGINT NOT NULL,
		train_template        TEXT NOT NULL,
		train_set_size       INT NOT NULL,
		gold_included_count  INT NOT NULL,
		validation_set_size  INT NOT NULL,
		metrics              JSONB NOT NULL,
		threshold_allow      DOUBLE PRECISION NOT NULL,
		threshold_block      DOUBLE PRECISION NOT NULL,
		artifact_path        TEXT NOT NULL,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		is_active            BOOLEAN NOT NULL DEFAULT false
	);

	CREATE TABLE IF NOT EXISTS system_settings (
		id                        SMALLINT PRIMARY KEY DEFAULT 1,
		active_model_version      BIGINT NOT NULL DEFAULT 0,
		threshold_allow           DOUBLE PRECISION NOT NULL,
		threshold_block           DOUBLE PRECISION NOT NULL,
		retrain_gold_threshold    INT NOT NULL,
		new_gold_since_last_train INT NOT NULL DEFAULT 0,
		auto_retrain_enabled      BOOLEAN NOT NULL DEFAULT false,
		last_retrain_at           TIMESTAMPTZ,
		CHECK (id = 1)
	);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) seedSettings(ctx context.Context, defaults models.SystemSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_settings (id, threshold_allow, threshold_block, retrain_gold_threshold, auto_retrain_enabled)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		defaults.ThresholdAllow, defaults.ThresholdBlock, defaults.RetrainGoldThreshold, defaults.AutoRetrainEnabled)
	return err
}

func wrapPg(op, entity, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storeerr.New(storeerr.NotFound, op, entity, key, err)
	}
	return storeerr.New(storeerr.Transient, op, entity, key, err)
}

// ── Messages ─────────────────────────────────────────────────

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (text, source, split, true_label, status, created_at, last_model_version)
		VALUES ($1, $2, $3, $4, $5, now(), $6)
		RETURNING id, created_at`,
		msg.Text, msg.Source, msg.Split, msg.TrueLabel, msg.Status, msg.LastModelVersion)
	return row.Scan(&msg.ID, &msg.CreatedAt)
}

func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, text, source, split, true_label, status, created_at, last_model_version
		FROM messages WHERE id = $1`, id)
	var m models.Message
	if err := row.Scan(&m.ID, &m.Text, &m.Source, &m.Split, &m.TrueLabel, &m.Status, &m.CreatedAt, &m.LastModelVersion); err != nil {
		return nil, wrapPg("GetMessage", "message", fmt.Sprint(id), err)
	}
	return &m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error) {
	q := `SELECT m.id, m.text, m.source, m.split, m.true_label, m.status, m.created_at, m.last_model_version
		FROM messages m WHERE 1=1`
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Source.Set {
		q += " AND m.source = " + arg(filter.Source.Value)
	}
	if filter.Split != "" {
		q += " AND m.split = " + arg(filter.Split)
	}
	if filter.Status != "" {
		q += " AND m.status = " + arg(filter.Status)
	}
	if filter.HasTrueLabel {
		q += " AND m.true_label <> ''"
	}
	if filter.HasReview {
		q += " AND EXISTS (SELECT 1 FROM reviews r WHERE r.message_id = m.id)"
	}
	if filter.ExcludeConsumed {
		q += " AND m.status <> 'scored'"
	}
	q += " ORDER BY m.id"
	if filter.Limit > 0 {
		q += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, wrapPg("ListMessages", "message", "", err)
	}
	defer rows.Close()

	out := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Text, &m.Source, &m.Split, &m.TrueLabel, &m.Status, &m.CreatedAt, &m.LastModelVersion); err != nil {
			return nil, wrapPg("ListMessages", "message", "", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[models.MessageStatus]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM messages WHERE source = 'runtime' GROUP BY status`)
	if err != nil {
		return nil, wrapPg("CountByStatus", "message", "", err)
	}
	defer rows.Close()

	counts := make(map[models.MessageStatus]int)
	for rows.Next() {
		var status models.MessageStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapPg("CountByStatus", "message", "", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ConditionalUpdateStatus is the SQL analogue of MemoryStore's mutex-guarded
// compare-and-check: the WHERE clause makes the row visible to exactly one
// concurrent claimer, and RowsAffected tells the caller whether it won.
func (s *PostgresStore) ConditionalUpdateStatus(ctx context.Context, id int64, expected, newStatus models.MessageStatus) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = $1 WHERE id = $2 AND status = $3`,
		newStatus, id, expected)
	if err != nil {
		return 0, wrapPg("ConditionalUpdateStatus", "message", fmt.Sprint(id), err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) UpdateMessageAfterScore(ctx context.Context, id int64, newStatus models.MessageStatus, modelVersionID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = $1, last_model_version = $2 WHERE id = $3`,
		newStatus, modelVersionID, id)
	if err != nil {
		return wrapPg("UpdateMessageAfterScore", "message", fmt.Sprint(id), err)
	}
	if tag.RowsAffected() == 0 {
		return storeerr.New(storeerr.NotFound, "UpdateMessageAfterScore", "message", fmt.Sprint(id), nil)
	}
	return nil
}

func (s *PostgresStore) UpdateMessageAfterReview(ctx context.Context, id int64, label models.Label, newStatus models.MessageStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET true_label = $1, status = $2 WHERE id = $3`,
		label, newStatus, id)
	if err != nil {
		return wrapPg("UpdateMessageAfterReview", "message", fmt.Sprint(id), err)
	}
	if tag.RowsAffected() == 0 {
		return storeerr.New(storeerr.NotFound, "UpdateMessageAfterReview", "message", fmt.Sprint(id), nil)
	}
	return nil
}

func (s *PostgresStore) MarkConsumed(ctx context.Context, ids []int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = 'scored' WHERE id = ANY($1) AND source = 'dataset'`, ids)
	if err != nil {
		return 0, wrapPg("MarkConsumed", "message", "", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ResetConsumed(ctx context.Context, split models.MessageSplit) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = 'dataset'
		WHERE source = 'dataset' AND split = $1 AND status = 'scored'`, split)
	if err != nil {
		return 0, wrapPg("ResetConsumed", "message", "", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteDatasetRows(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE source = 'dataset'`)
	if err != nil {
		return 0, wrapPg("DeleteDatasetRows", "message", "", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) OldestQueuedID(ctx context.Context) (int64, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id FROM messages WHERE status = 'queued' ORDER BY created_at, id LIMIT 1`)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, wrapPg("OldestQueuedID", "message", "", err)
	}
	return id, nil
}

// ── Predictions ──────────────────────────────────────────────

func (s *PostgresStore) CreatePrediction(ctx context.Context, p *models.Prediction) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO predictions (message_id, model_version_id, p_spam, decision, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, created_at`,
		p.MessageID, p.ModelVersionID, p.PSpam, p.Decision)
	return row.Scan(&p.ID, &p.CreatedAt)
}

func (s *PostgresStore) ListPredictionsForMessage(ctx context.Context, messageID int64) ([]models.Prediction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, model_version_id, p_spam, decision, created_at
		FROM predictions WHERE message_id = $1 ORDER BY created_at`, messageID)
	if err != nil {
		return nil, wrapPg("ListPredictionsForMessage", "prediction", fmt.Sprint(messageID), err)
	}
	defer rows.Close()

	out := make([]models.Prediction, 0)
	for rows.Next() {
		var p models.Prediction
		if err := rows.Scan(&p.ID, &p.MessageID, &p.ModelVersionID, &p.PSpam, &p.Decision, &p.CreatedAt); err != nil {
			return nil, wrapPg("ListPredictionsForMessage", "prediction", fmt.Sprint(messageID), err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ── Reviews ──────────────────────────────────────────────────

func (s *PostgresStore) CreateReview(ctx context.Context, r *models.Review) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO reviews (message_id, label, reviewed_by, reviewed_at, note)
		VALUES ($1, $2, $3, now(), $4)
		RETURNING id, reviewed_at`,
		r.MessageID, r.Label, r.ReviewedBy, r.Note)
	if err := row.Scan(&r.ID, &r.ReviewedAt); err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return storeerr.New(storeerr.Conflict, "CreateReview", "review", fmt.Sprint(r.MessageID), err)
		}
		return wrapPg("CreateReview", "review", fmt.Sprint(r.MessageID), err)
	}
	return nil
}

func (s *PostgresStore) GetReviewForMessage(ctx context.Context, messageID int64) (*models.Review, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, message_id, label, reviewed_by, reviewed_at, note
		FROM reviews WHERE message_id = $1`, messageID)
	var r models.Review
	if err := row.Scan(&r.ID, &r.MessageID, &r.Label, &r.ReviewedBy, &r.ReviewedAt, &r.Note); err != nil {
		return nil, wrapPg("GetReviewForMessage", "review", fmt.Sprint(messageID), err)
	}
	return &r, nil
}

// ── Model versions ───────────────────────────────────────────

func (s *PostgresStore) CreateModelVersion(ctx context.Context, mv *models.ModelVersion) error {
	metricsJSON, err := json.Marshal(mv.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO model_versions
			(version, train_template, train_set_size, gold_included_count, validation_set_size,
			 metrics, threshold_allow, threshold_block, artifact_path, created_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), $10)
		RETURNING id, created_at`,
		mv.Version, mv.TrainTemplate, mv.TrainSetSize, mv.GoldIncludedCount, mv.ValidationSetSize,
		metricsJSON, mv.ThresholdAllow, mv.ThresholdBlock, mv.ArtifactPath, mv.IsActive)
	return row.Scan(&mv.ID, &mv.CreatedAt)
}

func (s *PostgresStore) scanModelVersion(row pgx.Row) (*models.ModelVersion, error) {
	var mv models.ModelVersion
	var metricsJSON []byte
	err := row.Scan(&mv.ID, &mv.Version, &mv.TrainTemplate, &mv.TrainSetSize, &mv.GoldIncludedCount,
		&mv.ValidationSetSize, &metricsJSON, &mv.ThresholdAllow, &mv.ThresholdBlock, &mv.ArtifactPath,
		&mv.CreatedAt, &mv.IsActive)
	if err != nil {
		return nil, err
	}
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &mv.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	return &mv, nil
}

const modelVersionColumns = `id, version, train_template, train_set_size, gold_included_count,
	validation_set_size, metrics, threshold_allow, threshold_block, artifact_path, created_at, is_active`

func (s *PostgresStore) GetModelVersion(ctx context.Context, id int64) (*models.ModelVersion, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+modelVersionColumns+` FROM model_versions WHERE id = $1`, id)
	mv, err := s.scanModelVersion(row)
	if err != nil {
		return nil, wrapPg("GetModelVersion", "model_version", fmt.Sprint(id), err)
	}
	return mv, nil
}

func (s *PostgresStore) GetActiveModelVersion(ctx context.Context) (*models.ModelVersion, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+modelVersionColumns+` FROM model_versions WHERE is_active LIMIT 1`)
	mv, err := s.scanModelVersion(row)
	if err != nil {
		return nil, wrapPg("GetActiveModelVersion", "model_version", "active", err)
	}
	return mv, nil
}

func (s *PostgresStore) MaxVersion(ctx context.Context) (int64, error) {
	row := s.pool.QueryRow(ctx, `SELECT coalesce(max(version), 0) FROM model_versions`)
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, wrapPg("MaxVersion", "model_version", "", err)
	}
	return max, nil
}

// ActivateModelVersion performs the deactivate-old/activate-new/update-settings
// flip inside a single transaction, matching spec.md §4.5's requirement that
// steps 1-3 are atomic.
func (s *PostgresStore) ActivateModelVersion(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapPg("ActivateModelVersion", "model_version", fmt.Sprint(id), err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE model_versions SET is_active = false WHERE is_active`); err != nil {
		return wrapPg("ActivateModelVersion", "model_version", fmt.Sprint(id), err)
	}
	tag, err := tx.Exec(ctx, `UPDATE model_versions SET is_active = true WHERE id = $1`, id)
	if err != nil {
		return wrapPg("ActivateModelVersion", "model_version", fmt.Sprint(id), err)
	}
	if tag.RowsAffected() == 0 {
		return storeerr.New(storeerr.NotFound, "ActivateModelVersion", "model_version", fmt.Sprint(id), nil)
	}
	if _, err := tx.Exec(ctx, `UPDATE system_settings SET active_model_version = $1 WHERE id = 1`, id); err != nil {
		return wrapPg("ActivateModelVersion", "model_version", fmt.Sprint(id), err)
	}

	return tx.Commit(ctx)
}

// ── Settings ─────────────────────────────────────────────────

func (s *PostgresStore) GetSettings(ctx context.Context) (*models.SystemSettings, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT active_model_version, threshold_allow, threshold_block, retrain_gold_threshold,
			new_gold_since_last_train, auto_retrain_enabled, coalesce(last_retrain_at, 'epoch')
		FROM system_settings WHERE id = 1`)
	var st models.SystemSettings
	if err := row.Scan(&st.ActiveModelVersion, &st.ThresholdAllow, &st.ThresholdBlock, &st.RetrainGoldThreshold,
		&st.NewGoldSinceLastTrain, &st.AutoRetrainEnabled, &st.LastRetrainAt); err != nil {
		return nil, wrapPg("GetSettings", "settings", "", err)
	}
	return &st, nil
}

func (s *PostgresStore) IncrementGoldCounter(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE system_settings SET new_gold_since_last_train = new_gold_since_last_train + 1 WHERE id = 1`)
	return wrapPg("IncrementGoldCounter", "settings", "", err)
}

func (s *PostgresStore) ResetGoldCounterAfterTraining(ctx context.Context, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE system_settings SET new_gold_since_last_train = 0, last_retrain_at = $1 WHERE id = 1`, at)
	return wrapPg("ResetGoldCounterAfterTraining", "settings", "", err)
}

func (s *PostgresStore) UpdateThresholds(ctx context.Context, allow, block float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE system_settings SET threshold_allow = $1, threshold_block = $2 WHERE id = 1`, allow, block)
	return wrapPg("UpdateThresholds", "settings", "", err)
}

func (s *PostgresStore) UpdateRetrainGoldThreshold(ctx context.Context, threshold int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE system_settings SET retrain_gold_threshold = $1 WHERE id = 1`, threshold)
	return wrapPg("UpdateRetrainGoldThreshold", "settings", "", err)
}

func (s *PostgresStore) UpdateAutoRetrainEnabled(ctx context.Context, enabled bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE system_settings SET auto_retrain_enabled = $1 WHERE id = 1`, enabled)
	return wrapPg("UpdateAutoRetrainEnabled", "settings", "", err)
}

var _ Store = (*PostgresStore)(nil)
