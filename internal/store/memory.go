// Package store — in-memory Store implementation.
// Used for local development and the test suite. Supports file-based
// snapshot persistence so data survives restarts without a real database.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/pkg/models"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Messages      map[int64]*models.Message      `json:"messages"`
	Predictions   map[int64]*models.Prediction   `json:"predictions"`
	Reviews       map[int64]*models.Review       `json:"reviews"`
	ModelVersions map[int64]*models.ModelVersion `json:"model_versions"`
	Settings      *models.SystemSettings         `json:"settings"`
	NextMessageID int64                          `json:"next_message_id"`
	NextPredID    int64                          `json:"next_prediction_id"`
	NextReviewID  int64                          `json:"next_review_id"`
	NextVersionID int64                          `json:"next_version_id"`
}

// MemoryStore implements Store with in-memory maps guarded by a single
// mutex. The conditional update primitive is a true compare-and-check
// under that mutex, giving it the same atomicity a single SQL
// UPDATE ... WHERE statement would have.
type MemoryStore struct {
	mu sync.RWMutex

	messages      map[int64]*models.Message
	predictions   map[int64]*models.Prediction
	reviewsByMsg  map[int64]*models.Review
	modelVersions map[int64]*models.ModelVersion
	settings      *models.SystemSettings

	nextMessageID int64
	nextPredID    int64
	nextReviewID  int64
	nextVersionID int64

	// Persistence
	snapshotPath string
	saveMu       sync.Mutex
	saveCh       chan struct{}
	doneCh       chan struct{}
}

// NewMemoryStore creates a new in-memory store seeded with the given
// settings defaults. If SPAMWATCH_DATA_DIR is set, data is persisted to a
// JSON file in that directory.
func NewMemoryStore(defaults models.SystemSettings) *MemoryStore {
	m := &MemoryStore{
		messages:      make(map[int64]*models.Message),
		predictions:   make(map[int64]*models.Prediction),
		reviewsByMsg:  make(map[int64]*models.Review),
		modelVersions: make(map[int64]*models.ModelVersion),
		settings:      &defaults,
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}

	dataDir := os.Getenv("SPAMWATCH_DATA_DIR")
	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("In-memory store configured")
	return m
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error {
	if m.snapshotPath != "" {
		close(m.doneCh)
		m.saveSnapshot()
	}
	return nil
}

// ── persistence ──────────────────────────────────────────────

func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Messages:      m.messages,
		Predictions:   m.predictions,
		Reviews:       m.reviewsByMsg,
		ModelVersions: m.modelVersions,
		Settings:      m.settings,
		NextMessageID: m.nextMessageID,
		NextPredID:    m.nextPredID,
		NextReviewID:  m.nextReviewID,
		NextVersionID: m.nextVersionID,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Msg("Failed to unmarshal snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Messages != nil {
		m.messages = snap.Messages
	}
	if snap.Predictions != nil {
		m.predictions = snap.Predictions
	}
	if snap.Reviews != nil {
		m.reviewsByMsg = snap.Reviews
	}
	if snap.ModelVersions != nil {
		m.modelVersions = snap.ModelVersions
	}
	if snap.Settings != nil {
		m.settings = snap.Settings
	}
	m.nextMessageID = snap.NextMessageID
	m.nextPredID = snap.NextPredID
	m.nextReviewID = snap.NextReviewID
	m.nextVersionID = snap.NextVersionID
	log.Info().Str("path", m.snapshotPath).Msg("Snapshot loaded")
}

// ── Messages ─────────────────────────────────────────────────

func (m *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMessageID++
	msg.ID = m.nextMessageID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	m.messages[msg.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, storeerr.New(storeerr.NotFound, "GetMessage", "message", strconv.FormatInt(id, 10), nil)
	}
	cp := *msg
	return &cp, nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.messages))
	for id := range m.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]models.Message, 0)
	for _, id := range ids {
		msg := m.messages[id]
		if filter.Source.Set && msg.Source != filter.Source.Value {
			continue
		}
		if filter.Split != "" && msg.Split != filter.Split {
			continue
		}
		if filter.Status != "" && msg.Status != filter.Status {
			continue
		}
		if filter.HasTrueLabel && msg.TrueLabel == models.LabelNone {
			continue
		}
		if filter.HasReview {
			if _, ok := m.reviewsByMsg[msg.ID]; !ok {
				continue
			}
		}
		if filter.ExcludeConsumed && msg.Status == models.StatusScored {
			continue
		}
		out = append(out, *msg)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) CountByStatus(ctx context.Context) (map[models.MessageStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[models.MessageStatus]int)
	for _, msg := range m.messages {
		if msg.Source != models.SourceRuntime {
			continue
		}
		counts[msg.Status]++
	}
	return counts, nil
}

func (m *MemoryStore) ConditionalUpdateStatus(ctx context.Context, id int64, expected, newStatus models.MessageStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return 0, nil
	}
	if msg.Status != expected {
		return 0, nil
	}
	msg.Status = newStatus
	m.requestSave()
	return 1, nil
}

func (m *MemoryStore) UpdateMessageAfterScore(ctx context.Context, id int64, newStatus models.MessageStatus, modelVersionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return storeerr.New(storeerr.NotFound, "UpdateMessageAfterScore", "message", strconv.FormatInt(id, 10), nil)
	}
	msg.Status = newStatus
	msg.LastModelVersion = modelVersionID
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateMessageAfterReview(ctx context.Context, id int64, label models.Label, newStatus models.MessageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return storeerr.New(storeerr.NotFound, "UpdateMessageAfterReview", "message", strconv.FormatInt(id, 10), nil)
	}
	msg.TrueLabel = label
	msg.Status = newStatus
	m.requestSave()
	return nil
}

func (m *MemoryStore) MarkConsumed(ctx context.Context, ids []int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if msg, ok := m.messages[id]; ok && msg.Source == models.SourceDataset {
			msg.Status = models.StatusScored
			n++
		}
	}
	m.requestSave()
	return n, nil
}

func (m *MemoryStore) ResetConsumed(ctx context.Context, split models.MessageSplit) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.Source == models.SourceDataset && msg.Split == split && msg.Status == models.StatusScored {
			msg.Status = models.StatusDataset
			n++
		}
	}
	m.requestSave()
	return n, nil
}

func (m *MemoryStore) DeleteDatasetRows(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, msg := range m.messages {
		if msg.Source == models.SourceDataset {
			delete(m.messages, id)
			n++
		}
	}
	m.requestSave()
	return n, nil
}

func (m *MemoryStore) OldestQueuedID(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best int64
	var bestCreated time.Time
	for id, msg := range m.messages {
		if msg.Status != models.StatusQueued {
			continue
		}
		if best == 0 || msg.CreatedAt.Before(bestCreated) || (msg.CreatedAt.Equal(bestCreated) && id < best) {
			best = id
			bestCreated = msg.CreatedAt
		}
	}
	return best, nil
}

// ── Predictions ──────────────────────────────────────────────

func (m *MemoryStore) CreatePrediction(ctx context.Context, p *models.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPredID++
	p.ID = m.nextPredID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	m.predictions[p.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListPredictionsForMessage(ctx context.Context, messageID int64) ([]models.Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Prediction, 0)
	for _, p := range m.predictions {
		if p.MessageID == messageID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// ── Reviews ──────────────────────────────────────────────────

func (m *MemoryStore) CreateReview(ctx context.Context, r *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reviewsByMsg[r.MessageID]; exists {
		return storeerr.New(storeerr.Conflict, "CreateReview", "review", strconv.FormatInt(r.MessageID, 10), nil)
	}
	m.nextReviewID++
	r.ID = m.nextReviewID
	if r.ReviewedAt.IsZero() {
		r.ReviewedAt = time.Now().UTC()
	}
	cp := *r
	m.reviewsByMsg[r.MessageID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetReviewForMessage(ctx context.Context, messageID int64) (*models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reviewsByMsg[messageID]
	if !ok {
		return nil, storeerr.New(storeerr.NotFound, "GetReviewForMessage", "review", strconv.FormatInt(messageID, 10), nil)
	}
	cp := *r
	return &cp, nil
}

// ── Model versions ───────────────────────────────────────────

func (m *MemoryStore) CreateModelVersion(ctx context.Context, mv *models.ModelVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextVersionID++
	mv.ID = m.nextVersionID
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}
	cp := *mv
	m.modelVersions[mv.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetModelVersion(ctx context.Context, id int64) (*models.ModelVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mv, ok := m.modelVersions[id]
	if !ok {
		return nil, storeerr.New(storeerr.NotFound, "GetModelVersion", "model_version", strconv.FormatInt(id, 10), nil)
	}
	cp := *mv
	return &cp, nil
}

func (m *MemoryStore) GetActiveModelVersion(ctx context.Context) (*models.ModelVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mv := range m.modelVersions {
		if mv.IsActive {
			cp := *mv
			return &cp, nil
		}
	}
	return nil, storeerr.New(storeerr.NotFound, "GetActiveModelVersion", "model_version", "active", nil)
}

func (m *MemoryStore) MaxVersion(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max int64
	for _, mv := range m.modelVersions {
		if mv.Version > max {
			max = mv.Version
		}
	}
	return max, nil
}

func (m *MemoryStore) ActivateModelVersion(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.modelVersions[id]
	if !ok {
		return storeerr.New(storeerr.NotFound, "ActivateModelVersion", "model_version", strconv.FormatInt(id, 10), nil)
	}
	for _, mv := range m.modelVersions {
		mv.IsActive = false
	}
	target.IsActive = true
	m.settings.ActiveModelVersion = id
	m.requestSave()
	return nil
}

// ── Settings ─────────────────────────────────────────────────

func (m *MemoryStore) GetSettings(ctx context.Context) (*models.SystemSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *m.settings
	return &cp, nil
}

func (m *MemoryStore) IncrementGoldCounter(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.NewGoldSinceLastTrain++
	m.requestSave()
	return nil
}

func (m *MemoryStore) ResetGoldCounterAfterTraining(ctx context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.NewGoldSinceLastTrain = 0
	m.settings.LastRetrainAt = at
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateThresholds(ctx context.Context, allow, block float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.ThresholdAllow = allow
	m.settings.ThresholdBlock = block
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateRetrainGoldThreshold(ctx context.Context, threshold int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.RetrainGoldThreshold = threshold
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateAutoRetrainEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.AutoRetrainEnabled = enabled
	m.requestSave()
	return nil
}
