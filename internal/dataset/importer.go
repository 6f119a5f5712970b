// Package dataset implements the one-shot SMS spam dataset loader
// (spec.md §6). It parses the tab-separated `label\ttext` corpus, splits it
// deterministically into a train pool and a frozen validation holdout, and
// persists both through the Store.
package dataset

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spamwatch/agent/internal/store"
	"github.com/spamwatch/agent/pkg/models"
)

// importSeed is fixed so imports are reproducible (spec.md §6, §8 "Import
// determinism"). Do not make this configurable — reproducibility across
// runs is the whole point.
const importSeed = 42

// holdoutFraction is the share of rows routed to ValidationHoldout.
const holdoutFraction = 0.2

// Result summarizes one Import call.
type Result struct {
	Imported  int
	Skipped   bool
	TrainSize int
	HoldoutSize int
}

// Import reads path, shuffles with the fixed seed, and partitions 80/20 into
// TrainPool/ValidationHoldout. If Source=Dataset rows already exist and
// force is false, Import is a no-op and returns Skipped=true. If force is
// true, existing Dataset rows are deleted and re-created.
func Import(ctx context.Context, s store.Store, path string, force bool) (Result, error) {
	existing, err := s.ListMessages(ctx, store.MessageFilter{Source: store.SourceFilter(models.SourceDataset), Limit: 1})
	if err != nil {
		return Result{}, fmt.Errorf("check existing dataset rows: %w", err)
	}
	if len(existing) > 0 && !force {
		log.Info().Msg("Dataset already imported, skipping (use force to re-import)")
		return Result{Skipped: true}, nil
	}

	if len(existing) > 0 && force {
		removed, err := s.DeleteDatasetRows(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("clear existing dataset rows: %w", err)
		}
		log.Info().Int("removed", removed).Msg("Forced re-import: cleared existing dataset rows")
	}

	rows, err := readLines(path)
	if err != nil {
		return Result{}, fmt.Errorf("read dataset file: %w", err)
	}

	rng := rand.New(rand.NewSource(importSeed))
	rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

	holdoutCount := int(float64(len(rows)) * holdoutFraction)
	trainCount := len(rows) - holdoutCount

	var trainSize, holdoutSize int
	for i, r := range rows {
		split := models.SplitTrainPool
		if i >= trainCount {
			split = models.SplitValidationHoldout
		}
		msg := &models.Message{
			Text:      r.text,
			Source:    models.SourceDataset,
			Split:     split,
			TrueLabel: r.label,
			Status:    models.StatusDataset,
		}
		if err := s.CreateMessage(ctx, msg); err != nil {
			return Result{}, fmt.Errorf("persist dataset row %d: %w", i, err)
		}
		if split == models.SplitTrainPool {
			trainSize++
		} else {
			holdoutSize++
		}
	}

	log.Info().
		Int("total", len(rows)).
		Int("train_pool", trainSize).
		Int("validation_holdout", holdoutSize).
		Bool("force", force).
		Msg("Dataset imported")

	return Result{Imported: len(rows), TrainSize: trainSize, HoldoutSize: holdoutSize}, nil
}

type row struct {
	label models.Label
	text  string
}

func readLines(path string) ([]row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []row
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		label, err := parseLabel(parts[0])
		if err != nil {
			continue
		}
		rows = append(rows, row{label: label, text: parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func parseLabel(s string) (models.Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ham":
		return models.LabelHam, nil
	case "spam":
		return models.LabelSpam, nil
	default:
		return models.LabelNone, fmt.Errorf("unknown label %q", s)
	}
}
