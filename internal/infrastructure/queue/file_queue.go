// Package queue keeps downtime records that could not be written to the
// remote store until a sync pass replays them.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"quickdowntime/internal/core/domain"
	"quickdowntime/pkg/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const fileExt = ".json"

// FileQueue stores each pending record as its own <uuid>.json object. Any
// number of processes may share the directory.
type FileQueue struct {
	store  storage.Storage
	logger *zap.SugaredLogger
}

func NewFileQueue(store storage.Storage, logger *zap.SugaredLogger) *FileQueue {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FileQueue{store: store, logger: logger}
}

// NewFileQueueAt opens a queue on a local directory
func NewFileQueueAt(dir string, logger *zap.SugaredLogger) (*FileQueue, error) {
	fs, err := storage.NewFileStorage(dir)
	if err != nil {
		return nil, err
	}
	return NewFileQueue(fs, logger), nil
}

// Enqueue writes a snapshot of d and returns the queue file name.
func (q *FileQueue) Enqueue(ctx context.Context, d *domain.Downtime) (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode queued record: %w", err)
	}

	name := uuid.New().String() + fileExt
	if err := q.store.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to write queued record: %w", err)
	}

	q.logger.Infow("downtime queued locally", "file", name, "machine_id", d.MachineID)
	return name, nil
}

// ListPending returns the names of every queued record in a stable order.
func (q *FileQueue) ListPending(ctx context.Context) ([]string, error) {
	names, err := q.store.List(ctx, "")
	if err != nil {
		return nil, err
	}

	pending := names[:0]
	for _, name := range names {
		if strings.HasSuffix(name, fileExt) {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

func (q *FileQueue) Load(ctx context.Context, name string) (*domain.Downtime, error) {
	rc, err := q.store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read queued record %s: %w", name, err)
	}

	var d domain.Downtime
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode queued record %s: %w", name, err)
	}
	return &d, nil
}

// Ack removes a replayed record. A record already removed by a concurrent
// sync pass counts as acknowledged.
func (q *FileQueue) Ack(ctx context.Context, name string) error {
	err := q.store.Delete(ctx, name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}
