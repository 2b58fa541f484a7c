package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AndySung320/bucketstore/internal/metrics"
	"github.com/AndySung320/bucketstore/internal/ratelimit"
	"github.com/AndySung320/bucketstore/internal/storage"
)

// Report summarizes a restore.
type Report struct {
	Restored int
	Skipped  int
}

// Manager saves the contents of a store to a snapshot file and restores
// them on startup.
type Manager struct {
	store   storage.Storage
	vt      ratelimit.ValueType
	path    string
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mu sync.Mutex // one save at a time
}

func NewManager(store storage.Storage, vt ratelimit.ValueType, path string, log logrus.FieldLogger, m *metrics.Metrics) *Manager {
	return &Manager{
		store:   store,
		vt:      vt,
		path:    path,
		log:     log.WithField("snapshot", path),
		metrics: m,
	}
}

// Save writes every decodable bucket in the store to the snapshot file and
// returns how many were written. The file is replaced atomically.
func (m *Manager) Save(ctx context.Context) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { m.metrics.ObserveSnapshotSave(err) }()

	var records []Record
	err = m.store.Scan(ctx, func(key string, value []byte) error {
		b, err := m.vt.Load(value)
		if err != nil {
			m.log.WithError(err).WithField("key", key).Warn("Skipping undecodable value during save")
			return nil
		}
		data := m.vt.Save(b)
		m.vt.Release(b)

		records = append(records, Record{
			Key:             key,
			Type:            m.vt.Name(),
			EncodingVersion: m.vt.EncodingVersion(),
			Value:           data,
		})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan store: %w", err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	if err := writeFileAtomic(m.path, records); err != nil {
		return 0, err
	}

	m.log.WithField("buckets", len(records)).Info("Saved snapshot")
	return len(records), nil
}

// Restore loads the snapshot file into the store. A missing file restores
// nothing. Keys whose value cannot be decoded are logged and skipped; the
// rest of the snapshot is still restored.
func (m *Manager) Restore(ctx context.Context) (Report, error) {
	var report Report

	records, err := ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		m.log.Info("No snapshot to restore")
		return report, nil
	}
	if err != nil {
		return report, err
	}

	for _, rec := range records {
		entry := m.log.WithField("key", rec.Key)

		if rec.Type != m.vt.Name() || rec.EncodingVersion > m.vt.EncodingVersion() {
			entry.WithFields(logrus.Fields{
				"type":    rec.Type,
				"version": rec.EncodingVersion,
			}).Warn("Value could not be restored: unknown type")
			report.Skipped++
			continue
		}

		b, err := m.vt.Load(rec.Value)
		if err != nil {
			entry.WithError(err).Warn("Value could not be restored")
			report.Skipped++
			continue
		}
		data := m.vt.Save(b)
		m.vt.Release(b)

		err = m.store.Update(ctx, rec.Key, func([]byte, bool) ([]byte, error) {
			return data, nil
		})
		if err != nil {
			return report, fmt.Errorf("restore %s: %w", rec.Key, err)
		}
		report.Restored++
	}

	m.metrics.ObserveRestoreSkipped(report.Skipped)
	m.log.WithFields(logrus.Fields{
		"restored": report.Restored,
		"skipped":  report.Skipped,
	}).Info("Restored snapshot")
	return report, nil
}

// Run saves every interval until ctx is done, then saves once more.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.Save(ctx); err != nil {
				m.log.WithError(err).Error("Periodic snapshot failed")
			}
		case <-ctx.Done():
			if _, err := m.Save(context.WithoutCancel(ctx)); err != nil {
				return fmt.Errorf("final snapshot: %w", err)
			}
			return nil
		}
	}
}

func writeFileAtomic(path string, records []Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, records); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
