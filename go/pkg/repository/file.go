package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"market-bars/go/pkg/faults"
	"market-bars/go/pkg/instrument"

	"go.uber.org/zap"
)

// File keeps one CSV file per instrument, kind and day under
// root/EXCHANGE/code/kind/YYYYMMDD.csv. Access to an instrument is
// serialized by a per-instrument lock; writes replace files atomically.
type File struct {
	root  string
	log   *zap.Logger
	locks sync.Map // canonical instrument -> *sync.RWMutex
}

func NewFile(root string, log *zap.Logger) (*File, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &File{root: root, log: log}, nil
}

func (f *File) lock(inst *instrument.Instrument) *sync.RWMutex {
	v, _ := f.locks.LoadOrStore(inst.String(), &sync.RWMutex{})
	return v.(*sync.RWMutex)
}

var codeReplacer = strings.NewReplacer(" ", "_", "&", "+", "/", "_")

func (f *File) dir(inst *instrument.Instrument, kind DataKind) string {
	return filepath.Join(f.root, inst.Exchange.Name, codeReplacer.Replace(inst.ID), string(kind))
}

func (f *File) path(inst *instrument.Instrument, kind DataKind, day time.Time) string {
	return filepath.Join(f.dir(inst, kind), dayKey(day)+".csv")
}

func (f *File) Exists(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	mu := f.lock(inst)
	mu.RLock()
	defer mu.RUnlock()
	_, err := os.Stat(f.path(inst, kind, day))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (f *File) Load(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu := f.lock(inst)
	mu.RLock()
	defer mu.RUnlock()
	b, err := os.ReadFile(f.path(inst, kind, day))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s %s %s: %w", inst, kind, dayKey(day), faults.ErrMissingData)
	}
	return b, err
}

func (f *File) Save(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu := f.lock(inst)
	mu.Lock()
	defer mu.Unlock()

	dir := f.dir(inst, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), f.path(inst, kind, day)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	f.log.Debug("records saved",
		zap.String("instrument", inst.String()), zap.String("kind", string(kind)),
		zap.String("day", dayKey(day)), zap.Int("bytes", len(data)))
	return nil
}

func (f *File) List(ctx context.Context, inst *instrument.Instrument, kind DataKind) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu := f.lock(inst)
	mu.RLock()
	defer mu.RUnlock()
	entries, err := os.ReadDir(f.dir(inst, kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	days := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		d, err := parseDayKey(strings.TrimSuffix(name, ".csv"), inst.Exchange.Location)
		if err != nil {
			continue
		}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}
