package webhooklog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	DefaultRetentionDays = 30

	partitionPrefix = "webhooks-"
	partitionSuffix = ".log"
	dayLayout       = "2006-01-02"
)

// Archiver copies a partition somewhere durable before it is deleted.
type Archiver interface {
	ArchivePartition(ctx context.Context, path string, day time.Time) error
}

// Partition is one day's log file.
type Partition struct {
	Day  time.Time
	Path string
	Size int64
}

// Store appends records to one NDJSON file per UTC day.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("log directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// PartitionPath returns the file holding records of the given day.
func (s *Store) PartitionPath(day time.Time) string {
	return filepath.Join(s.dir, partitionPrefix+day.UTC().Format(dayLayout)+partitionSuffix)
}

// Append writes rec to the partition of its timestamp.
func (s *Store) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.CorrelationID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.PartitionPath(rec.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open partition: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append record %s: %w", rec.CorrelationID, err)
	}
	return f.Close()
}

// Query returns all records of the given day in append order. A zero day
// means today. A day without a partition yields an empty result.
func (s *Store) Query(day time.Time) ([]Record, error) {
	if day.IsZero() {
		day = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.PartitionPath(day))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("open partition: %w", err)
	}
	defer f.Close()

	records := []Record{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Warnf("[WebhookLog] skipping malformed line %d in %s: %v", lineNo, f.Name(), err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read partition: %w", err)
	}
	return records, nil
}

// Partitions lists the day partitions in ascending order.
func (s *Store) Partitions() ([]Partition, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list log directory: %w", err)
	}

	var parts []Partition
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		day, ok := parsePartitionName(e.Name())
		if !ok {
			continue
		}
		p := Partition{Day: day, Path: filepath.Join(s.dir, e.Name())}
		if info, err := e.Info(); err == nil {
			p.Size = info.Size()
		}
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Day.Before(parts[j].Day) })
	return parts, nil
}

// Cleanup deletes partitions older than retentionDays relative to now. When
// an archiver is given a partition is only deleted after it was archived.
// It returns the removed partitions.
func (s *Store) Cleanup(ctx context.Context, now time.Time, retentionDays int, archiver Archiver) ([]Partition, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	today := now.UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -retentionDays)

	parts, err := s.Partitions()
	if err != nil {
		return nil, err
	}

	var removed []Partition
	var errs []error
	for _, p := range parts {
		if !p.Day.Before(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if archiver != nil {
			if err := archiver.ArchivePartition(ctx, p.Path, p.Day); err != nil {
				errs = append(errs, fmt.Errorf("archive %s: %w", filepath.Base(p.Path), err))
				continue
			}
		}

		s.mu.Lock()
		err := os.Remove(p.Path)
		s.mu.Unlock()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", filepath.Base(p.Path), err))
			continue
		}
		removed = append(removed, p)
		log.Infof("[WebhookLog] removed partition %s", filepath.Base(p.Path))
	}
	return removed, errors.Join(errs...)
}

// ParseDay parses a YYYY-MM-DD day. An empty string means today.
func ParseDay(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	day, err := time.Parse(dayLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, expected YYYY-MM-DD", value)
	}
	return day, nil
}

func parsePartitionName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, partitionPrefix) || !strings.HasSuffix(name, partitionSuffix) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, partitionPrefix), partitionSuffix)
	day, err := time.Parse(dayLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}
