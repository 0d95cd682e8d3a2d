package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"ContrarianTracker/internal/domain"
	"ContrarianTracker/internal/ports"
)

const (
	masterFileName  = "master_contrarian_database.csv"
	historyDirName  = "author_histories"
	historySuffix   = "_history.csv"
	pendingFileName = "pending.csv"
	runsFileName    = "runs.log"
	lockFileName    = ".lock"

	lockPollInterval = 100 * time.Millisecond
	lockStaleAfter   = 15 * time.Minute
)

// FileStore persists the master database as a directory of CSV files: the
// aggregate table, one append-only history file per author, and the derived
// pending/run-ledger views. All table writes are copy-on-write (temp file
// plus atomic rename); cross-process exclusion uses a lock file.
type FileStore struct {
	dir         string
	masterPath  string
	historyDir  string
	pendingPath string
	runsPath    string
	lockPath    string
	logger      *slog.Logger
}

var _ ports.MasterStore = (*FileStore)(nil)

// NewFileStore creates the store directory layout if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	s := &FileStore{
		dir:         dir,
		masterPath:  filepath.Join(dir, masterFileName),
		historyDir:  filepath.Join(dir, historyDirName),
		pendingPath: filepath.Join(dir, pendingFileName),
		runsPath:    filepath.Join(dir, runsFileName),
		lockPath:    filepath.Join(dir, lockFileName),
		logger:      logger,
	}

	if err := os.MkdirAll(s.historyDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directories: %w", err)
	}

	if _, err := os.Stat(s.masterPath); os.IsNotExist(err) {
		if err := s.writeMaster(map[string]domain.AuthorProfile{}); err != nil {
			return nil, fmt.Errorf("initialize aggregate table: %w", err)
		}
	}

	return s, nil
}

// AcquireLock takes the exclusive store lock, polling until the context is
// done. A lock file older than the stale cutoff is assumed abandoned by a
// crashed process and is taken over.
func (s *FileStore) AcquireLock(ctx context.Context) (func(), error) {
	for {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			f.Close()
			return func() { os.Remove(s.lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		if info, statErr := os.Stat(s.lockPath); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			s.takeOverStaleLock()
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for store lock: %w", ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

// takeOverStaleLock claims a lock file left behind by a crashed process.
// The rename is atomic, so of all waiters exactly one gets to inspect and
// delete the file; the staleness check is repeated on the claimed copy,
// and a lock that turns out fresh (the stat raced with a new holder) is
// put back instead of deleted.
func (s *FileStore) takeOverStaleLock() {
	claimed := fmt.Sprintf("%s.stale.%d", s.lockPath, os.Getpid())
	if err := os.Rename(s.lockPath, claimed); err != nil {
		return
	}

	if info, err := os.Stat(claimed); err == nil && time.Since(info.ModTime()) <= lockStaleAfter {
		if err := os.Rename(claimed, s.lockPath); err != nil {
			s.warn("restoring claimed lock file", "path", s.lockPath, "error", err)
		}
		return
	}

	s.warn("removing stale lock file", "path", s.lockPath)
	os.Remove(claimed)
}

// LoadProfiles reads and validates the aggregate table. Parse failures and
// invariant violations surface as DataIntegrityError: continuing to write
// over a corrupt table risks silent corruption.
func (s *FileStore) LoadProfiles(ctx context.Context) (map[string]domain.AuthorProfile, error) {
	rows, err := readCSV(s.masterPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]domain.AuthorProfile{}, nil
		}
		return nil, &domain.DataIntegrityError{Source: s.masterPath, Reason: "unreadable aggregate table", Err: err}
	}

	if len(rows) == 0 || !slices.Equal(rows[0], masterHeader) {
		return nil, &domain.DataIntegrityError{Source: s.masterPath, Reason: "unexpected header"}
	}

	profiles := make(map[string]domain.AuthorProfile, len(rows)-1)
	for i, row := range rows[1:] {
		profile, err := parseProfileRow(row)
		if err != nil {
			return nil, &domain.DataIntegrityError{
				Source: s.masterPath,
				Reason: fmt.Sprintf("row %d unparseable", i+2),
				Err:    err,
			}
		}
		if err := profile.CheckInvariants(); err != nil {
			return nil, &domain.DataIntegrityError{
				Source: s.masterPath,
				Reason: fmt.Sprintf("row %d violates invariants", i+2),
				Err:    err,
			}
		}
		if _, dup := profiles[profile.AuthorID]; dup {
			return nil, &domain.DataIntegrityError{
				Source: s.masterPath,
				Reason: "duplicate author id " + profile.AuthorID,
			}
		}
		profiles[profile.AuthorID] = profile
	}
	return profiles, nil
}

// RunApplied reports whether the run id is in the applied-run ledger.
func (s *FileStore) RunApplied(ctx context.Context, runID string) (bool, error) {
	runs, err := s.AppliedRuns(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(runs, runID), nil
}

// AppliedRuns lists the ledger in apply order.
func (s *FileStore) AppliedRuns(ctx context.Context) ([]string, error) {
	raw, err := os.ReadFile(s.runsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run ledger: %w", err)
	}

	var runs []string
	for _, line := range strings.Split(string(raw), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			runs = append(runs, line)
		}
	}
	return runs, nil
}

// CommitRun writes one merged run. History appends happen first, so after a
// crash the aggregate can always be reconciled forward from the log; the
// aggregate, pending view, and ledger then follow via atomic renames.
func (s *FileStore) CommitRun(ctx context.Context, commit domain.RunCommit) error {
	if err := s.appendHistory(commit.Entries); err != nil {
		return err
	}

	pending, err := s.PendingRecords(ctx)
	if err != nil {
		return err
	}
	resolved := make(map[string]bool, len(commit.ResolvePending))
	for _, articleID := range commit.ResolvePending {
		resolved[articleID] = true
	}
	next := pending[:0]
	for _, r := range pending {
		if !resolved[r.ArticleID] {
			next = append(next, r)
		}
	}
	next = append(next, commit.AddPending...)
	if err := s.writePending(next); err != nil {
		return err
	}

	if err := s.writeMaster(commit.Profiles); err != nil {
		return err
	}

	return s.appendRun(commit.RunID)
}

// PendingRecords parses the pending view.
func (s *FileStore) PendingRecords(ctx context.Context) ([]domain.ContrarianRecord, error) {
	rows, err := readCSV(s.pendingPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pending view: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var records []domain.ContrarianRecord
	for i, row := range rows[1:] {
		record, err := parsePendingRow(row)
		if err != nil {
			return nil, fmt.Errorf("pending row %d: %w", i+2, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// AuthorIDs lists authors from the history directory.
func (s *FileStore) AuthorIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.historyDir)
	if err != nil {
		return nil, fmt.Errorf("list history directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, historySuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, historySuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// AuthorHistory reads one author's log in append order.
func (s *FileStore) AuthorHistory(ctx context.Context, authorID string) ([]domain.HistoryEntry, error) {
	rows, err := readCSV(s.historyPath(authorID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history for %s: %w", authorID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var entries []domain.HistoryEntry
	for i, row := range rows[1:] {
		entry, err := parseHistoryRow(authorID, row)
		if err != nil {
			return nil, fmt.Errorf("history %s row %d: %w", authorID, i+2, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ReplaceAggregate rewrites the aggregate and derived views from a history
// replay. History files are untouched: they are the source of truth.
func (s *FileStore) ReplaceAggregate(ctx context.Context, profiles map[string]domain.AuthorProfile, appliedRuns []string, pending []domain.ContrarianRecord) error {
	if err := s.writePending(pending); err != nil {
		return err
	}
	if err := s.writeMaster(profiles); err != nil {
		return err
	}
	return writeFileAtomic(s.runsPath, func(f *os.File) error {
		for _, runID := range appliedRuns {
			if _, err := fmt.Fprintln(f, runID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) historyPath(authorID string) string {
	return filepath.Join(s.historyDir, authorID+historySuffix)
}

// appendHistory appends each author's entries to their log, creating the
// file with a header on first touch.
func (s *FileStore) appendHistory(entries []domain.HistoryEntry) error {
	byAuthor := map[string][]domain.HistoryEntry{}
	var order []string
	for _, e := range entries {
		if _, ok := byAuthor[e.AuthorID]; !ok {
			order = append(order, e.AuthorID)
		}
		byAuthor[e.AuthorID] = append(byAuthor[e.AuthorID], e)
	}

	for _, authorID := range order {
		path := s.historyPath(authorID)
		_, statErr := os.Stat(path)
		fresh := os.IsNotExist(statErr)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open history for %s: %w", authorID, err)
		}

		w := csv.NewWriter(f)
		if fresh {
			if err := w.Write(historyHeader); err != nil {
				f.Close()
				return fmt.Errorf("write history header for %s: %w", authorID, err)
			}
		}
		for _, e := range byAuthor[authorID] {
			if err := w.Write(historyRow(e)); err != nil {
				f.Close()
				return fmt.Errorf("append history for %s: %w", authorID, err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return fmt.Errorf("flush history for %s: %w", authorID, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("sync history for %s: %w", authorID, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close history for %s: %w", authorID, err)
		}
	}
	return nil
}

func (s *FileStore) writeMaster(profiles map[string]domain.AuthorProfile) error {
	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return writeCSVAtomic(s.masterPath, masterHeader, func(w *csv.Writer) error {
		for _, id := range ids {
			if err := w.Write(profileRow(profiles[id])); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *FileStore) writePending(records []domain.ContrarianRecord) error {
	return writeCSVAtomic(s.pendingPath, pendingHeader, func(w *csv.Writer) error {
		for _, r := range records {
			if err := w.Write(pendingRow(r)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *FileStore) appendRun(runID string) error {
	f, err := os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run ledger: %w", err)
	}
	if _, err := fmt.Fprintln(f, runID); err != nil {
		f.Close()
		return fmt.Errorf("append run ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync run ledger: %w", err)
	}
	return f.Close()
}

func (s *FileStore) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

func writeCSVAtomic(path string, header []string, body func(w *csv.Writer) error) error {
	return writeFileAtomic(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return err
		}
		if err := body(w); err != nil {
			return err
		}
		w.Flush()
		return w.Error()
	})
}

// writeFileAtomic writes to a temp file in the target directory, syncs, and
// renames over the live file, so readers never observe a partial table.
func writeFileAtomic(path string, fill func(f *os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := fill(tmp); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename over %s: %w", path, err)
	}
	return nil
}
