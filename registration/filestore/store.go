/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package filestore provides a registration store kept in a single JSON file.
// The file is an object keyed by order ID, compatible with clients_db.json files
// written by earlier DCR deployments.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/gofrs/flock"

	"github.com/acronis/go-dcrkit/internal/idputil"
	"github.com/acronis/go-dcrkit/registration"
)

// DefaultPath is the default location of the store file.
const DefaultPath = "clients_db.json"

// DefaultLockTimeout is the default time to wait for the cross-process file lock.
const DefaultLockTimeout = 5 * time.Second

const lockRetryInterval = 100 * time.Millisecond

const filePerm = 0o600

// Opts contains options for Store.
type Opts struct {
	// Logger is a logger for the store.
	Logger log.FieldLogger

	// LockTimeout limits waiting for the file lock held by another process.
	// Default: DefaultLockTimeout.
	LockTimeout time.Duration
}

// Store is a registration.Store backed by a JSON file.
// An unreadable or corrupt file is treated as an empty store, and it is moved aside before the next write.
type Store struct {
	path        string
	fileLock    *flock.Flock
	lockTimeout time.Duration
	mu          sync.Mutex
	logger      log.FieldLogger
	now         func() time.Time
}

var _ registration.Store = (*Store)(nil)

// New creates a new Store for the file at path.
func New(path string, opts Opts) *Store {
	if path == "" {
		path = DefaultPath
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	return &Store{
		path:        path,
		fileLock:    flock.New(path + ".lock"),
		lockTimeout: opts.LockTimeout,
		logger:      idputil.PrepareLogger(opts.Logger),
		now:         time.Now,
	}
}

// Path returns the path of the store file.
func (s *Store) Path() string {
	return s.path
}

// FindByOrderID implements registration.Store.
func (s *Store) FindByOrderID(ctx context.Context, orderID string) (registration.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var regs map[string]registration.Registration
	if err := s.withFileLock(ctx, false, func() error {
		regs, _ = s.load()
		return nil
	}); err != nil {
		return registration.Registration{}, err
	}
	reg, ok := regs[orderID]
	if !ok {
		return registration.Registration{}, registration.ErrNotFound
	}
	if reg.OrderID == "" {
		reg.OrderID = orderID
	}
	return reg, nil
}

// Save implements registration.Store.
func (s *Store) Save(ctx context.Context, reg registration.Registration) error {
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("invalid registration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFileLock(ctx, true, func() error {
		regs, corrupt := s.load()
		if _, exists := regs[reg.OrderID]; exists {
			return registration.ErrAlreadyExists
		}
		if corrupt {
			backupPath := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
			if err := os.Rename(s.path, backupPath); err != nil {
				return fmt.Errorf("move corrupt registrations file aside: %w", err)
			}
			s.logger.Warn(fmt.Sprintf("corrupt registrations file moved to %s", backupPath))
		}
		regs[reg.OrderID] = reg
		return s.write(regs)
	})
}

func (s *Store) withFileLock(ctx context.Context, exclusive bool, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	var locked bool
	var err error
	if exclusive {
		locked, err = s.fileLock.TryLockContext(lockCtx, lockRetryInterval)
	} else {
		locked, err = s.fileLock.TryRLockContext(lockCtx, lockRetryInterval)
	}
	if err != nil {
		return fmt.Errorf("acquire lock for registrations file %s: %w", s.path, err)
	}
	if !locked {
		return fmt.Errorf("could not acquire lock for registrations file %s: timeout after %v", s.path, s.lockTimeout)
	}
	defer func() {
		if unlockErr := s.fileLock.Unlock(); unlockErr != nil {
			s.logger.Warn(fmt.Sprintf("failed to unlock registrations file %s", s.path), log.Error(unlockErr))
		}
	}()
	return fn()
}

// load reads the file. The second result reports that the file exists but could not be used.
func (s *Store) load() (map[string]registration.Registration, bool) {
	regs := make(map[string]registration.Registration)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return regs, false
		}
		s.logger.Warn(fmt.Sprintf("registrations file %s is unreadable, using empty store", s.path), log.Error(err))
		return regs, true
	}
	if len(data) == 0 {
		return regs, false
	}
	if err = json.Unmarshal(data, &regs); err != nil {
		s.logger.Warn(fmt.Sprintf("registrations file %s is corrupt, using empty store", s.path), log.Error(err))
		return make(map[string]registration.Registration), true
	}
	if regs == nil { // "null"
		regs = make(map[string]registration.Registration)
	}
	return regs, false
}

func (s *Store) write(regs map[string]registration.Registration) error {
	data, err := json.MarshalIndent(regs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registrations: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp registrations file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath) // no-op after a successful rename
	}()

	if _, err = tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp registrations file: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp registrations file: %w", err)
	}
	if err = tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp registrations file: %w", err)
	}
	if err = os.Chmod(tmpPath, filePerm); err != nil {
		return fmt.Errorf("chmod temp registrations file: %w", err)
	}
	if err = os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace registrations file: %w", err)
	}
	return nil
}
