package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// lockRecord is what a running instance leaves in the lock file.
type lockRecord struct {
	PID         int    `json:"pid"`
	Fingerprint string `json:"token_fingerprint,omitempty"`
}

// LockHandle owns the acquired lock file until Release.
type LockHandle struct {
	path string
}

// TokenFingerprint derives a short stable identifier from a bot token,
// safe to write to disk.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}

func lockPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "takopi.lock")
}

// AcquireLock takes the per-config lock so two instances never poll
// the same bot credential. A lock left by a dead process is reclaimed.
func AcquireLock(configPath, botToken string) (*LockHandle, error) {
	path := lockPath(configPath)
	record := lockRecord{PID: os.Getpid(), Fingerprint: TokenFingerprint(botToken)}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.Write(payload)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(path)
				return nil, werr
			}
			return &LockHandle{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		existing, rerr := readLock(path)
		if rerr == nil && processAlive(existing.PID) {
			return nil, Errorf("another takopi instance (pid %d) is already running with this config; stop it or remove %s", existing.PID, path)
		}
		// Stale or unreadable lock: reclaim it.
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("remove stale lock %s: %w", path, rerr)
		}
	}
	return nil, Errorf("could not acquire lock at %s", path)
}

func readLock(path string) (lockRecord, error) {
	var record lockRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return record, err
	}
	err = json.Unmarshal(data, &record)
	return record, err
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Release drops the lock. Safe to call on a nil handle.
func (h *LockHandle) Release() {
	if h == nil {
		return
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not remove lock %s: %v\n", h.path, err)
	}
}
