package identity

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// StoreFileName is the paired-device table, one pairing per line:
// endpoint_id<TAB>display_name<TAB>paired_at_unix_seconds
const StoreFileName = "paired_devices.txt"

// pairingExpiry is the TTL after which a pairing is treated as absent.
const pairingExpiry = 24 * time.Hour

// Pairing is one entry of the paired-device table.
type Pairing struct {
	EndpointID  string
	DisplayName string
	PairedAt    time.Time
}

func (p Pairing) expired(now time.Time) bool {
	return now.Sub(p.PairedAt) >= pairingExpiry
}

// Store is the disk-backed, flock-guarded paired-device table. It is
// re-read on every query: lookups are rare and always adjacent either to a
// fresh QUIC connection or to the pairing FSM's 2s anti-timing sleep, so
// the extra read is not on any hot path.
type Store struct {
	path string
}

// NewStore opens (without yet reading) the paired-device store at dir.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, StoreFileName)}
}

// IsPaired reports whether id has an unexpired pairing.
func (s *Store) IsPaired(id string) (bool, error) {
	entries, err := s.readLocked()
	if err != nil {
		return false, err
	}
	now := time.Now()
	for _, e := range entries {
		if e.EndpointID == id && !e.expired(now) {
			return true, nil
		}
	}
	return false, nil
}

// AddPairing inserts or refreshes the pairing for id, pruning expired
// entries in the same write.
func (s *Store) AddPairing(id, displayName string) error {
	fl := flock.New(s.path + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("identity: locking pairing store: %w", err)
	}
	defer fl.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	now := time.Now()
	kept := entries[:0]
	found := false
	for _, e := range entries {
		if e.expired(now) {
			continue
		}
		if e.EndpointID == id {
			e.DisplayName = displayName
			e.PairedAt = now
			found = true
		}
		kept = append(kept, e)
	}
	if !found {
		kept = append(kept, Pairing{EndpointID: id, DisplayName: displayName, PairedAt: now})
	}
	return s.write(kept)
}

// RemovePairing deletes id from the store, if present.
func (s *Store) RemovePairing(id string) error {
	fl := flock.New(s.path + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("identity: locking pairing store: %w", err)
	}
	defer fl.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.EndpointID != id {
			kept = append(kept, e)
		}
	}
	return s.write(kept)
}

// ListPairings returns every unexpired pairing.
func (s *Store) ListPairings() ([]Pairing, error) {
	entries, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]Pairing, 0, len(entries))
	for _, e := range entries {
		if !e.expired(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) readLocked() ([]Pairing, error) {
	fl := flock.New(s.path + ".lock")
	if err := fl.RLock(); err != nil {
		return nil, fmt.Errorf("identity: locking pairing store: %w", err)
	}
	defer fl.Unlock()
	return s.read()
}

func (s *Store) read() ([]Pairing, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("identity: reading pairing store: %w", err)
	}
	defer f.Close()

	var out []Pairing
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			continue // tolerate a hand-edited or truncated line
		}
		sec, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Pairing{
			EndpointID:  fields[0],
			DisplayName: fields[1],
			PairedAt:    time.Unix(sec, 0),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("identity: scanning pairing store: %w", err)
	}
	return out, nil
}

func (s *Store) write(entries []Pairing) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".paired_devices.tmp-*")
	if err != nil {
		return fmt.Errorf("identity: creating temp pairing store: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d\n", e.EndpointID, e.DisplayName, e.PairedAt.Unix()); err != nil {
			tmp.Close()
			return fmt.Errorf("identity: writing pairing store: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: flushing pairing store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("identity: closing temp pairing store: %w", err)
	}
	return os.Rename(tmpPath, s.path)
}
