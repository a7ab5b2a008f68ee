// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache implements the Result Cache (§4.7): a content-addressed
// store of fit results, keyed by fitinfo.Info.ID, each entry an
// uncompressed tar archive of information.json, model.json and
// null.npz. A modernc.org/kv store records, per key, whether a
// computation has completed, the way the teacher's BLAST result stores
// (internal/store) use kv as an ordered index over computed records —
// adapted here from a query index into a completion ledger so
// concurrent callers within one process agree on who computes a given
// key (§4.7 "at most one writer per key").
package cache

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"modernc.org/kv"

	"github.com/kortschak/span/span/fitinfo"
	"github.com/kortschak/span/span/model"
	"github.com/kortschak/span/span/spanlog"
)

// Entry is a complete, cacheable fit result (§4.7).
type Entry struct {
	Info  fitinfo.Info
	Model model.Model
	Null  []float64 // per-bin null-hypothesis log-probability, row-ordered as the squashed frame
}

// Compute builds a fresh Entry for a cache miss.
type Compute func() (Entry, error)

// ErrStoredMismatch is returned when a loaded archive's information.json
// disagrees with the Fit Information the caller re-derived for this run
// (§7): the cache key collided, or the inputs changed since the archive
// was written. Callers must delete the archive to recover.
var ErrStoredMismatch = fmt.Errorf("cache: stored information.json does not match expected fit information")

var doneMarker = []byte{1}

// Cache is a directory of content-addressed fit-result archives plus a
// completion ledger.
type Cache struct {
	dir string
	log *spanlog.Logger

	ledger *kv.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens (creating if necessary) a Result Cache rooted at dir.
func Open(dir string, log *spanlog.Logger) (*Cache, error) {
	if log == nil {
		log = spanlog.Discard()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating %s: %w", dir, err)
	}
	ledgerPath := filepath.Join(dir, "ledger.kv")
	db, err := openOrCreateLedger(ledgerPath)
	if err != nil {
		return nil, err
	}
	return &Cache{dir: dir, log: log, ledger: db, locks: make(map[string]*sync.Mutex)}, nil
}

func openOrCreateLedger(path string) (*kv.DB, error) {
	opts := &kv.Options{}
	db, err := kv.Open(path, opts)
	if err == nil {
		return db, nil
	}
	db, err = kv.Create(path, opts)
	if err != nil {
		return nil, fmt.Errorf("cache: opening ledger %s: %w", path, err)
	}
	return db, nil
}

// Close releases the cache's ledger handle.
func (c *Cache) Close() error {
	return c.ledger.Close()
}

func (c *Cache) archivePath(key string, kind fitinfo.ModelKind) string {
	return filepath.Join(c.dir, key+kind.Suffix())
}

func (c *Cache) lockFor(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// GetOrCompute returns the cached Entry for key, computing and storing
// it via compute on a miss. Only one caller per key runs compute at a
// time within this process; others block until the winner has written
// and sanity-checked the archive. expected is the caller's freshly
// re-derived Fit Information for this run; a loaded archive whose
// information.json disagrees with it is an ErrStoredMismatch (§4.7
// step 1, §7), not silently trusted.
func (c *Cache) GetOrCompute(key string, kind fitinfo.ModelKind, expected fitinfo.Info, compute Compute) (Entry, error) {
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if done, err := c.ledger.Get(nil, []byte(key)); err != nil {
		return Entry{}, fmt.Errorf("cache: querying ledger for %s: %w", key, err)
	} else if len(done) > 0 {
		entry, err := c.load(key, kind)
		if err == nil {
			if err := checkMatch(entry.Info, expected); err != nil {
				return Entry{}, err
			}
			return entry, nil
		}
		c.log.Warnf("cache: %s marked complete but failed to load (%v); recomputing", key, err)
	}

	entry, err := compute()
	if err != nil {
		return Entry{}, err
	}
	if err := c.store(key, entry); err != nil {
		return Entry{}, err
	}
	if err := c.ledger.Set([]byte(key), doneMarker); err != nil {
		return Entry{}, fmt.Errorf("cache: marking %s complete: %w", key, err)
	}

	// Sanity-check by reloading what was just written (§4.7): a cache
	// entry is only as good as its round trip.
	reloaded, err := c.load(key, kind)
	if err != nil {
		return Entry{}, fmt.Errorf("cache: sanity check reload of %s failed: %w", key, err)
	}
	if err := checkMatch(reloaded.Info, expected); err != nil {
		return Entry{}, err
	}
	return reloaded, nil
}

// checkMatch compares a loaded archive's Fit Information against the
// caller's expected one, by ID (the content-addressing key itself)
// rather than full structural equality, since ModelSpecific maps and
// slice orderings may legitimately differ in representation without
// describing a different input.
func checkMatch(stored, expected fitinfo.Info) error {
	if stored.ID() != expected.ID() {
		return fmt.Errorf("%w: stored id %q, expected %q", ErrStoredMismatch, stored.ID(), expected.ID())
	}
	if err := expected.CheckCompatible(stored); err != nil {
		return fmt.Errorf("%w: %v", ErrStoredMismatch, err)
	}
	return nil
}

// store writes entry's archive atomically: build it in a temp file
// beside the final path, then rename into place (§4.7).
func (c *Cache) store(key string, entry Entry) error {
	final := c.archivePath(key, entry.Info.Kind)
	tmp, err := os.CreateTemp(c.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("cache: creating temp archive for %s: %w", key, err)
	}
	tmpPath := tmp.Name()
	if err := writeArchive(tmp, entry); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache: closing temp archive for %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache: committing archive for %s: %w", key, err)
	}
	return nil
}

func writeArchive(w io.Writer, entry Entry) error {
	tw := tar.NewWriter(w)

	infoBytes, err := entry.Info.MarshalJSON()
	if err != nil {
		return fmt.Errorf("cache: encoding information.json: %w", err)
	}
	if err := writeTarFile(tw, "information.json", infoBytes); err != nil {
		return err
	}

	modelBytes, err := model.Save(entry.Model)
	if err != nil {
		return fmt.Errorf("cache: encoding model.json: %w", err)
	}
	if err := writeTarFile(tw, "model.json", modelBytes); err != nil {
		return err
	}

	var nullBuf bytes.Buffer
	if err := writeNullNPZ(&nullBuf, entry.Null); err != nil {
		return fmt.Errorf("cache: encoding null.npz: %w", err)
	}
	if err := writeTarFile(tw, "null.npz", nullBuf.Bytes()); err != nil {
		return err
	}

	return tw.Close()
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(data))}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("cache: writing %s header: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("cache: writing %s: %w", name, err)
	}
	return nil
}

// load reads back the archive for key.
func (c *Cache) load(key string, kind fitinfo.ModelKind) (Entry, error) {
	path := c.archivePath(key, kind)
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, fmt.Errorf("cache: opening archive %s: %w", path, err)
	}
	defer f.Close()
	return readArchive(f)
}

func readArchive(r io.Reader) (Entry, error) {
	tr := tar.NewReader(r)
	var entry Entry
	var haveInfo, haveModel bool
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Entry{}, fmt.Errorf("cache: reading archive: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return Entry{}, fmt.Errorf("cache: reading %s: %w", hdr.Name, err)
		}
		switch hdr.Name {
		case "information.json":
			if err := entry.Info.UnmarshalJSON(data); err != nil {
				return Entry{}, err
			}
			haveInfo = true
		case "model.json":
			m, err := model.Load(data)
			if err != nil {
				return Entry{}, err
			}
			entry.Model = m
			haveModel = true
		case "null.npz":
			samples, err := readNullNPZ(data)
			if err != nil {
				return Entry{}, err
			}
			entry.Null = samples
		}
	}
	if !haveInfo || !haveModel {
		return Entry{}, fmt.Errorf("cache: archive missing information.json or model.json")
	}
	return entry, nil
}
