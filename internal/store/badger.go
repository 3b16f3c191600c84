package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v3"

	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/session"
	"github.com/dreamware/coordkernel/internal/sessionrec"
)

// BadgerOptions configures the durable backend. Dir is the only
// required field; the rest have sane defaults for an embedded,
// single-node deployment (§7: the store is a collaborator the kernel
// does not replicate itself).
type BadgerOptions struct {
	Dir string

	// InMemory runs badger without touching disk, for integration
	// tests that want CAS semantics without filesystem setup/teardown.
	InMemory bool
}

func openBadger(opts BadgerOptions) (*badger.DB, error) {
	bopts := badger.DefaultOptions(opts.Dir).WithLogger(nil)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("store: opening badger at %q: %w", opts.Dir, err)
	}
	return db, nil
}

// BadgerEntryStore is an EntryStore backed by a badger.DB, for
// deployments where stored entries must survive a process restart.
type BadgerEntryStore struct {
	db     *badger.DB
	prefix []byte
}

// NewBadgerEntryStore opens (or creates) a badger database at
// opts.Dir and returns an EntryStore over it. Callers own the
// returned *badger.DB's lifetime via Close.
func NewBadgerEntryStore(opts BadgerOptions) (*BadgerEntryStore, error) {
	db, err := openBadger(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerEntryStore{db: db, prefix: []byte("entry:")}, nil
}

// Close releases the underlying database.
func (b *BadgerEntryStore) Close() error { return b.db.Close() }

type entryDTO struct {
	CreationTime    time.Time
	LastWriteTime   time.Time
	Path            string
	Value           []byte
	CreatingSession string
	WriteLock       *string
	ReadLocks       []string
	Children        []string
	Version         int64
	StorageVersion  int64
	Ephemeral       bool
	Tombstoned      bool
}

func encodeEntry(e *entry.StoredEntry) ([]byte, error) {
	if e == nil {
		return nil, nil
	}
	dto := entryDTO{
		CreationTime:    e.CreationTime,
		LastWriteTime:   e.LastWriteTime,
		Path:            e.Path.Escaped(),
		Value:           e.Value,
		CreatingSession: e.CreatingSession.Compact(),
		Children:        e.Children,
		Version:         e.Version,
		StorageVersion:  e.StorageVersion,
		Ephemeral:       e.Ephemeral,
		Tombstoned:      e.Tombstoned,
	}
	if e.WriteLock != nil {
		c := e.WriteLock.Compact()
		dto.WriteLock = &c
	}
	for _, rl := range e.ReadLocks {
		dto.ReadLocks = append(dto.ReadLocks, rl.Compact())
	}
	return json.Marshal(dto)
}

func decodeEntry(raw []byte) (*entry.StoredEntry, error) {
	if raw == nil {
		return nil, nil
	}
	var dto entryDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("store: decoding entry record: %w", err)
	}
	p, err := path.FromEscaped(dto.Path)
	if err != nil {
		return nil, err
	}
	creating, err := session.ParseCompact(dto.CreatingSession)
	if err != nil {
		return nil, err
	}
	out := &entry.StoredEntry{
		CreationTime:    dto.CreationTime,
		LastWriteTime:   dto.LastWriteTime,
		Path:            p,
		Value:           dto.Value,
		CreatingSession: creating,
		Children:        dto.Children,
		Version:         dto.Version,
		StorageVersion:  dto.StorageVersion,
		Ephemeral:       dto.Ephemeral,
		Tombstoned:      dto.Tombstoned,
	}
	if dto.WriteLock != nil {
		wl, err := session.ParseCompact(*dto.WriteLock)
		if err != nil {
			return nil, err
		}
		out.WriteLock = &wl
	}
	for _, rl := range dto.ReadLocks {
		id, err := session.ParseCompact(rl)
		if err != nil {
			return nil, err
		}
		out.ReadLocks = append(out.ReadLocks, id)
	}
	return out, nil
}

func (b *BadgerEntryStore) key(k string) []byte {
	return append(append([]byte(nil), b.prefix...), []byte(k)...)
}

func (b *BadgerEntryStore) Get(_ context.Context, key string) (*entry.StoredEntry, error) {
	var out *entry.StoredEntry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out, err = decodeEntry(val)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

func (b *BadgerEntryStore) Update(_ context.Context, key string, newVal, comparand *entry.StoredEntry) (*entry.StoredEntry, error) {
	if newVal == nil && comparand == nil {
		return nil, ErrInvalidArgument
	}

	var before *entry.StoredEntry
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(key))
		var current *entry.StoredEntry
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			current = nil
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				current, err = decodeEntry(val)
				return err
			}); err != nil {
				return err
			}
		}
		before = current

		if !current.Equal(comparand) {
			return nil
		}
		if newVal == nil {
			return txn.Delete(b.key(key))
		}
		encoded, err := encodeEntry(newVal)
		if err != nil {
			return err
		}
		return txn.Set(b.key(key), encoded)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return before, nil
}

// BadgerSessionStore is a SessionStore backed by a badger.DB.
type BadgerSessionStore struct {
	db     *badger.DB
	prefix []byte
}

// NewBadgerSessionStore opens (or creates) a badger database at
// opts.Dir and returns a SessionStore over it.
func NewBadgerSessionStore(opts BadgerOptions) (*BadgerSessionStore, error) {
	db, err := openBadger(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerSessionStore{db: db, prefix: []byte("session:")}, nil
}

// Close releases the underlying database.
func (b *BadgerSessionStore) Close() error { return b.db.Close() }

type sessionDTO struct {
	LeaseEnd       time.Time
	Session        string
	State          string
	OwnedEntries   []string
	StorageVersion int64
}

func encodeSession(s *sessionrec.StoredSession) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	dto := sessionDTO{
		LeaseEnd:       s.LeaseEnd,
		Session:        s.Session.Compact(),
		State:          string(s.State),
		StorageVersion: s.StorageVersion,
	}
	for _, p := range s.OwnedEntries {
		dto.OwnedEntries = append(dto.OwnedEntries, p.Escaped())
	}
	return json.Marshal(dto)
}

func decodeSession(raw []byte) (*sessionrec.StoredSession, error) {
	if raw == nil {
		return nil, nil
	}
	var dto sessionDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("store: decoding session record: %w", err)
	}
	id, err := session.ParseCompact(dto.Session)
	if err != nil {
		return nil, err
	}
	out := &sessionrec.StoredSession{
		LeaseEnd:       dto.LeaseEnd,
		Session:        id,
		State:          sessionrec.State(dto.State),
		StorageVersion: dto.StorageVersion,
	}
	for _, raw := range dto.OwnedEntries {
		p, err := path.FromEscaped(raw)
		if err != nil {
			return nil, err
		}
		out.OwnedEntries = append(out.OwnedEntries, p)
	}
	return out, nil
}

func (b *BadgerSessionStore) key(k string) []byte {
	return append(append([]byte(nil), b.prefix...), []byte(k)...)
}

func (b *BadgerSessionStore) Get(_ context.Context, key string) (*sessionrec.StoredSession, error) {
	var out *sessionrec.StoredSession
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out, err = decodeSession(val)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

func (b *BadgerSessionStore) Update(_ context.Context, key string, newVal, comparand *sessionrec.StoredSession) (*sessionrec.StoredSession, error) {
	if newVal == nil && comparand == nil {
		return nil, ErrInvalidArgument
	}

	var before *sessionrec.StoredSession
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(key))
		var current *sessionrec.StoredSession
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			current = nil
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				current, err = decodeSession(val)
				return err
			}); err != nil {
				return err
			}
		}
		before = current

		if !current.Equal(comparand) {
			return nil
		}
		if newVal == nil {
			return txn.Delete(b.key(key))
		}
		encoded, err := encodeSession(newVal)
		if err != nil {
			return err
		}
		return txn.Set(b.key(key), encoded)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return before, nil
}

// List enumerates all session records by iterating the session
// prefix. Used by the termination scanner (§4.5).
func (b *BadgerSessionStore) List(_ context.Context) ([]*sessionrec.StoredSession, error) {
	var out []*sessionrec.StoredSession
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				rec, err := decodeSession(val)
				if err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}
