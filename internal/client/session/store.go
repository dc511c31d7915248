// Package session persists the client's session state in a bbolt file: the
// account email and KDF level, the current refresh token, and locally
// sealed vault items. The vault key itself is never written.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
	"github.com/dmitrijs2005/keeperauth/internal/filex"
)

const (
	filePerm    = fs.FileMode(0o600)
	openTimeout = 5 * time.Second
)

var (
	sessionBucket = []byte("session")
	itemsBucket   = []byte("items")
	recordKey     = []byte("record")
)

var (
	ErrNoSession    = errors.New("no saved session")
	ErrItemNotFound = errors.New("item not found")
)

// Record is what survives a client restart.
type Record struct {
	Email            string            `json:"email"`
	SecurityLevel    int               `json:"securityLevel"`
	RefreshToken     string            `json:"refreshToken"`
	RefreshExpiresAt time.Time         `json:"refreshExpiresAt"`
	KeyCheck         *cryptox.Envelope `json:"keyCheck,omitempty"`
}

// Store is the bbolt-backed session file.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	if _, err := filex.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sessionBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(itemsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing session db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the saved record or ErrNoSession.
func (s *Store) Load() (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionBucket).Get(recordKey)
		if data == nil {
			return ErrNoSession
		}
		rec = &Record{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

func (s *Store) Save(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(recordKey, data)
	})
}

// Clear forgets the session record. Items are kept; they stay sealed under
// the account's vault key.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete(recordKey)
	})
}

func (s *Store) PutItem(name string, env *cryptox.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(itemsBucket).Put([]byte(name), data)
	})
}

func (s *Store) GetItem(name string) (*cryptox.Envelope, error) {
	var env *cryptox.Envelope
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(itemsBucket).Get([]byte(name))
		if data == nil {
			return ErrItemNotFound
		}
		env = &cryptox.Envelope{}
		return json.Unmarshal(data, env)
	})
	return env, err
}

func (s *Store) DeleteItem(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(itemsBucket).Delete([]byte(name))
	})
}

// Items returns every stored envelope by name.
func (s *Store) Items() (map[string]*cryptox.Envelope, error) {
	items := make(map[string]*cryptox.Envelope)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(itemsBucket).ForEach(func(k, v []byte) error {
			env := &cryptox.Envelope{}
			if err := json.Unmarshal(v, env); err != nil {
				return fmt.Errorf("item %s: %w", k, err)
			}
			items[string(k)] = env
			return nil
		})
	})
	return items, err
}

// ItemNames lists stored item names in order.
func (s *Store) ItemNames() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(itemsBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

// ReplaceItems overwrites the named items and the record in one transaction.
// rec may be nil to leave the record alone.
func (s *Store) ReplaceItems(items map[string]*cryptox.Envelope, rec *Record) error {
	encoded := make(map[string][]byte, len(items))
	for name, env := range items {
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		encoded[name] = data
	}
	var recData []byte
	if rec != nil {
		var err error
		if recData, err = json.Marshal(rec); err != nil {
			return err
		}
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(itemsBucket)
		for name, data := range encoded {
			if err := b.Put([]byte(name), data); err != nil {
				return err
			}
		}
		if recData != nil {
			return tx.Bucket(sessionBucket).Put(recordKey, recData)
		}
		return nil
	})
}
