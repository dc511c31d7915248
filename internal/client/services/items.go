package services

import (
	"errors"

	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
)

var ErrEmptyItemName = errors.New("item name is required")

// Note is the sample vault item.
type Note struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

const noteType = "note"

// SaveNote seals n under the vault key and stores it locally.
func (s *Session) SaveNote(name string, n Note) error {
	if name == "" {
		return ErrEmptyItemName
	}
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()
	if key == nil {
		return ErrNotLoggedIn
	}

	env, err := cryptox.Seal(key, noteType, n)
	if err != nil {
		return err
	}
	return s.store.PutItem(name, env)
}

// OpenNote decrypts a stored note. A note sealed under another key yields
// cryptox.ErrDecrypt.
func (s *Session) OpenNote(name string) (Note, error) {
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()
	if key == nil {
		return Note{}, ErrNotLoggedIn
	}

	env, err := s.store.GetItem(name)
	if err != nil {
		return Note{}, err
	}
	var n Note
	if err := cryptox.Open(key, env, &n); err != nil {
		return Note{}, err
	}
	return n, nil
}

func (s *Session) ListItems() ([]string, error) {
	return s.store.ItemNames()
}
