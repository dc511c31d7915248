package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "session.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestRecord_SaveLoadClear(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.Load()
	require.ErrorIs(t, err, ErrNoSession)

	rec := &Record{
		Email:            "a@example.com",
		SecurityLevel:    2,
		RefreshToken:     "rt",
		RefreshExpiresAt: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		KeyCheck:         &cryptox.Envelope{ItemType: "keycheck", Nonce: []byte{1}, Ciphertext: []byte{2}},
	}
	require.NoError(t, s.Save(rec))

	got, err := s.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, s.Clear())
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRecord_SurvivesReopen(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Save(&Record{Email: "a@example.com", RefreshToken: "rt"}))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load()
	require.NoError(t, err)
	assert.Equal(t, "rt", got.RefreshToken)
}

func TestItems(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.GetItem("missing")
	require.ErrorIs(t, err, ErrItemNotFound)

	a := &cryptox.Envelope{ItemType: "note", Nonce: []byte("n1"), Ciphertext: []byte("c1")}
	b := &cryptox.Envelope{ItemType: "note", Nonce: []byte("n2"), Ciphertext: []byte("c2")}
	require.NoError(t, s.PutItem("b", b))
	require.NoError(t, s.PutItem("a", a))

	names, err := s.ItemNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	got, err := s.GetItem("a")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	all, err := s.Items()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteItem("a"))
	names, err = s.ItemNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

func TestReplaceItems(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.PutItem("a", &cryptox.Envelope{ItemType: "note", Ciphertext: []byte("old")}))
	require.NoError(t, s.Save(&Record{Email: "a@example.com"}))

	fresh := &cryptox.Envelope{ItemType: "note", Ciphertext: []byte("new")}
	require.NoError(t, s.ReplaceItems(map[string]*cryptox.Envelope{"a": fresh}, &Record{Email: "a@example.com", SecurityLevel: 3}))

	got, err := s.GetItem("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got.Ciphertext)

	rec, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, rec.SecurityLevel)

	// nil record leaves it untouched
	require.NoError(t, s.ReplaceItems(nil, nil))
	rec, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, rec.SecurityLevel)
}
