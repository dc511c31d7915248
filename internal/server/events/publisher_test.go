package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dmitrijs2005/keeperauth/internal/logging"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

var at = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "keeper.auth")

	e := Event{Type: TypeAccountLocked, AccountID: "acc-1", At: at, Attrs: map[string]string{"reason": "login"}}
	require.NoError(t, p.Publish(context.Background(), e))

	require.Equal(t, []string{"keeper.auth.account_locked"}, conn.subjects)
	var got Event
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	assert.Equal(t, e, got)
}

func TestNATSPublisher_Error(t *testing.T) {
	p := NewNATSPublisher(&fakeConn{err: errors.New("down")}, "")
	err := p.Publish(context.Background(), Event{Type: TypeLogout})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish logout")
	assert.Equal(t, "logout", p.Subject(TypeLogout))
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(logging.NewLogger("production", "info", &buf))

	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeLoginFailed, AccountID: "acc-9", At: at}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit", line["msg"])
	assert.Equal(t, TypeLoginFailed, line["event"])
	assert.Equal(t, "acc-9", line["account_id"])
}

func TestFanout(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := NewMockPublisher(ctrl)
	b := NewMockPublisher(ctrl)
	boom := errors.New("boom")

	e := Event{Type: TypeLogoutAll, AccountID: "acc-1"}
	a.EXPECT().Publish(gomock.Any(), e).Return(nil)
	b.EXPECT().Publish(gomock.Any(), e).Return(boom)

	err := Fanout{a, b}.Publish(context.Background(), e)
	assert.ErrorIs(t, err, boom)
}
