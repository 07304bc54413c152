package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/wirechat"
	"github.com/vovakirdan/wirechat-sync/wirechat/rest"
	"github.com/vovakirdan/wirechat-sync/wirechat/sealbox"
)

type recordingSender struct {
	sent  []wirechat.OutgoingMessage
	reads []string
	typed int
}

func (s *recordingSender) SendMessage(m wirechat.OutgoingMessage) error {
	s.sent = append(s.sent, m)
	return nil
}

func (s *recordingSender) MarkRead(_, serverID string) error {
	s.reads = append(s.reads, serverID)
	return nil
}

func (s *recordingSender) StartTyping(string) error {
	s.typed++
	return nil
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: ws://file/ws\nuser: file-user\ncodec: cbor\n"), 0o600))

	o, fs, err := parseFlags([]string{"--config", path, "--user", "flag-user"})
	require.NoError(t, err)
	cfg, err := loadConfig(o, fs)
	require.NoError(t, err)

	assert.Equal(t, "ws://file/ws", cfg.URL)
	assert.Equal(t, "flag-user", cfg.User)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.Equal(t, "general", o.room)
}

func TestBadCodecFlag(t *testing.T) {
	o, fs, err := parseFlags([]string{"--codec", "xml"})
	require.NoError(t, err)
	_, err = loadConfig(o, fs)
	assert.ErrorIs(t, err, wirechat.ErrInvalidConfig)
}

func TestHandleLine(t *testing.T) {
	s := &recordingSender{}
	rec := wirechat.NewReconciler(s, "alice", 0)
	var out bytes.Buffer
	v := newView(&out, "alice", "")
	rec.OnChange(v.show)

	done, err := handleLine(s, rec, v, "conv-1", "  hello  ")
	require.NoError(t, err)
	assert.False(t, done)
	require.Len(t, s.sent, 1)
	assert.Equal(t, "hello", s.sent[0].Content)
	assert.Contains(t, out.String(), "[sending] me: hello")

	_, err = handleLine(s, rec, v, "conv-1", "/read srv-7")
	require.NoError(t, err)
	assert.Equal(t, []string{"srv-7"}, s.reads)

	_, err = handleLine(s, rec, v, "conv-1", "/typing")
	require.NoError(t, err)
	assert.Equal(t, 1, s.typed)

	done, err = handleLine(s, rec, v, "conv-1", "/quit")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestViewOpensSealedPayloads(t *testing.T) {
	sealed, err := sealbox.Sealer{WorkFactor: 10}.Seal([]byte("psst"), "pw")
	require.NoError(t, err)

	v := newView(&bytes.Buffer{}, "alice", "pw")
	line := v.format(wirechat.OptimisticMessage{
		AuthorID: "bob",
		Payload:  sealed,
		ServerID: "srv-1",
		State:    wirechat.DeliveryDelivered,
	})
	assert.Equal(t, "[delivered] bob: psst (srv-1)", line)

	locked := newView(&bytes.Buffer{}, "alice", "other")
	assert.Contains(t, locked.format(wirechat.OptimisticMessage{Payload: sealed}), "<sealed>")
}

func TestFailureMarksConnectionErrors(t *testing.T) {
	var out bytes.Buffer
	v := newView(&out, "alice", "")

	v.failure(wirechat.ErrNotConnected)
	assert.Contains(t, out.String(), "-- offline, try again later: not_connected")

	out.Reset()
	v.failure(wirechat.ErrBadRequest)
	assert.Equal(t, "-- bad_request: bad request\n", out.String())
}

func TestLoginModes(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(rest.TokenResponse{Token: "tok" + r.URL.Path})
	}))
	defer srv.Close()
	api := rest.NewClient(srv.URL)
	ctx := context.Background()

	tok, err := login(ctx, api, "carol", "pw", true)
	require.NoError(t, err)
	assert.Equal(t, "tok/register", tok)
	_, err = login(ctx, api, "carol", "", false)
	require.NoError(t, err)
	_, err = login(ctx, api, "carol", "pw", false)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/register", "/guest", "/login"}, paths)
}
