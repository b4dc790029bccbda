package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscord_PostsEmbed(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewDiscord(srv.URL, "bot", time.Second).Notify(context.Background(), "Bought 10 ABCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "bot", got.Username)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Bought 10 ABCUSDT", got.Embeds[0].Description)
}

func TestDiscord_ReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscord(srv.URL, "", time.Second).Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type failing struct{ calls int }

func (f *failing) Notify(ctx context.Context, message string) error {
	f.calls++
	return errors.New("down")
}

func TestMulti_DeliversToAll(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)
	bad := &failing{}

	err := Multi{bad, NewLog(logger)}.Notify(context.Background(), "hello")
	assert.EqualError(t, err, "down")
	assert.Equal(t, 1, bad.calls)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "hello", hook.LastEntry().Message)
}
