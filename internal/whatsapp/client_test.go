package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamefinish/stockbot/pkg/store"
)

func TestClientSendMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotForm map[string][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		user, pass, _ := r.BasicAuth()
		gotAuth = user + ":" + pass
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM999"}`))
	}))
	defer srv.Close()

	c, err := NewClient("AC123", "token", "whatsapp:+15550001111", zerolog.Nop(), WithAPIBase(srv.URL))
	require.NoError(t, err)

	err = c.SendMessage(context.Background(), "whatsapp:+639171234567", "120 oak planks in stock")
	require.NoError(t, err)

	assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", gotPath)
	assert.Equal(t, "AC123:token", gotAuth)
	assert.Equal(t, "whatsapp:+639171234567", gotForm["To"][0])
	assert.Equal(t, "whatsapp:+15550001111", gotForm["From"][0])
	assert.Equal(t, "120 oak planks in stock", gotForm["Body"][0])
}

func TestClientSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":20003,"message":"Authenticate"}`))
	}))
	defer srv.Close()

	c, err := NewClient("AC123", "bad-token", "whatsapp:+15550001111", zerolog.Nop(), WithAPIBase(srv.URL))
	require.NoError(t, err)

	err = c.SendMessage(context.Background(), "whatsapp:+639171234567", "hello")
	require.Error(t, err)
	assert.True(t, store.IsTransport(err))
	assert.Contains(t, err.Error(), "401")
}

func TestClientSendMessageValidation(t *testing.T) {
	c, err := NewClient("AC123", "token", "whatsapp:+15550001111", zerolog.Nop())
	require.NoError(t, err)

	err = c.SendMessage(context.Background(), "", "hello")
	require.Error(t, err)
	assert.True(t, store.IsValidation(err))

	err = c.SendMessage(context.Background(), "whatsapp:+639171234567", "")
	require.Error(t, err)
	assert.True(t, store.IsValidation(err))
}

func TestClientTruncatesLongBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := NewClient("AC123", "token", "whatsapp:+15550001111", zerolog.Nop(), WithAPIBase(srv.URL))
	require.NoError(t, err)

	long := strings.Repeat("a", maxBodyLength+50)
	require.NoError(t, c.SendMessage(context.Background(), "whatsapp:+639171234567", long))
	assert.Len(t, gotBody, maxBodyLength)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("", "token", "whatsapp:+15550001111", zerolog.Nop())
	require.Error(t, err)

	_, err = NewClient("AC123", "token", "", zerolog.Nop())
	require.Error(t, err)
}
