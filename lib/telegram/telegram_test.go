package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const testToken = "123456:secret-token"

type fakeAPI struct {
	mu       sync.Mutex
	requests []fakeRequest
	updates  []Update
}

type fakeRequest struct {
	Method string
	Form   map[string]string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/bot" + testToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
		return
	}
	method := strings.TrimPrefix(r.URL.Path, prefix)
	r.ParseForm()
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	f.mu.Lock()
	f.requests = append(f.requests, fakeRequest{Method: method, Form: form})
	f.mu.Unlock()

	var result any = true
	switch method {
	case "getMe":
		result = User{ID: 42, IsBot: true, FirstName: "Samezu", Username: "samezu_bot"}
	case "getUpdates":
		result = f.updates
	case "sendMessage":
		if form["chat_id"] == "429" {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`))
			return
		}
		result = Message{MessageID: 1}
	}
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func newTestClient(t *testing.T, token string) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	return NewClient(token, Options{BaseURL: server.URL, Timeout: 5 * time.Second}), api
}

func TestGetMe(t *testing.T) {
	client, _ := newTestClient(t, testToken)
	me, err := client.GetMe(context.Background())
	require.NoError(t, err)
	require.Equal(t, "@samezu_bot", me.DisplayName())
}

func TestUnauthorized(t *testing.T) {
	client, _ := newTestClient(t, "bad-token")
	err := client.DeleteWebhook(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	require.NotContains(t, err.Error(), "bad-token")
}

func TestGetUpdates(t *testing.T) {
	client, api := newTestClient(t, testToken)
	api.updates = []Update{
		{
			UpdateID: 10,
			Message: &Message{
				MessageID: 1,
				From:      &User{ID: 7, FirstName: "Taro", LastName: "Yamada"},
				Chat:      Chat{ID: 7, Type: "private"},
				Text:      "/check@samezu_bot force all",
			},
		},
	}

	updates, err := client.GetUpdates(context.Background(), 10, time.Second)
	require.NoError(t, err)
	if diff := cmp.Diff(api.updates, updates); diff != "" {
		t.Fatal(diff)
	}

	require.Len(t, api.requests, 1)
	require.Equal(t, "getUpdates", api.requests[0].Method)
	require.Equal(t, "10", api.requests[0].Form["offset"])
	require.Equal(t, "1", api.requests[0].Form["timeout"])

	name, args, ok := updates[0].Message.Command()
	require.True(t, ok)
	require.Equal(t, "check", name)
	require.Equal(t, []string{"force", "all"}, args)
	require.Equal(t, "Taro Yamada", updates[0].Message.From.DisplayName())
}

func TestSendMessage(t *testing.T) {
	client, api := newTestClient(t, testToken)

	err := client.SendMessage(context.Background(), 7, "<b>hello</b>")
	require.NoError(t, err)
	require.Len(t, api.requests, 1)
	require.Equal(t, map[string]string{
		"chat_id":                  "7",
		"text":                     "<b>hello</b>",
		"parse_mode":               "HTML",
		"disable_web_page_preview": "true",
	}, api.requests[0].Form)

	long := strings.Repeat(strings.Repeat("あ", 99)+"\n", 50)
	err = client.SendMessage(context.Background(), 7, long)
	require.NoError(t, err)
	require.Len(t, api.requests, 3)
	require.Equal(t, long, api.requests[1].Form["text"]+api.requests[2].Form["text"])
}

func TestSendMessageRateLimited(t *testing.T) {
	client, _ := newTestClient(t, testToken)

	err := client.SendMessage(context.Background(), 429, "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 429, apiErr.Code)
	require.Equal(t, 3*time.Second, apiErr.RetryAfter)
	require.NotErrorIs(t, err, ErrUnauthorized)
}

func TestCommand(t *testing.T) {
	cases := []struct {
		text string
		name string
		args []string
		ok   bool
	}{
		{text: "/start", name: "start", ok: true},
		{text: "/Check_Month  -f", name: "check_month", args: []string{"-f"}, ok: true},
		{text: "hello", ok: false},
		{text: "", ok: false},
		{text: "/", ok: false},
	}
	for _, c := range cases {
		name, args, ok := Message{Text: c.text}.Command()
		require.Equal(t, c.ok, ok, c.text)
		if !c.ok {
			continue
		}
		require.Equal(t, c.name, name, c.text)
		require.Equal(t, c.args, append([]string(nil), args...), c.text)
	}
}

func TestSplitText(t *testing.T) {
	require.Equal(t, []string{""}, SplitText("", 10))
	require.Equal(t, []string{"short"}, SplitText("short", 10))
	require.Equal(t, []string{"abc\n", "defgh\n", "ij"}, SplitText("abc\ndefgh\nij", 7))
	require.Equal(t, []string{"abcdefg", "hij"}, SplitText("abcdefghij", 7))
}
