package restyutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	mu    sync.Mutex
	files map[string]string
}

func (o *memoryOutput) Write(id string, contents string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[id] = contents
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/calendar", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/html; charset=utf-8")
		w.Write([]byte("<table><tr><td>府中試験場</td></tr></table>"))
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/calendar?week=2", http.StatusFound)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestDumpExchanges(t *testing.T) {
	server := newServer(t)
	output := &memoryOutput{files: map[string]string{}}

	client := resty.New()
	DumpExchanges(client, output)

	_, err := client.R().Get(server.URL + "/calendar")
	require.NoError(t, err)
	_, err = client.R().
		SetFormData(map[string]string{"period": "2"}).
		Post(server.URL + "/next")
	require.NoError(t, err)
	_, err = client.R().Get(server.URL + "/status")
	require.NoError(t, err)

	require.Len(t, output.files, 5)
	require.Equal(t, "<table><tr><td>府中試験場</td></tr></table>", output.files["001.html"])

	first := output.files["001.http"]
	require.True(t, strings.HasPrefix(first, "---- REQUEST ----\n\nGET "+server.URL+"/calendar\n"))
	require.Contains(t, first, "---- RESPONSE ----\n\n200 "+server.URL+"/calendar")
	require.Contains(t, first, "Content-Type: text/html; charset=utf-8")

	second := output.files["002.http"]
	require.Contains(t, second, "POST "+server.URL+"/next")
	require.Contains(t, second, "200 "+server.URL+"/calendar?week=2")
	require.Contains(t, output.files, "002.html")

	require.Contains(t, output.files, "003.http")
	require.NotContains(t, output.files, "003.html")
}

func TestFilesystemOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pages", "nested")
	output, err := NewFilesystemOutput(dir)
	require.NoError(t, err)

	output.Write("001.html", "<html></html>")

	contents, err := os.ReadFile(filepath.Join(dir, "001.html"))
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(contents))
}

func TestFormatRequestBody(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.com/calendar", nil)
	require.NoError(t, err)
	require.Equal(t, "", formatRequestBody(req))

	req.GetBody = func() (io.ReadCloser, error) { return nil, nil }
	require.Equal(t, "", formatRequestBody(req))

	req.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
	require.Equal(t, "", formatRequestBody(req))

	req, err = http.NewRequest(http.MethodPost, "https://example.com/next", strings.NewReader("period=2"))
	require.NoError(t, err)
	require.Equal(t, "period=2", formatRequestBody(req))

	require.Equal(t, "", formatRequestBody(nil))
}
