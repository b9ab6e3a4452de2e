// Package restyutil records the http exchanges of a resty client, for
// debugging scrapes and for capturing pages to replay offline.
package restyutil

import (
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type Output interface {
	Write(id string, contents string)
}

type FilesystemOutput struct {
	directory string
}

func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0o600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}

// DumpExchanges writes every response the client receives to output, in
// order. "<n>.http" holds the whole exchange, html responses are also
// written as "<n>.html" so they can be opened or replayed directly.
func DumpExchanges(client *resty.Client, output Output) {
	var counter atomic.Uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := fmt.Sprintf("%03d", counter.Add(1))
		output.Write(id+".http", formatHttpMessage(res))

		mediaType, _, _ := mime.ParseMediaType(res.Header().Get("content-type"))
		if mediaType == "text/html" {
			output.Write(id+".html", res.String())
		}
		slog.DebugContext(
			res.Request.Context(), "recorded exchange",
			"method", res.Request.Method,
			"url", res.Request.URL,
			"message_id", id,
		)
		return nil
	})
}
