package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// SnapshotLauncher serves saved copies of a paginated site. Navigate
// loads the first document, every successful click on an input, button
// or anchor advances to the next one.
type SnapshotLauncher struct {
	Documents []string
}

// NewSnapshotLauncherFromFiles reads each file as one saved page, in
// pagination order.
func NewSnapshotLauncherFromFiles(paths []string) (SnapshotLauncher, error) {
	docs := make([]string, 0, len(paths))
	for _, path := range paths {
		contents, err := os.ReadFile(path)
		if err != nil {
			return SnapshotLauncher{}, err
		}
		docs = append(docs, string(contents))
	}
	return SnapshotLauncher{Documents: docs}, nil
}

func (l SnapshotLauncher) Launch(ctx context.Context) (Page, error) {
	if len(l.Documents) == 0 {
		return nil, fmt.Errorf("browser: no snapshot documents")
	}
	s := &snapshotSequence{documents: l.Documents}
	return &documentPage{
		navigate: s.navigate,
		click:    s.click,
	}, nil
}

type snapshotSequence struct {
	documents []string
	index     int
}

func (s *snapshotSequence) load(index int, target string) (*goquery.Document, *url.URL, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.documents[index]))
	if err != nil {
		return nil, nil, err
	}
	location, err := url.Parse(target)
	if err != nil {
		return nil, nil, err
	}
	doc.Url = location
	s.index = index
	return doc, location, nil
}

func (s *snapshotSequence) navigate(ctx context.Context, target string, timeout time.Duration) (*goquery.Document, *url.URL, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return s.load(0, target)
}

func (s *snapshotSequence) click(ctx context.Context, current *url.URL, target *goquery.Selection) (*goquery.Document, *url.URL, error) {
	switch goquery.NodeName(target) {
	case "input", "button", "a":
	default:
		return nil, nil, ErrNotClickable
	}
	if s.index+1 >= len(s.documents) {
		return nil, nil, ErrNotClickable
	}
	location := ""
	if current != nil {
		location = current.String()
	}
	return s.load(s.index+1, location)
}
