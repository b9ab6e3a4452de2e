package browser

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"samezu-bot/lib/restyutil"
	"samezu-bot/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type HTTPOptions struct {
	UserAgent string
	// Timeout bounds each request when Navigate is given no timeout.
	Timeout time.Duration
	// DumpDir, when set, receives every exchange and fetched page.
	DumpDir string
}

// HTTPLauncher opens pages backed by plain http requests. Scripts are
// never run: a click follows an anchor's href or submits the enclosing
// form of a submit control, anything else returns ErrNotClickable
// (ErrScriptRequired when the control has an onclick handler).
type HTTPLauncher struct {
	opts HTTPOptions
}

func NewHTTPLauncher(opts HTTPOptions) HTTPLauncher {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second * 30
	}
	return HTTPLauncher{opts: opts}
}

func (l HTTPLauncher) Launch(ctx context.Context) (Page, error) {
	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", l.opts.UserAgent)
	client.SetHeader("accept-language", "ja,en;q=0.8")
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetTimeout(l.opts.Timeout)

	telemetry.InstrumentResty(client, "samezu/browser/http")
	if l.opts.DumpDir != "" {
		output, err := restyutil.NewFilesystemOutput(l.opts.DumpDir)
		if err != nil {
			return nil, err
		}
		restyutil.DumpExchanges(client, output)
	}

	fetcher := httpFetcher{http: client}
	return &documentPage{
		navigate: fetcher.navigate,
		click:    fetcher.click,
	}, nil
}

type httpFetcher struct {
	http *resty.Client
}

func (f httpFetcher) parse(res *resty.Response) (*goquery.Document, *url.URL, error) {
	if res.IsError() {
		return nil, nil, fmt.Errorf("browser: %s %s: %s", res.Request.Method, res.Request.URL, res.Status())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return nil, nil, err
	}
	location, err := url.Parse(res.Request.URL)
	if err != nil {
		return nil, nil, err
	}
	if res.RawResponse != nil && res.RawResponse.Request != nil && res.RawResponse.Request.URL != nil {
		location = res.RawResponse.Request.URL
	}
	doc.Url = location
	return doc, location, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (f httpFetcher) get(ctx context.Context, target string, timeout time.Duration) (*goquery.Document, *url.URL, error) {
	reqCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	res, err := f.http.R().
		SetContext(reqCtx).
		Get(target)
	if err != nil {
		return nil, nil, timeoutErr(ctx, err)
	}
	return f.parse(res)
}

func (f httpFetcher) navigate(ctx context.Context, target string, timeout time.Duration) (*goquery.Document, *url.URL, error) {
	return f.get(ctx, target, timeout)
}

func (f httpFetcher) click(ctx context.Context, current *url.URL, target *goquery.Selection) (*goquery.Document, *url.URL, error) {
	switch goquery.NodeName(target) {
	case "a":
		href := strings.TrimSpace(target.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return nil, nil, ErrNotClickable
		}
		next, err := resolve(current, href)
		if err != nil {
			return nil, nil, err
		}
		return f.get(ctx, next, 0)
	case "input", "button":
		if !submitsForm(target) {
			if _, scripted := target.Attr("onclick"); scripted {
				return nil, nil, ErrScriptRequired
			}
			return nil, nil, ErrNotClickable
		}
		form := target.Closest("form")
		if form.Length() == 0 {
			return nil, nil, ErrNotClickable
		}
		return f.submit(ctx, current, form, target)
	}
	return nil, nil, ErrNotClickable
}

func submitsForm(s *goquery.Selection) bool {
	kind := strings.ToLower(s.AttrOr("type", ""))
	if goquery.NodeName(s) == "button" {
		return kind == "" || kind == "submit"
	}
	return kind == "submit" || kind == "image"
}

func resolve(current *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if current == nil {
		return parsed.String(), nil
	}
	return current.ResolveReference(parsed).String(), nil
}

// formValues collects what a browser would send for form when submitter
// is clicked.
func formValues(form, submitter *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input, select, textarea").Each(func(_ int, field *goquery.Selection) {
		name, ok := field.Attr("name")
		if !ok || name == "" {
			return
		}
		if _, disabled := field.Attr("disabled"); disabled {
			return
		}

		switch goquery.NodeName(field) {
		case "select":
			selected := field.Find("option[selected]").First()
			if selected.Length() == 0 {
				selected = field.Find("option").First()
			}
			if selected.Length() > 0 {
				values.Add(name, selected.AttrOr("value", strings.TrimSpace(selected.Text())))
			}
		case "textarea":
			values.Add(name, field.Text())
		default:
			switch strings.ToLower(field.AttrOr("type", "text")) {
			case "submit", "image", "button", "reset", "file":
				return
			case "checkbox", "radio":
				if _, checked := field.Attr("checked"); !checked {
					return
				}
				values.Add(name, field.AttrOr("value", "on"))
			default:
				values.Add(name, field.AttrOr("value", ""))
			}
		}
	})
	if name, ok := submitter.Attr("name"); ok && name != "" {
		values.Add(name, submitter.AttrOr("value", ""))
	}
	return values
}

func (f httpFetcher) submit(ctx context.Context, current *url.URL, form, submitter *goquery.Selection) (*goquery.Document, *url.URL, error) {
	action := form.AttrOr("action", "")
	if override, ok := submitter.Attr("formaction"); ok {
		action = override
	}
	target, err := resolve(current, action)
	if err != nil {
		return nil, nil, err
	}
	values := formValues(form, submitter)

	method := strings.ToUpper(form.AttrOr("method", "GET"))
	if override, ok := submitter.Attr("formmethod"); ok {
		method = strings.ToUpper(override)
	}

	if method == "POST" {
		res, err := f.http.R().
			SetContext(ctx).
			SetFormDataFromValues(values).
			Post(target)
		if err != nil {
			return nil, nil, timeoutErr(ctx, err)
		}
		return f.parse(res)
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return nil, nil, err
	}
	parsed.RawQuery = values.Encode()
	return f.get(ctx, parsed.String(), 0)
}
