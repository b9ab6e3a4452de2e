package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"samezu-bot/lib/browser"
	"samezu-bot/lib/configutil"
	"samezu-bot/lib/scrapers/keishicho"
	"samezu-bot/services/bot"
)

const DefaultTargetURL = "https://www.keishicho-gto.metro.tokyo.lg.jp/keishicho-u/reserve/offerList_detail?tempSeq=445&accessFrom=offerList"

type BrowserConfig struct {
	// Driver is "chrome" for a real browser or "http" for plain requests.
	// The live calendar pages through script buttons, which only chrome
	// can press. With http a scan of it fails after the first window.
	Driver    string `json:"driver"`
	// Headless defaults to true when unset.
	Headless  *bool  `json:"headless"`
	ExecPath  string `json:"exec_path"`
	UserAgent string `json:"user_agent"`
	// DumpDir records every http exchange there, only with the http driver.
	DumpDir string `json:"dump_dir"`
}

type EmailConfig struct {
	Server     string   `json:"server"`
	Port       int      `json:"port"`
	Address    string   `json:"address"`
	Password   string   `json:"password"`
	Recipients []string `json:"recipients"`
}

type Config struct {
	TelegramBotToken           string   `json:"telegram_bot_token"`
	TargetURL                  string   `json:"target_url"`
	TargetFacilities           []string `json:"target_facilities"`
	RelevantApplicantMarker    string   `json:"relevant_applicant_marker"`
	NonResidentApplicantMarker string   `json:"non_resident_applicant_marker"`
	// FilterRelevantDefault defaults to true when unset.
	FilterRelevantDefault      *bool    `json:"filter_relevant_default"`

	CheckIntervalSeconds      int `json:"check_interval_seconds"`
	CacheTTLSeconds           int `json:"cache_ttl_seconds"`
	PageTimeoutMs             int `json:"page_timeout_ms"`
	LoadingIndicatorTimeoutMs int `json:"loading_indicator_timeout_ms"`
	DynamicContentWaitMs      int `json:"dynamic_content_wait_ms"`
	NavigationSettleMs        int `json:"navigation_settle_ms"`
	MaxPeriods                int `json:"max_periods"`
	ScanTimeoutSeconds        int `json:"scan_timeout_seconds"`

	SubscribersFile string        `json:"subscribers_file"`
	Browser         BrowserConfig `json:"browser"`
	Email           EmailConfig   `json:"email"`
	LogLevel        string        `json:"log_level"`
}

// DefaultConfig leaves the *bool options nil, an unset option and an
// explicit false must stay distinguishable when the config file is merged
// on top.
func DefaultConfig() Config {
	return Config{
		TargetURL:                  DefaultTargetURL,
		TargetFacilities:           []string{"府中試験場", "鮫洲試験場"},
		RelevantApplicantMarker:    keishicho.DefaultResidentMarker,
		NonResidentApplicantMarker: keishicho.DefaultNonResidentMarker,

		CheckIntervalSeconds:      300,
		CacheTTLSeconds:           120,
		PageTimeoutMs:             30000,
		LoadingIndicatorTimeoutMs: 5000,
		DynamicContentWaitMs:      1000,
		NavigationSettleMs:        3000,
		MaxPeriods:                keishicho.MaxPeriodsLimit,
		ScanTimeoutSeconds:        600,

		SubscribersFile: "subscribers.txt",
		Browser: BrowserConfig{
			Driver:    "chrome",
			UserAgent: browser.DefaultUserAgent,
		},
		Email: EmailConfig{
			Port: 587,
		},
	}
}

// LoadConfig layers the config file at path (and its .local variant) on
// top of the defaults, then applies environment overrides.
func LoadConfig(path string, env *configutil.Env) (Config, error) {
	cfg, err := configutil.ReadConfigWithDefaults(path, DefaultConfig())
	if err != nil {
		return Config{}, err
	}

	env.String("TELEGRAM_BOT_TOKEN", &cfg.TelegramBotToken)
	env.String("TARGET_URL", &cfg.TargetURL)
	env.List("TARGET_FACILITIES", &cfg.TargetFacilities)
	env.Bool("SHOW_ONLY_RELEVANT_APPLICANTS", &cfg.FilterRelevantDefault)
	env.Int("CHECK_INTERVAL", &cfg.CheckIntervalSeconds)
	env.Int("CACHE_DURATION", &cfg.CacheTTLSeconds)
	env.Int("TIMEOUT", &cfg.PageTimeoutMs)
	env.Int("MAX_PERIODS", &cfg.MaxPeriods)
	env.Int("NAVIGATION_SETTLE_MS", &cfg.NavigationSettleMs)
	env.String("SUBSCRIBERS_FILE", &cfg.SubscribersFile)
	env.String("BROWSER_DRIVER", &cfg.Browser.Driver)
	env.Bool("HEADLESS", &cfg.Browser.Headless)
	env.String("LOG_LEVEL", &cfg.LogLevel)
	if env.Err != nil {
		return Config{}, env.Err
	}

	err = cfg.validate()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error

	target, err := url.Parse(c.TargetURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		errs = append(errs, fmt.Errorf("target_url %q is not an absolute http(s) url", c.TargetURL))
	}
	if len(c.TargetFacilities) == 0 {
		errs = append(errs, errors.New("target_facilities must name at least one facility"))
	}
	if c.MaxPeriods < 1 || c.MaxPeriods > keishicho.MaxPeriodsLimit {
		errs = append(errs, fmt.Errorf("max_periods must be between 1 and %d, got %d", keishicho.MaxPeriodsLimit, c.MaxPeriods))
	}

	positive := []struct {
		name  string
		value int
	}{
		{"check_interval_seconds", c.CheckIntervalSeconds},
		{"cache_ttl_seconds", c.CacheTTLSeconds},
		{"page_timeout_ms", c.PageTimeoutMs},
		{"scan_timeout_seconds", c.ScanTimeoutSeconds},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}
	for name, value := range map[string]int{
		"loading_indicator_timeout_ms": c.LoadingIndicatorTimeoutMs,
		"dynamic_content_wait_ms":      c.DynamicContentWaitMs,
		"navigation_settle_ms":         c.NavigationSettleMs,
	} {
		if value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, value))
		}
	}

	if !slices.Contains([]string{"chrome", "http"}, c.Browser.Driver) {
		errs = append(errs, fmt.Errorf("browser.driver must be chrome or http, got %q", c.Browser.Driver))
	}
	if len(c.Email.Recipients) > 0 && (c.Email.Server == "" || c.Email.Address == "") {
		errs = append(errs, errors.New("email.server and email.address are required when email.recipients is set"))
	}
	return errors.Join(errs...)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func (c Config) Markers() keishicho.Markers {
	return keishicho.Markers{
		Resident:    c.RelevantApplicantMarker,
		NonResident: c.NonResidentApplicantMarker,
	}
}

func (c Config) Presenter() keishicho.Presenter {
	return keishicho.Presenter{
		TargetURL:  c.TargetURL,
		Facilities: c.TargetFacilities,
		Markers:    c.Markers(),
	}
}

// DefaultFilter is what /check shows without "all".
func (c Config) DefaultFilter() keishicho.Filter {
	if c.FilterRelevantDefault != nil && !*c.FilterRelevantDefault {
		return keishicho.FilterAll
	}
	return keishicho.FilterResident
}

func (c Config) PaginatorOptions() keishicho.PaginatorOptions {
	return keishicho.PaginatorOptions{
		MaxPeriods:              c.MaxPeriods,
		Targets:                 c.TargetFacilities,
		PageTimeout:             millis(c.PageTimeoutMs),
		LoadingIndicatorTimeout: millis(c.LoadingIndicatorTimeoutMs),
		DynamicContentWait:      millis(c.DynamicContentWaitMs),
		SettleDelay:             millis(c.NavigationSettleMs),
	}
}

func (c Config) Launcher() browser.Launcher {
	if c.Browser.Driver == "http" {
		return browser.NewHTTPLauncher(browser.HTTPOptions{
			UserAgent: c.Browser.UserAgent,
			Timeout:   millis(c.PageTimeoutMs),
			DumpDir:   c.Browser.DumpDir,
		})
	}
	if c.Browser.DumpDir != "" {
		slog.Warn("dump_dir is ignored by the chrome driver", "dir", c.Browser.DumpDir)
	}
	return browser.NewChromeLauncher(browser.ChromeOptions{
		ExecPath:  c.Browser.ExecPath,
		Headless:  c.Browser.Headless == nil || *c.Browser.Headless,
		UserAgent: c.Browser.UserAgent,
	})
}

func (c Config) Scanner(launcher browser.Launcher) *keishicho.Scanner {
	return keishicho.NewScanner(launcher, keishicho.ScannerOptions{
		TargetURL:   c.TargetURL,
		Paginator:   c.PaginatorOptions(),
		ScanTimeout: seconds(c.ScanTimeoutSeconds),
		Presenter:   c.Presenter(),
	})
}

func (c Config) EmailEnabled() bool {
	return len(c.Email.Recipients) > 0
}

func (c Config) Smtp() bot.SmtpConfig {
	return bot.SmtpConfig{
		Server:       c.Email.Server,
		Port:         c.Email.Port,
		EmailAddress: c.Email.Address,
		Password:     c.Email.Password,
		Recipients:   c.Email.Recipients,
	}
}
