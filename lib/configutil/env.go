package configutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Env applies environment variable overrides onto an already loaded
// config. The first malformed value is kept in Err, later calls become
// no-ops so callers can chain overrides and check once.
type Env struct {
	Lookup func(key string) (string, bool)
	Err    error
}

func NewEnv() *Env {
	return &Env{Lookup: os.LookupEnv}
}

func (e *Env) get(key string) (string, bool) {
	if e.Err != nil {
		return "", false
	}
	value, ok := e.Lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (e *Env) fail(key, value string, err error) {
	e.Err = fmt.Errorf("environment variable %s=%q: %w", key, value, err)
}

func (e *Env) String(key string, dst *string) {
	if value, ok := e.get(key); ok {
		*dst = value
	}
}

func (e *Env) Int(key string, dst *int) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.fail(key, value, err)
		return
	}
	*dst = parsed
}

func (e *Env) Bool(key string, dst **bool) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.fail(key, value, err)
		return
	}
	*dst = &parsed
}

func (e *Env) List(key string, dst *[]string) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
