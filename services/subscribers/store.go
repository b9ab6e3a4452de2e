// Package subscribers persists the chats that receive scheduled
// notifications. The file holds one subscriber per line as
// chat_id[|user[|subscription]].
package subscribers

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"samezu-bot/lib/scrapers/keishicho"
)

var ErrAlreadySubscribed = errors.New("already subscribed")

type Subscriber struct {
	ChatID int64
	// User is the tag used when notifying, "@name" or a display name.
	User   string
	Filter keishicho.Filter
}

// DefaultUser is the tag stored when a chat has no username or name.
func DefaultUser(chatID int64) string {
	return fmt.Sprintf("User%d", chatID)
}

// Tag is what notifications are prefixed with, empty for subscribers
// that only have the placeholder user.
func (s Subscriber) Tag() string {
	if s.User == "" || s.User == DefaultUser(s.ChatID) {
		return ""
	}
	return s.User
}

// userReplacer keeps a display name on its own line and field.
var userReplacer = strings.NewReplacer("|", "/", "\r", " ", "\n", " ")

func cleanUser(user string) string {
	return strings.TrimSpace(userReplacer.Replace(user))
}

func (s Subscriber) line() string {
	return fmt.Sprintf("%d|%s|%s", s.ChatID, cleanUser(s.User), s.Filter)
}

func parseLine(line string) (Subscriber, error) {
	parts := strings.SplitN(line, "|", 3)
	chatID, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return Subscriber{}, fmt.Errorf("invalid chat id %q: %w", parts[0], err)
	}
	sub := Subscriber{
		ChatID: chatID,
		Filter: keishicho.FilterResident,
	}
	if len(parts) > 1 {
		sub.User = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		if filter, ok := keishicho.ParseFilter(parts[2]); ok {
			sub.Filter = filter
		}
	}
	return sub, nil
}

type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) read() ([]Subscriber, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Subscriber
	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sub, err := parseLine(line)
		if err != nil {
			slog.Warn("skipping subscriber line", "path", s.path, "line", n, "err", err)
			continue
		}
		out = append(out, sub)
	}
	return out, scanner.Err()
}

func (s *Store) write(subs []Subscriber) error {
	var buf bytes.Buffer
	for _, sub := range subs {
		buf.WriteString(sub.line())
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *Store) List() ([]Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) Get(chatID int64) (Subscriber, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.read()
	if err != nil {
		return Subscriber{}, false, err
	}
	for _, sub := range subs {
		if sub.ChatID == chatID {
			return sub, true, nil
		}
	}
	return Subscriber{}, false, nil
}

// Add appends sub, returning ErrAlreadySubscribed if its chat is
// already present.
func (s *Store) Add(sub Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.read()
	if err != nil {
		return err
	}
	for _, existing := range subs {
		if existing.ChatID == sub.ChatID {
			return ErrAlreadySubscribed
		}
	}
	sub.User = cleanUser(sub.User)
	if sub.User == "" {
		sub.User = DefaultUser(sub.ChatID)
	}
	subs = append(subs, sub)
	if err := s.write(subs); err != nil {
		return err
	}
	slog.Info("added subscriber", "chat_id", sub.ChatID, "filter", sub.Filter)
	return nil
}

// Remove deletes every line for chatID and reports whether one existed.
func (s *Store) Remove(chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.read()
	if err != nil {
		return false, err
	}
	kept := subs[:0]
	for _, sub := range subs {
		if sub.ChatID != chatID {
			kept = append(kept, sub)
		}
	}
	if len(kept) == len(subs) {
		return false, nil
	}
	if err := s.write(kept); err != nil {
		return false, err
	}
	slog.Info("removed subscriber", "chat_id", chatID)
	return true, nil
}
