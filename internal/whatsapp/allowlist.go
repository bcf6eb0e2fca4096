package whatsapp

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Allowlist restricts which WhatsApp senders the bot answers. The backing
// file holds one number per line, in the same form Twilio sends them
// ("whatsapp:+639171234567"); blank lines and # comments are skipped. The
// file is re-read on change so staff can be added without a restart.
type Allowlist struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]struct{}

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewAllowlist loads the file at path and starts watching it for changes.
// An empty path disables filtering: every sender is allowed.
func NewAllowlist(path string, logger zerolog.Logger) (*Allowlist, error) {
	al := &Allowlist{
		path:   path,
		logger: logger.With().Str("component", "allowlist").Logger(),
		done:   make(chan struct{}),
	}
	if path == "" {
		al.logger.Warn().Msg("no allowlist configured, all senders accepted")
		return al, nil
	}

	if err := al.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create allowlist watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save and
	// the watch on the old inode would be lost.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch allowlist directory: %w", err)
	}
	al.watcher = watcher
	go al.watch()

	return al, nil
}

// Allowed reports whether sender may talk to the bot.
func (al *Allowlist) Allowed(sender string) bool {
	if al.path == "" {
		return true
	}
	al.mu.RLock()
	defer al.mu.RUnlock()
	_, ok := al.entries[normalizeSender(sender)]
	return ok
}

// Size returns the number of allowlisted senders.
func (al *Allowlist) Size() int {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return len(al.entries)
}

// Close stops the file watcher.
func (al *Allowlist) Close() error {
	close(al.done)
	if al.watcher != nil {
		return al.watcher.Close()
	}
	return nil
}

func (al *Allowlist) reload() error {
	f, err := os.Open(al.path)
	if err != nil {
		return fmt.Errorf("failed to open allowlist: %w", err)
	}
	defer f.Close()

	entries := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries[normalizeSender(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read allowlist: %w", err)
	}

	al.mu.Lock()
	al.entries = entries
	al.mu.Unlock()

	al.logger.Info().Int("entries", len(entries)).Msg("allowlist loaded")
	return nil
}

func (al *Allowlist) watch() {
	for {
		select {
		case event, ok := <-al.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(al.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := al.reload(); err != nil {
				// Keep the previous entries on a bad reload.
				al.logger.Error().Err(err).Msg("allowlist reload failed")
			}
		case err, ok := <-al.watcher.Errors:
			if !ok {
				return
			}
			al.logger.Error().Err(err).Msg("allowlist watcher error")
		case <-al.done:
			return
		}
	}
}

// normalizeSender makes "whatsapp:+63917..." and "+63917..." compare equal.
func normalizeSender(sender string) string {
	return strings.TrimPrefix(strings.TrimSpace(sender), "whatsapp:")
}
