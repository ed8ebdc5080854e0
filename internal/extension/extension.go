// Package extension manages the filesystem catalog of skills and commands.
//
// Skills are capability bundles: one directory per identifier holding a
// SKILL.md manifest plus supporting files. Commands are prompt templates:
// one markdown file per identifier. Both live under configurable roots on
// the persistent volume and are only ever mutated through this package,
// which stages writes in a temporary location and swaps them into place so
// readers never observe a half-written entry.
package extension

import (
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/burrowai/burrow/internal/apierr"
	"github.com/burrowai/burrow/internal/logging"
)

// identifierRe is the shape of a valid skill or command identifier.
var identifierRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ArchiveLimits bounds skill archive imports.
type ArchiveLimits struct {
	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64
}

// DefaultArchiveLimits returns the default import ceilings.
func DefaultArchiveLimits() ArchiveLimits {
	return ArchiveLimits{
		MaxFiles:      200,
		MaxFileBytes:  10 * 1024 * 1024,
		MaxTotalBytes: 50 * 1024 * 1024,
	}
}

// Store is the filesystem-backed catalog of skills and commands.
type Store struct {
	skillsDir   string
	commandsDir string
	limits      ArchiveLimits
	log         zerolog.Logger

	mu       sync.Mutex
	skills   cachedList[SkillInfo]
	commands cachedList[CommandInfo]
}

type cachedList[T any] struct {
	items []T
	valid bool
}

// NewStore creates a Store over the given roots.
func NewStore(skillsDir, commandsDir string, limits ArchiveLimits) *Store {
	if limits.MaxFiles == 0 {
		limits = DefaultArchiveLimits()
	}
	return &Store{
		skillsDir:   skillsDir,
		commandsDir: commandsDir,
		limits:      limits,
		log:         logging.Component("extension"),
	}
}

// NormalizeID validates and canonicalizes a caller-supplied identifier.
func NormalizeID(raw, kind string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "" || !identifierRe.MatchString(id) {
		return "", apierr.New(apierr.KindValidation, "invalid %s id %q", kind, raw)
	}
	return id, nil
}

// sanitizeID strips an arbitrary string down to identifier characters, for
// ids derived from archive content rather than supplied by the caller.
func sanitizeID(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	return b.String()
}

// invalidateSkills drops the cached skill catalog.
func (s *Store) invalidateSkills() {
	s.mu.Lock()
	s.skills.valid = false
	s.mu.Unlock()
}

// invalidateCommands drops the cached command catalog.
func (s *Store) invalidateCommands() {
	s.mu.Lock()
	s.commands.valid = false
	s.mu.Unlock()
}
