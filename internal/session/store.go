package session

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/burrowai/burrow/internal/apierr"
	"github.com/burrowai/burrow/internal/storage"
)

// storageScope is the key prefix sessions live under in the backend.
const storageScope = "sessions"

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID rejects session ids that are empty or carry characters with
// path meaning. Ids come straight from clients and end up as storage keys,
// so anything outside the slug charset is refused.
func ValidateID(id string) error {
	if id == "" {
		return apierr.New(apierr.KindValidation, "session id is required")
	}
	if !idPattern.MatchString(id) {
		return apierr.New(apierr.KindValidation, "invalid session id %q", id)
	}
	return nil
}

// Store persists sessions in the shared keyed backend. Append is atomic per
// call: the whole session document is rewritten in one backend write, so a
// reader sees either all of an appended turn group or none of it. Callers
// that run the agent must hold the session's run slot (see Locker) so the
// store can assume a single writer per key.
type Store struct {
	backend *storage.Store
}

// NewStore creates a session store over the given backend.
func NewStore(backend *storage.Store) *Store {
	return &Store{backend: backend}
}

// Get retrieves a session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var sess Session
	if err := s.backend.Get(ctx, []string{storageScope, id}, &sess); err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, apierr.New(apierr.KindNotFound, "session %q not found", id)
		}
		return nil, err
	}
	return &sess, nil
}

// Append adds turns to a session, creating the session if absent. All turns
// land in a single backend write.
func (s *Store) Append(ctx context.Context, id string, turns ...Turn) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess, err := s.Get(ctx, id)
	if err != nil {
		if apierr.KindOf(err) != apierr.KindNotFound {
			return nil, err
		}
		sess = &Session{ID: id, Time: Time{Created: now}}
	}

	sess.Turns = append(sess.Turns, turns...)
	sess.Time.LastActive = now

	if err := s.backend.Put(ctx, []string{storageScope, id}, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Touch updates session metadata without appending turns, creating the
// session if absent.
func (s *Store) Touch(ctx context.Context, id, model, permissionMode string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess, err := s.Get(ctx, id)
	if err != nil {
		if apierr.KindOf(err) != apierr.KindNotFound {
			return nil, err
		}
		sess = &Session{ID: id, Time: Time{Created: now}}
	}

	if model != "" {
		sess.Model = model
	}
	if permissionMode != "" {
		sess.PermissionMode = permissionMode
	}
	sess.Time.LastActive = now

	if err := s.backend.Put(ctx, []string{storageScope, id}, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ClearTurns empties a session's transcript while keeping its metadata.
// Clearing an absent session is a no-op.
func (s *Store) ClearTurns(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil
		}
		return err
	}

	sess.Turns = nil
	sess.Time.LastActive = time.Now().UTC()
	return s.backend.Put(ctx, []string{storageScope, id}, sess)
}

// Delete removes a session. Missing sessions report NotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	err := s.backend.Delete(ctx, []string{storageScope, id})
	if err != nil && apierr.KindOf(err) == apierr.KindNotFound {
		return apierr.New(apierr.KindNotFound, "session %q not found", id)
	}
	return err
}

// Page is one page of session summaries.
type Page struct {
	Sessions   []Summary `json:"sessions"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// List returns a page of session summaries ordered by id. The cursor is the
// last id of the previous page; empty starts from the beginning.
func (s *Store) List(ctx context.Context, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := s.backend.List(ctx, []string{storageScope})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	start := 0
	if cursor != "" {
		start = sort.SearchStrings(ids, cursor)
		if start < len(ids) && ids[start] == cursor {
			start++
		}
	}

	page := &Page{Sessions: []Summary{}}
	for _, id := range ids[start:] {
		if len(page.Sessions) == limit {
			page.NextCursor = page.Sessions[limit-1].ID
			break
		}
		sess, err := s.Get(ctx, id)
		if err != nil {
			if apierr.KindOf(err) == apierr.KindNotFound {
				continue // deleted between List and Get
			}
			return nil, err
		}
		page.Sessions = append(page.Sessions, summarize(sess))
	}

	return page, nil
}

// History returns up to limit of the most recent turns for engine context.
func (s *Store) History(ctx context.Context, id string, limit int) ([]Turn, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}

	turns := sess.Turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}
