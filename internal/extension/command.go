package extension

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/burrowai/burrow/internal/apierr"
)

// CommandMeta is the parsed frontmatter of a command template.
type CommandMeta struct {
	Description  string       `yaml:"description"`
	ArgumentHint string       `yaml:"argument-hint"`
	AllowedTools stringOrList `yaml:"allowed-tools"`
	Model        string       `yaml:"model"`
}

// CommandInfo is a catalog entry for one saved command.
type CommandInfo struct {
	ID           string `json:"id"`
	Description  string `json:"description,omitempty"`
	ArgumentHint string `json:"argument_hint,omitempty"`
	Model        string `json:"model,omitempty"`
}

// Command is a fully loaded command template.
type Command struct {
	ID   string      `json:"id"`
	Meta CommandMeta `json:"meta"`
	Body string      `json:"body"`
	Raw  string      `json:"raw"`
}

// ListCommands returns the saved commands sorted by id. The result is cached
// until a write or a watcher event invalidates it.
func (s *Store) ListCommands() ([]CommandInfo, error) {
	s.mu.Lock()
	if s.commands.valid {
		cached := s.commands.items
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	entries, err := os.ReadDir(s.commandsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []CommandInfo{}, nil
		}
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "read commands dir")
	}

	infos := []CommandInfo{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, ".md")
		cmd, err := s.GetCommand(id)
		if err != nil {
			s.log.Warn().Err(err).Str("command", id).Msg("skipping unreadable command")
			continue
		}
		infos = append(infos, CommandInfo{
			ID:           cmd.ID,
			Description:  cmd.Meta.Description,
			ArgumentHint: cmd.Meta.ArgumentHint,
			Model:        cmd.Meta.Model,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	s.mu.Lock()
	s.commands = cachedList[CommandInfo]{items: infos, valid: true}
	s.mu.Unlock()
	return infos, nil
}

// GetCommand loads one command template with its parsed frontmatter.
func (s *Store) GetCommand(rawID string) (*Command, error) {
	id, err := NormalizeID(rawID, "command")
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(filepath.Join(s.commandsDir, id+".md"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.New(apierr.KindNotFound, "command %q not found", id)
		}
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "read command")
	}

	var meta CommandMeta
	fm, body := splitFrontmatter(string(raw))
	decodeFrontmatter(fm, &meta)

	return &Command{ID: id, Meta: meta, Body: body, Raw: string(raw)}, nil
}

// PutCommand saves a command template, replacing any existing one with the
// same id. It reports whether the command was newly created.
func (s *Store) PutCommand(rawID, template string) (created bool, err error) {
	id, err := NormalizeID(rawID, "command")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(template) == "" {
		return false, apierr.New(apierr.KindValidation, "command %q has an empty template", id)
	}

	if err := os.MkdirAll(s.commandsDir, 0o755); err != nil {
		return false, apierr.Wrap(apierr.KindBackendUnavailable, err, "create commands dir")
	}

	target := filepath.Join(s.commandsDir, id+".md")
	_, statErr := os.Stat(target)
	created = os.IsNotExist(statErr)

	tmp, err := os.CreateTemp(s.commandsDir, ".cmd-*")
	if err != nil {
		return false, apierr.Wrap(apierr.KindBackendUnavailable, err, "stage command")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(template); err != nil {
		tmp.Close()
		return false, apierr.Wrap(apierr.KindBackendUnavailable, err, "stage command")
	}
	if err := tmp.Close(); err != nil {
		return false, apierr.Wrap(apierr.KindBackendUnavailable, err, "stage command")
	}
	if err := os.Rename(tmpName, target); err != nil {
		return false, apierr.Wrap(apierr.KindBackendUnavailable, err, "save command")
	}

	s.invalidateCommands()
	s.log.Info().Str("command", id).Bool("created", created).Msg("command saved")
	return created, nil
}

// DeleteCommand removes a saved command. Missing commands report NotFound.
func (s *Store) DeleteCommand(rawID string) error {
	id, err := NormalizeID(rawID, "command")
	if err != nil {
		return err
	}

	err = os.Remove(filepath.Join(s.commandsDir, id+".md"))
	if err != nil {
		if os.IsNotExist(err) {
			return apierr.New(apierr.KindNotFound, "command %q not found", id)
		}
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "remove command")
	}
	s.invalidateCommands()
	s.log.Info().Str("command", id).Msg("command removed")
	return nil
}
