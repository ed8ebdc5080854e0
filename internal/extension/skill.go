package extension

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/burrowai/burrow/internal/apierr"
)

// ManifestName is the required manifest file inside every skill directory.
const ManifestName = "SKILL.md"

// SkillManifest is the parsed frontmatter of a SKILL.md.
type SkillManifest struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

// SkillInfo is a catalog entry for one installed skill.
type SkillInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	FileCount   int    `json:"file_count"`
}

// Skill is a fully loaded skill: manifest plus the relative paths of its
// supporting files.
type Skill struct {
	SkillInfo
	Manifest string   `json:"manifest"`
	Files    []string `json:"files"`
}

// ListSkills returns the installed skills sorted by id. The result is cached
// until a write or a watcher event invalidates it.
func (s *Store) ListSkills() ([]SkillInfo, error) {
	s.mu.Lock()
	if s.skills.valid {
		cached := s.skills.items
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	entries, err := os.ReadDir(s.skillsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SkillInfo{}, nil
		}
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "read skills dir")
	}

	infos := []SkillInfo{}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := s.loadSkillInfo(entry.Name())
		if err != nil {
			s.log.Warn().Err(err).Str("skill", entry.Name()).Msg("skipping unreadable skill")
			continue
		}
		infos = append(infos, *info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	s.mu.Lock()
	s.skills = cachedList[SkillInfo]{items: infos, valid: true}
	s.mu.Unlock()
	return infos, nil
}

// GetSkill loads one skill with its manifest and file listing.
func (s *Store) GetSkill(rawID string) (*Skill, error) {
	id, err := NormalizeID(rawID, "skill")
	if err != nil {
		return nil, err
	}

	info, err := s.loadSkillInfo(id)
	if err != nil {
		return nil, err
	}

	manifest, err := os.ReadFile(filepath.Join(s.skillsDir, id, ManifestName))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "read skill manifest")
	}

	files, err := s.skillFiles(id)
	if err != nil {
		return nil, err
	}

	return &Skill{SkillInfo: *info, Manifest: string(manifest), Files: files}, nil
}

// PutSkill installs or replaces a skill from in-memory file contents. The
// manifest entry is required. Files are staged in a hidden temp directory
// and swapped into place so an existing skill is never observed half
// replaced.
func (s *Store) PutSkill(rawID string, files map[string][]byte) (*SkillInfo, error) {
	id, err := NormalizeID(rawID, "skill")
	if err != nil {
		return nil, err
	}
	if _, ok := files[ManifestName]; !ok {
		return nil, apierr.New(apierr.KindValidation, "skill %q is missing %s", id, ManifestName)
	}

	staging, err := s.stageDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	for rel, content := range files {
		clean, err := safeRelPath(rel)
		if err != nil {
			return nil, err
		}
		target := filepath.Join(staging, clean)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "stage skill file")
		}
		if err := os.WriteFile(target, content, fileMode(clean)); err != nil {
			return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "stage skill file")
		}
	}

	if err := s.swapSkill(staging, id); err != nil {
		return nil, err
	}
	s.invalidateSkills()
	s.log.Info().Str("skill", id).Int("files", len(files)).Msg("skill installed")
	return s.loadSkillInfo(id)
}

// DeleteSkill removes an installed skill. Missing skills report NotFound.
func (s *Store) DeleteSkill(rawID string) error {
	id, err := NormalizeID(rawID, "skill")
	if err != nil {
		return err
	}

	dir := filepath.Join(s.skillsDir, id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return apierr.New(apierr.KindNotFound, "skill %q not found", id)
		}
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "stat skill")
	}
	if err := os.RemoveAll(dir); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "remove skill")
	}
	s.invalidateSkills()
	s.log.Info().Str("skill", id).Msg("skill removed")
	return nil
}

// SkillPath returns the absolute directory of an installed skill.
func (s *Store) SkillPath(rawID string) (string, error) {
	id, err := NormalizeID(rawID, "skill")
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.skillsDir, id)
	if _, err := os.Stat(filepath.Join(dir, ManifestName)); err != nil {
		return "", apierr.New(apierr.KindNotFound, "skill %q not found", id)
	}
	return dir, nil
}

func (s *Store) loadSkillInfo(id string) (*SkillInfo, error) {
	raw, err := os.ReadFile(filepath.Join(s.skillsDir, id, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.New(apierr.KindNotFound, "skill %q not found", id)
		}
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "read skill manifest")
	}

	var manifest SkillManifest
	fm, _ := splitFrontmatter(string(raw))
	decodeFrontmatter(fm, &manifest)
	if manifest.Name == "" {
		manifest.Name = id
	}

	files, err := s.skillFiles(id)
	if err != nil {
		return nil, err
	}

	return &SkillInfo{
		ID:          id,
		Name:        manifest.Name,
		Description: manifest.Description,
		FileCount:   len(files),
	}, nil
}

func (s *Store) skillFiles(id string) ([]string, error) {
	root := filepath.Join(s.skillsDir, id)
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "walk skill dir")
	}
	sort.Strings(files)
	return files, nil
}

// stageDir creates a hidden staging directory on the same filesystem as the
// skills root so the final rename is atomic.
func (s *Store) stageDir() (string, error) {
	if err := os.MkdirAll(s.skillsDir, 0o755); err != nil {
		return "", apierr.Wrap(apierr.KindBackendUnavailable, err, "create skills dir")
	}
	staging, err := os.MkdirTemp(s.skillsDir, ".staging-")
	if err != nil {
		return "", apierr.Wrap(apierr.KindBackendUnavailable, err, "create staging dir")
	}
	return staging, nil
}

// swapSkill moves a fully staged directory into place, replacing any
// existing skill with the same id.
func (s *Store) swapSkill(staging, id string) error {
	target := filepath.Join(s.skillsDir, id)
	trash := target + ".old"

	hadOld := false
	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, trash); err != nil {
			return apierr.Wrap(apierr.KindBackendUnavailable, err, "displace existing skill")
		}
		hadOld = true
	}
	if err := os.Rename(staging, target); err != nil {
		if hadOld {
			_ = os.Rename(trash, target)
		}
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "install skill")
	}
	if hadOld {
		_ = os.RemoveAll(trash)
	}
	return nil
}

// safeRelPath validates an archive- or caller-supplied relative path. It
// rejects absolute paths and any path escaping the extraction root.
func safeRelPath(rel string) (string, error) {
	rel = filepath.ToSlash(rel)
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, "\x00") {
		return "", apierr.New(apierr.KindValidation, "unsafe path %q in skill", rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", apierr.New(apierr.KindValidation, "unsafe path %q in skill", rel)
	}
	return clean, nil
}

// fileMode marks known script helpers executable so imported skills can run
// them without a manual chmod.
func fileMode(path string) os.FileMode {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sh", ".py", ".rb", ".pl":
		return 0o755
	}
	return 0o644
}
