package extension

import (
	"archive/zip"
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/burrowai/burrow/internal/apierr"
)

// ImportResult describes a completed archive import.
type ImportResult struct {
	ID          string   `json:"id"`
	FileCount   int      `json:"file_count"`
	Executables []string `json:"executables,omitempty"`
	Replaced    bool     `json:"replaced"`
}

// ImportArchive installs a skill from a zip archive. The archive must carry
// a SKILL.md either at its root or inside a single top-level directory.
// Entry paths are validated against traversal before anything touches disk,
// and the archive is rejected wholesale if any entry is unsafe or a limit is
// exceeded. overrideID, when non-empty, wins over the id derived from the
// archive.
func (s *Store) ImportArchive(data []byte, overrideID string) (*ImportResult, error) {
	if int64(len(data)) > s.limits.MaxTotalBytes {
		return nil, apierr.New(apierr.KindValidation,
			"archive exceeds %d byte limit", s.limits.MaxTotalBytes)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err, "not a valid zip archive")
	}

	entries, prefix, err := s.validateArchive(reader)
	if err != nil {
		return nil, err
	}

	id, err := s.deriveID(entries, overrideID)
	if err != nil {
		return nil, err
	}

	staging, err := s.stageDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	var executables []string
	for _, entry := range entries {
		rel := strings.TrimPrefix(entry.Name, prefix)
		clean, err := safeRelPath(rel)
		if err != nil {
			return nil, err
		}

		target := filepath.Join(staging, clean)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "extract archive")
		}

		mode := fileMode(clean)
		if mode == 0o755 {
			executables = append(executables, filepath.ToSlash(clean))
		}
		if err := extractEntry(entry, target, mode, s.limits.MaxFileBytes); err != nil {
			return nil, err
		}
	}

	_, replaceErr := os.Stat(filepath.Join(s.skillsDir, id))
	replaced := replaceErr == nil

	if err := s.swapSkill(staging, id); err != nil {
		return nil, err
	}
	s.invalidateSkills()
	s.log.Info().Str("skill", id).Int("files", len(entries)).Bool("replaced", replaced).
		Msg("skill imported from archive")

	return &ImportResult{
		ID:          id,
		FileCount:   len(entries),
		Executables: executables,
		Replaced:    replaced,
	}, nil
}

// ExportArchive packs an installed skill into a zip archive whose entries
// are prefixed with the skill id.
func (s *Store) ExportArchive(rawID string) ([]byte, error) {
	id, err := NormalizeID(rawID, "skill")
	if err != nil {
		return nil, err
	}
	root, err := s.SkillPath(id)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(id + "/" + filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "export skill %q", id)
	}
	if err := zw.Close(); err != nil {
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "export skill %q", id)
	}
	return buf.Bytes(), nil
}

// validateArchive checks every entry against the path and size limits and
// locates the directory prefix holding SKILL.md. It returns the file entries
// (directories dropped) with the manifest guaranteed present.
func (s *Store) validateArchive(reader *zip.Reader) (entries []*zip.File, prefix string, err error) {
	var total int64
	manifestPrefix := ""
	foundManifest := false

	for _, f := range reader.File {
		name := filepath.ToSlash(f.Name)
		if strings.HasSuffix(name, "/") || f.FileInfo().IsDir() {
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			return nil, "", apierr.New(apierr.KindValidation, "archive entry %q is a symlink", name)
		}
		if _, err := safeRelPath(name); err != nil {
			return nil, "", err
		}
		if int64(f.UncompressedSize64) > s.limits.MaxFileBytes {
			return nil, "", apierr.New(apierr.KindValidation,
				"archive entry %q exceeds %d byte limit", name, s.limits.MaxFileBytes)
		}
		total += int64(f.UncompressedSize64)
		if total > s.limits.MaxTotalBytes {
			return nil, "", apierr.New(apierr.KindValidation,
				"archive exceeds %d byte limit", s.limits.MaxTotalBytes)
		}

		if base := filepath.Base(name); base == ManifestName {
			dir := strings.TrimSuffix(name, ManifestName)
			if !foundManifest || len(dir) < len(manifestPrefix) {
				manifestPrefix = dir
				foundManifest = true
			}
		}
		entries = append(entries, f)
	}

	if len(entries) > s.limits.MaxFiles {
		return nil, "", apierr.New(apierr.KindValidation,
			"archive exceeds %d file limit", s.limits.MaxFiles)
	}
	if !foundManifest {
		return nil, "", apierr.New(apierr.KindValidation, "archive is missing %s", ManifestName)
	}
	if strings.Count(manifestPrefix, "/") > 1 {
		return nil, "", apierr.New(apierr.KindValidation,
			"%s must sit at the archive root or one directory deep", ManifestName)
	}

	// Keep only entries under the manifest's directory.
	kept := entries[:0]
	for _, f := range entries {
		if strings.HasPrefix(filepath.ToSlash(f.Name), manifestPrefix) {
			kept = append(kept, f)
		}
	}
	return kept, manifestPrefix, nil
}

// deriveID resolves the skill id for an import: explicit override, then the
// manifest's name field, then the manifest's directory name.
func (s *Store) deriveID(entries []*zip.File, overrideID string) (string, error) {
	if overrideID != "" {
		return NormalizeID(overrideID, "skill")
	}

	for _, f := range entries {
		name := filepath.ToSlash(f.Name)
		if filepath.Base(name) != ManifestName {
			continue
		}

		if dir := filepath.Base(filepath.Dir(name)); dir != "." && dir != "/" {
			if id := sanitizeID(dir); identifierRe.MatchString(id) {
				return id, nil
			}
		}

		rc, err := f.Open()
		if err != nil {
			return "", apierr.Wrap(apierr.KindValidation, err, "read archive manifest")
		}
		raw, err := io.ReadAll(io.LimitReader(rc, s.limits.MaxFileBytes))
		rc.Close()
		if err != nil {
			return "", apierr.Wrap(apierr.KindValidation, err, "read archive manifest")
		}

		var manifest SkillManifest
		fm, _ := splitFrontmatter(string(raw))
		decodeFrontmatter(fm, &manifest)
		if id := sanitizeID(manifest.Name); identifierRe.MatchString(id) {
			return id, nil
		}
		break
	}

	return "", apierr.New(apierr.KindValidation,
		"cannot derive a skill id from the archive; supply one explicitly")
}

func extractEntry(entry *zip.File, target string, mode os.FileMode, maxBytes int64) error {
	rc, err := entry.Open()
	if err != nil {
		return apierr.Wrap(apierr.KindValidation, err, "open archive entry %q", entry.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "extract archive entry %q", entry.Name)
	}
	defer out.Close()

	// Declared sizes were already checked; the limit guards lying headers.
	n, err := io.Copy(out, io.LimitReader(rc, maxBytes+1))
	if err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "extract archive entry %q", entry.Name)
	}
	if n > maxBytes {
		return apierr.New(apierr.KindValidation,
			"archive entry %q exceeds %d byte limit", entry.Name, maxBytes)
	}
	return nil
}
