package extension

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowai/burrow/internal/apierr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return NewStore(filepath.Join(root, "skills"), filepath.Join(root, "commands"), ArchiveLimits{
		MaxFiles:      10,
		MaxFileBytes:  1024,
		MaxTotalBytes: 4096,
	})
}

const sampleManifest = `---
name: web-scraper
description: Fetches and summarizes web pages.
---

# Web Scraper

Use scrape.py to fetch a page.
`

func TestNormalizeID(t *testing.T) {
	id, err := NormalizeID("  My-Skill_2 ", "skill")
	require.NoError(t, err)
	assert.Equal(t, "my-skill_2", id)

	for _, bad := range []string{"", "   ", "a b", "a/b", "../etc", "sk!ll", "päck"} {
		_, err := NormalizeID(bad, "skill")
		assert.Equal(t, apierr.KindValidation, apierr.KindOf(err), "id %q", bad)
	}
}

func TestPutSkillAndGet(t *testing.T) {
	s := newTestStore(t)

	info, err := s.PutSkill("scraper", map[string][]byte{
		ManifestName:       []byte(sampleManifest),
		"scrape.py":        []byte("print('hi')"),
		"docs/usage.md":    []byte("docs"),
		"data/fixture.txt": []byte("x"),
	})
	require.NoError(t, err)
	assert.Equal(t, "scraper", info.ID)
	assert.Equal(t, "web-scraper", info.Name)
	assert.Equal(t, "Fetches and summarizes web pages.", info.Description)
	assert.Equal(t, 4, info.FileCount)

	skill, err := s.GetSkill("scraper")
	require.NoError(t, err)
	assert.Contains(t, skill.Manifest, "# Web Scraper")
	assert.Equal(t, []string{"SKILL.md", "data/fixture.txt", "docs/usage.md", "scrape.py"}, skill.Files)
}

func TestPutSkillMarksScriptsExecutable(t *testing.T) {
	s := newTestStore(t)

	_, err := s.PutSkill("exec", map[string][]byte{
		ManifestName: []byte(sampleManifest),
		"run.sh":     []byte("#!/bin/sh\n"),
		"notes.txt":  []byte("plain"),
	})
	require.NoError(t, err)

	dir, err := s.SkillPath("exec")
	require.NoError(t, err)

	script, err := os.Stat(filepath.Join(dir, "run.sh"))
	require.NoError(t, err)
	assert.NotZero(t, script.Mode()&0o111)

	plain, err := os.Stat(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Zero(t, plain.Mode()&0o111)
}

func TestPutSkillRequiresManifest(t *testing.T) {
	s := newTestStore(t)

	_, err := s.PutSkill("bare", map[string][]byte{"readme.md": []byte("no manifest")})
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestPutSkillRejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	for _, bad := range []string{"../escape.txt", "../../etc/passwd", "/abs/path", "a/../../b"} {
		_, err := s.PutSkill("evil", map[string][]byte{
			ManifestName: []byte(sampleManifest),
			bad:          []byte("boom"),
		})
		assert.Equal(t, apierr.KindValidation, apierr.KindOf(err), "path %q", bad)
	}

	// Nothing may be left behind from the rejected installs.
	_, err := s.GetSkill("evil")
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}

func TestPutSkillReplacesWholesale(t *testing.T) {
	s := newTestStore(t)

	_, err := s.PutSkill("swap", map[string][]byte{
		ManifestName: []byte(sampleManifest),
		"old.txt":    []byte("old"),
	})
	require.NoError(t, err)

	info, err := s.PutSkill("swap", map[string][]byte{
		ManifestName: []byte(sampleManifest),
		"new.txt":    []byte("new"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, info.FileCount)

	skill, err := s.GetSkill("swap")
	require.NoError(t, err)
	assert.NotContains(t, skill.Files, "old.txt")
	assert.Contains(t, skill.Files, "new.txt")
}

func TestListSkillsSortedAndCached(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		_, err := s.PutSkill(id, map[string][]byte{ManifestName: []byte(sampleManifest)})
		require.NoError(t, err)
	}

	infos, err := s.ListSkills()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha", infos[0].ID)
	assert.Equal(t, "zeta", infos[2].ID)

	// Deleting invalidates the cache.
	require.NoError(t, s.DeleteSkill("mid"))
	infos, err = s.ListSkills()
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestListSkillsEmptyDir(t *testing.T) {
	s := newTestStore(t)

	infos, err := s.ListSkills()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestDeleteSkillNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.DeleteSkill("ghost")
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}

func TestSkillManifestWithoutFrontmatter(t *testing.T) {
	s := newTestStore(t)

	_, err := s.PutSkill("plain", map[string][]byte{
		ManifestName: []byte("# Just Markdown\n\nNo frontmatter here.\n"),
	})
	require.NoError(t, err)

	info, err := s.GetSkill("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", info.Name) // falls back to the id
	assert.Empty(t, info.Description)
}
