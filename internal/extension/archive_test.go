package extension

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowai/burrow/internal/apierr"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestImportArchiveNestedDir(t *testing.T) {
	s := newTestStore(t)

	data := buildZip(t, map[string]string{
		"scraper/SKILL.md":  sampleManifest,
		"scraper/scrape.py": "print('hi')",
		"scraper/run.sh":    "#!/bin/sh\n",
	})

	res, err := s.ImportArchive(data, "")
	require.NoError(t, err)
	assert.Equal(t, "scraper", res.ID)
	assert.Equal(t, 3, res.FileCount)
	assert.ElementsMatch(t, []string{"scrape.py", "run.sh"}, res.Executables)
	assert.False(t, res.Replaced)

	skill, err := s.GetSkill("scraper")
	require.NoError(t, err)
	assert.Contains(t, skill.Files, "SKILL.md")
	assert.Contains(t, skill.Files, "scrape.py")
}

func TestImportArchiveRootManifest(t *testing.T) {
	s := newTestStore(t)

	data := buildZip(t, map[string]string{
		ManifestName: sampleManifest,
		"helper.txt": "x",
	})

	// Root-level manifest has no directory to name the skill; the
	// frontmatter name is used instead.
	res, err := s.ImportArchive(data, "")
	require.NoError(t, err)
	assert.Equal(t, "web-scraper", res.ID)
}

func TestImportArchiveOverrideID(t *testing.T) {
	s := newTestStore(t)

	data := buildZip(t, map[string]string{"pack/SKILL.md": sampleManifest})

	res, err := s.ImportArchive(data, "Custom-Name")
	require.NoError(t, err)
	assert.Equal(t, "custom-name", res.ID)
}

func TestImportArchiveRejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	for _, bad := range []string{"../../etc/passwd", "/etc/passwd", "pack/../../escape"} {
		data := buildZip(t, map[string]string{
			"pack/SKILL.md": sampleManifest,
			bad:             "boom",
		})
		_, err := s.ImportArchive(data, "")
		assert.Equal(t, apierr.KindValidation, apierr.KindOf(err), "entry %q", bad)
	}

	infos, err := s.ListSkills()
	require.NoError(t, err)
	assert.Empty(t, infos, "rejected archives must install nothing")
}

func TestImportArchiveMissingManifest(t *testing.T) {
	s := newTestStore(t)

	data := buildZip(t, map[string]string{"pack/readme.md": "no manifest"})
	_, err := s.ImportArchive(data, "")
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestImportArchiveFileCountLimit(t *testing.T) {
	s := newTestStore(t)

	files := map[string]string{"pack/SKILL.md": sampleManifest}
	for i := 0; i < 15; i++ {
		files["pack/f"+string(rune('a'+i))+".txt"] = "x"
	}
	_, err := s.ImportArchive(buildZip(t, files), "")
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestImportArchivePerFileLimit(t *testing.T) {
	s := newTestStore(t)

	big := make([]byte, 2048) // limit in newTestStore is 1024
	data := buildZip(t, map[string]string{
		"pack/SKILL.md": sampleManifest,
		"pack/big.bin":  string(big),
	})
	_, err := s.ImportArchive(data, "")
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestImportArchiveNotAZip(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ImportArchive([]byte("definitely not a zip"), "")
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestImportArchiveReplacesExisting(t *testing.T) {
	s := newTestStore(t)

	_, err := s.PutSkill("scraper", map[string][]byte{
		ManifestName: []byte(sampleManifest),
		"stale.txt":  []byte("stale"),
	})
	require.NoError(t, err)

	res, err := s.ImportArchive(buildZip(t, map[string]string{
		"scraper/SKILL.md": sampleManifest,
		"scraper/new.txt":  "new",
	}), "")
	require.NoError(t, err)
	assert.True(t, res.Replaced)

	skill, err := s.GetSkill("scraper")
	require.NoError(t, err)
	assert.NotContains(t, skill.Files, "stale.txt")
	assert.Contains(t, skill.Files, "new.txt")
}

func TestExportArchiveRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, err := s.PutSkill("scraper", map[string][]byte{
		ManifestName: []byte(sampleManifest),
		"scrape.py":  []byte("print('hi')"),
	})
	require.NoError(t, err)

	data, err := s.ExportArchive("scraper")
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"scraper/SKILL.md", "scraper/scrape.py"}, names)

	// An exported archive imports back cleanly.
	res, err := s.ImportArchive(data, "")
	require.NoError(t, err)
	assert.Equal(t, "scraper", res.ID)
	assert.True(t, res.Replaced)
}

func TestExportArchiveNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ExportArchive("ghost")
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}
