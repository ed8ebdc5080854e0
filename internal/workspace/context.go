package workspace

import (
	"os"

	"github.com/burrowai/burrow/internal/apierr"
)

// defaultProjectContext seeds a fresh project-context file so operators
// have an obvious place to describe the deployment to the agent.
const defaultProjectContext = `# Project Context

Describe this deployment for the agent here. The contents of this file are
prepended to every engine invocation as system context.
`

// EnsureProjectContext creates the project-context file with a starter
// template if it does not exist. Existing files are never touched.
func EnsureProjectContext(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "stat project context")
	}
	if err := os.WriteFile(path, []byte(defaultProjectContext), 0o644); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "seed project context")
	}
	return nil
}

// LoadProjectContext reads the project-context file, clipped to maxChars.
// A missing file yields an empty context, not an error.
func LoadProjectContext(path string, maxChars int) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", apierr.Wrap(apierr.KindBackendUnavailable, err, "read project context")
	}
	text := string(data)
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return text, nil
}
