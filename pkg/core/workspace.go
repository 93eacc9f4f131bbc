package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SharedWorkspaceName is the directory name of the shared workspace.
const SharedWorkspaceName = "shared"

// systemRoots may never hold a workspace.
var systemRoots = []string{"/bin", "/sbin", "/usr", "/lib", "/etc", "/sys", "/proc", "/dev"}

// Layout is the on-disk layout of a workspace.
type Layout struct {
	// Root is the absolute workspace directory.
	Root string

	// VectorDir holds the embedded vector index.
	VectorDir string

	// VectorDBPath is the SQLite vector index file, used by the sqlite backend.
	VectorDBPath string

	// FTSPath is the keyword index and content-hash ledger database.
	FTSPath string

	// LockPath is the workspace lock file.
	LockPath string
}

// NewLayout returns the layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{
		Root:         root,
		VectorDir:    filepath.Join(root, "vector_db"),
		VectorDBPath: filepath.Join(root, "vector.db"),
		FTSPath:      filepath.Join(root, "memory.db"),
		LockPath:     filepath.Join(root, ".memory.lock"),
	}
}

// Name returns the workspace directory name.
func (l Layout) Name() string {
	return filepath.Base(l.Root)
}

// ResolveWorkspace picks, validates and creates the workspace directory.
//
// Resolution order:
//  1. explicit, if not empty
//  2. ~/.openclaw/workspaces/shared, if shared
//  3. $OPENCLAW_WORKSPACE
//  4. the workspace containing the current directory, if under ~/.openclaw/workspaces
//  5. ~/.openclaw/workspace
//
// Returns the absolute path, or ErrInvalidConfig for a path inside a system directory.
func ResolveWorkspace(explicit string, shared bool) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil && (explicit == "" || strings.HasPrefix(explicit, "~")) {
		return "", NewMemoryError("ResolveWorkspace", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	base := filepath.Join(home, ".openclaw")

	var path string
	switch {
	case explicit != "":
		path = expandHome(explicit, home)
	case shared:
		path = filepath.Join(base, "workspaces", SharedWorkspaceName)
	case os.Getenv("OPENCLAW_WORKSPACE") != "":
		path = expandHome(os.Getenv("OPENCLAW_WORKSPACE"), home)
	default:
		path = detectFromCwd(base)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", NewMemoryError("ResolveWorkspace", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	if err := validateWorkspace(abs); err != nil {
		return "", NewMemoryError("ResolveWorkspace", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return "", NewMemoryError("ResolveWorkspace", err)
	}
	return abs, nil
}

func detectFromCwd(base string) string {
	workspaces := filepath.Join(base, "workspaces")
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(workspaces, cwd); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			name := strings.Split(rel, string(filepath.Separator))[0]
			return filepath.Join(workspaces, name)
		}
	}
	return filepath.Join(base, "workspace")
}

func validateWorkspace(abs string) error {
	resolved := abs
	if r, err := filepath.EvalSymlinks(abs); err == nil {
		resolved = r
	}
	for _, root := range systemRoots {
		for _, p := range []string{abs, resolved} {
			if p == root || strings.HasPrefix(p, root+string(filepath.Separator)) {
				return fmt.Errorf("%w: workspace cannot be in system directory %s", ErrInvalidConfig, root)
			}
		}
	}
	if abs == string(filepath.Separator) {
		return fmt.Errorf("%w: workspace cannot be the filesystem root", ErrInvalidConfig)
	}
	return nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// DetectAgentID identifies the agent writing to workspace.
//
// It uses $OPENCLAW_AGENT_ID, then $OPENCLAW_AGENT_NAME, then the workspace directory
// name unless it is "workspace" or "default", and finally <hostname>-<pid>.
func DetectAgentID(workspace string) string {
	if id := os.Getenv("OPENCLAW_AGENT_ID"); id != "" {
		return id
	}
	if name := os.Getenv("OPENCLAW_AGENT_NAME"); name != "" {
		return name
	}
	if name := filepath.Base(workspace); name != "" && name != "." && name != string(filepath.Separator) &&
		name != "workspace" && name != "default" {
		return name
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fmt.Sprintf("agent-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
