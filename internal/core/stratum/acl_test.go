package stratum

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeKeysFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestACLDisabled(t *testing.T) {
	acl := NewAccessControl("", zap.NewNop())
	require.True(t, acl.Check("anything"))
	require.True(t, acl.Check(""))
}

func TestACLLoadsKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys")
	writeKeysFile(t, path, "  0123456789  \nshort\n\nminerkey1\n", time.Now())

	acl := NewAccessControl(path, zap.NewNop())
	require.True(t, acl.Check("0123456789"), "keys are trimmed")
	require.True(t, acl.Check("minerkey1"))
	require.False(t, acl.Check("short"), "keys under 8 chars are ignored")
	require.False(t, acl.Check("unknown-key"))
}

func TestACLRefreshOnModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys")
	base := time.Now().Add(-time.Minute)
	writeKeysFile(t, path, "firstkey1\n", base)

	acl := NewAccessControl(path, zap.NewNop())
	require.True(t, acl.Check("firstkey1"))

	// same mtime: refresh is a no-op
	writeKeysFile(t, path, "secondkey2\n", base)
	acl.Refresh()
	require.True(t, acl.Check("firstkey1"))
	require.False(t, acl.Check("secondkey2"))

	// newer mtime: file is reread and the set swapped
	writeKeysFile(t, path, "secondkey2\n", base.Add(time.Second))
	acl.Refresh()
	require.False(t, acl.Check("firstkey1"))
	require.True(t, acl.Check("secondkey2"))
}

func TestACLMissingFile(t *testing.T) {
	acl := NewAccessControl(filepath.Join(t.TempDir(), "nope"), zap.NewNop())
	require.False(t, acl.Check("whatever1"))
}
