package whatsapp

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAllowlist(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestAllowlistLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.txt")
	writeAllowlist(t, path, `
# shop staff
whatsapp:+639171234567
+639998887766

`)

	al, err := NewAllowlist(path, zerolog.Nop())
	require.NoError(t, err)
	defer al.Close()

	assert.Equal(t, 2, al.Size())
	assert.True(t, al.Allowed("whatsapp:+639171234567"))
	assert.True(t, al.Allowed("+639171234567"))
	assert.True(t, al.Allowed("whatsapp:+639998887766"))
	assert.False(t, al.Allowed("whatsapp:+15550001111"))
}

func TestAllowlistMissingFile(t *testing.T) {
	_, err := NewAllowlist(filepath.Join(t.TempDir(), "nope.txt"), zerolog.Nop())
	require.Error(t, err)
}

func TestAllowlistEmptyPathAllowsAll(t *testing.T) {
	al, err := NewAllowlist("", zerolog.Nop())
	require.NoError(t, err)
	defer al.Close()

	assert.True(t, al.Allowed("whatsapp:+15550001111"))
}

func TestAllowlistHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.txt")
	writeAllowlist(t, path, "whatsapp:+639171234567\n")

	al, err := NewAllowlist(path, zerolog.Nop())
	require.NoError(t, err)
	defer al.Close()

	require.False(t, al.Allowed("whatsapp:+639998887766"))

	writeAllowlist(t, path, "whatsapp:+639171234567\nwhatsapp:+639998887766\n")

	require.Eventually(t, func() bool {
		return al.Allowed("whatsapp:+639998887766")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNormalizeSender(t *testing.T) {
	assert.Equal(t, "+639171234567", normalizeSender(" whatsapp:+639171234567 "))
	assert.Equal(t, "+639171234567", normalizeSender("+639171234567"))
}
