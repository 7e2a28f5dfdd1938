package codeindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const goSource = `// Package auth handles request authentication.
package auth

import (
	"net/http"
	"strings"
)

type Middleware struct{}

func RequireAuth(next http.Handler) http.Handler { return next }

func internalHelper() {}
`

const pySource = `"""payment processing"""
import decimal
from collections import defaultdict

class PaymentProcessor:
    def charge(self, amount):
        pass

def refund(order_id):
    pass
`

func TestExtract_IndexesCodeFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "internal/auth/auth.go", goSource)
	writeFile(t, dir, "billing/pay.py", pySource)
	writeFile(t, dir, "README.md", "# readme")

	idx, err := Extract(dir, nil)
	require.NoError(t, err)
	require.Len(t, idx.Files, 2)

	assert.Equal(t, []string{"billing/pay.py", "internal/auth/auth.go"}, idx.Paths())

	goSum, ok := idx.Summary("internal/auth/auth.go")
	require.True(t, ok)
	assert.Equal(t, "go", goSum.Language)
	assert.Contains(t, goSum.Symbols, "RequireAuth")
	assert.Contains(t, goSum.Symbols, "Middleware")
	assert.NotContains(t, goSum.Symbols, "internalHelper", "unexported symbols are not public interface")
	assert.Contains(t, goSum.Imports, "net/http")
	assert.Contains(t, goSum.Doc, "authentication")
	assert.NotEmpty(t, goSum.Digest)

	pySum, ok := idx.Summary("billing/pay.py")
	require.True(t, ok)
	assert.Contains(t, pySum.Symbols, "PaymentProcessor")
	assert.Contains(t, pySum.Symbols, "charge")
	assert.Contains(t, pySum.Imports, "decimal")
}

func TestExtract_SkipsVendorAndBinary(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")
	writeFile(t, dir, "vendor/dep/dep.go", "package dep\n")
	writeFile(t, dir, "node_modules/x/index.js", "module.exports = 1\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.go"), []byte{0xff, 0xfe, 0x00, 0x01}, 0o644))

	idx, err := Extract(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, idx.Paths())
}

func TestExtract_TargetPathsRestrictWalk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "api/server.go", "package api\n")
	writeFile(t, dir, "web/app.js", "export function main() {}\n")

	idx, err := Extract(dir, []string{"api"})
	require.NoError(t, err)
	assert.Equal(t, []string{"api/server.go"}, idx.Paths())
}

func TestExtract_MissingTargetPathIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")

	idx, err := Extract(dir, []string{"does-not-exist", "."})
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, idx.Paths())
}

func TestRelevantFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "internal/auth/auth.go", goSource)
	writeFile(t, dir, "billing/pay.py", pySource)

	idx, err := Extract(dir, nil)
	require.NoError(t, err)

	files := idx.RelevantFiles("The endpoint SHALL require authentication", 5)
	require.NotEmpty(t, files)
	assert.Equal(t, "internal/auth/auth.go", files[0])

	assert.Empty(t, idx.RelevantFiles("zeppelin telemetry cadence", 5))
}

func TestRender_BoundedAndScoped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "internal/auth/auth.go", goSource)
	writeFile(t, dir, "billing/pay.py", pySource)

	idx, err := Extract(dir, nil)
	require.NoError(t, err)

	all := idx.Render(nil, 0)
	assert.Contains(t, all, "internal/auth/auth.go")
	assert.Contains(t, all, "billing/pay.py")

	scoped := idx.Render([]string{"billing/pay.py"}, 0)
	assert.Contains(t, scoped, "billing/pay.py")
	assert.NotContains(t, scoped, "auth.go")

	bounded := idx.Render(nil, 40)
	assert.LessOrEqual(t, len(bounded), 40)
}
