package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("checking %s", "repo")
	assert.Contains(t, out.String(), "checking repo")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("push failed: %s", "conflict")
	assert.Contains(t, errOut.String(), "push failed: conflict")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("clone failed: %s", "auth")
	assert.Contains(t, errOut.String(), "clone failed: auth")
}

func TestVerboseLog(t *testing.T) {
	u, out, _ := newTestUI()
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())

	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestSeverityColor(t *testing.T) {
	for _, sev := range []string{"critical", "high", "medium", "low"} {
		assert.Contains(t, SeverityColor(sev), sev)
	}
	assert.Equal(t, "unknown", SeverityColor("unknown"))
}

func TestStateColor(t *testing.T) {
	for _, state := range []string{"pending", "running", "completed", "failed"} {
		assert.Contains(t, StateColor(state), state)
	}
	assert.Equal(t, "weird", StateColor("weird"))
}
