package terminal

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeTmux writes a shell script standing in for the tmux binary and
// returns its path. script receives the full argv joined by spaces as $*.
func writeFakeTmux(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tmux script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-tmux.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestBridge_SendTextIssuesLiteralThenEnter(t *testing.T) {
	bin := writeFakeTmux(t, `
case "$3" in
  *) ;;
esac
exit 0
`)
	b := New(bin, time.Second)
	err := b.SendText(context.Background(), "%1", "hello", time.Millisecond)
	assert.NoError(t, err)
}

func TestBridge_ListPanesParsesTabSeparatedOutput(t *testing.T) {
	bin := writeFakeTmux(t, `
echo "%1	main	claude	/home/demo/project"
echo "%2	other	bash	/home/demo/other"
exit 0
`)
	b := New(bin, time.Second)
	panes, err := b.ListPanes(context.Background())
	require.NoError(t, err)
	require.Len(t, panes, 2)
	assert.Equal(t, "%1", panes[0].PaneID)
	assert.Equal(t, "claude", panes[0].CurrentCommand)
}

func TestBridge_CheckHealthDetectsReplRunning(t *testing.T) {
	bin := writeFakeTmux(t, `
echo "%1	main	claude	/home/demo/project"
exit 0
`)
	b := New(bin, time.Second)
	health, err := b.CheckHealth(context.Background(), "%1")
	require.NoError(t, err)
	assert.True(t, health.Available)
	assert.True(t, health.Running)
}

func TestBridge_CheckHealthReportsUnavailableForMissingPane(t *testing.T) {
	bin := writeFakeTmux(t, `exit 0`)
	b := New(bin, time.Second)
	health, err := b.CheckHealth(context.Background(), "%99")
	require.NoError(t, err)
	assert.False(t, health.Available)
}

func TestBridge_ClassifiesPaneNotFoundFromStderr(t *testing.T) {
	bin := writeFakeTmux(t, `echo "can't find pane: %9" 1>&2; exit 1`)
	b := New(bin, time.Second)
	_, err := b.CapturePane(context.Background(), "%9", 10)
	require.Error(t, err)
	var be *BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrPaneNotFound, be.Kind)
}

func TestBridge_MissingBinaryClassifiesAsNotInstalled(t *testing.T) {
	b := New("/no/such/tmux-binary-xyz", time.Second)
	_, err := b.ListPanes(context.Background())
	require.Error(t, err)
	var be *BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrTmuxNotInstalled, be.Kind)
}

func TestBridge_SendLockSerializesConcurrentSends(t *testing.T) {
	bin := writeFakeTmux(t, `sleep 0.02; exit 0`)
	b := New(bin, time.Second)

	done := make(chan struct{})
	go func() {
		_ = b.SendKeys(context.Background(), "%1", 0, "Enter")
		close(done)
	}()
	err := b.SendKeys(context.Background(), "%1", 0, "Enter")
	assert.NoError(t, err)
	<-done
}

func TestBridge_NewSessionInvokesTmuxWithName(t *testing.T) {
	bin := writeFakeTmux(t, `
if [ "$1" = "new-session" ]; then exit 0; fi
exit 1
`)
	b := New(bin, time.Second)
	err := b.NewSession(context.Background(), "hs-demo-1", map[string]string{"HEADSPACE_SESSION_UUID": "abc"}, "claude")
	assert.NoError(t, err)
}

func TestBridge_KillSessionInvokesTmux(t *testing.T) {
	bin := writeFakeTmux(t, `
if [ "$1" = "kill-session" ]; then exit 0; fi
exit 1
`)
	b := New(bin, time.Second)
	err := b.KillSession(context.Background(), "hs-demo-1")
	assert.NoError(t, err)
}

func TestParseContextUsage_ExtractsPercentAndRemaining(t *testing.T) {
	usage := ParseContextUsage("status: [ctx: 42% used, 58k remaining]")
	require.NotNil(t, usage)
	assert.Equal(t, 42, usage.PercentUsed)
	assert.Equal(t, "58k", usage.RemainingTokens)
}

func TestParseContextUsage_StripsANSIEscapes(t *testing.T) {
	usage := ParseContextUsage("\x1b[32m[ctx: 10% used, 1.2m remaining]\x1b[0m")
	require.NotNil(t, usage)
	assert.Equal(t, 10, usage.PercentUsed)
}

func TestParseContextUsage_ReturnsNilWhenAbsent(t *testing.T) {
	assert.Nil(t, ParseContextUsage("no status line here"))
}
