package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	segtest "github.com/arloliu/segpool/testing"
)

func execute(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--nats-url", url, "--log-format", "none", "-p", "orders"}, args...))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestCLI_SegmentLifecycle(t *testing.T) {
	t.Parallel()

	ns, _ := segtest.StartEmbeddedNATS(t)
	url := ns.ClientURL()

	out, err := execute(t, url, "init", "--count", "2", "--format", "json")
	require.NoError(t, err)

	var report StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, "orders", report.Processor)
	require.Len(t, report.Segments, 2)

	out, err = execute(t, url, "split", "1", "--format", "json")
	require.NoError(t, err)

	var res OperationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.Applied)
	require.Equal(t, "split", res.Operation)

	out, err = execute(t, url, "status", "--format", "json")
	require.NoError(t, err)
	report = StatusReport{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	ids := make([]int, 0, len(report.Segments))
	for _, s := range report.Segments {
		ids = append(ids, s.ID)
		require.True(t, s.Available)
	}
	require.Equal(t, []int{0, 1, 3}, ids)
	require.Empty(t, report.Processes)

	out, err = execute(t, url, "merge", "3")
	require.NoError(t, err)
	require.Contains(t, out, "merge of segment 3 applied")

	out, err = execute(t, url, "merge", "0")
	require.NoError(t, err)
	require.Contains(t, out, "merge of segment 0 applied")

	out, err = execute(t, url, "status")
	require.NoError(t, err)
	require.Contains(t, out, "Processor orders: 1 segments")

	_, err = execute(t, url, "reset", "--from", "10")
	require.NoError(t, err)
}

func TestCLI_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"bad format", []string{"status", "--format", "yaml"}},
		{"bad backend", []string{"status", "--backend", "zookeeper"}},
		{"bad log format", []string{"status", "--log-format", "xml"}},
		{"bad segment id", []string{"split", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			cmd := NewRootCommand()
			cmd.SetOut(&out)
			cmd.SetErr(&out)
			cmd.SetArgs(append([]string{"-p", "orders"}, tt.args...))

			err := cmd.Execute()
			require.Error(t, err)
			require.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestCLI_ProcessorRequired(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-format", "none", "split", "0"})

	err := cmd.Execute()
	require.Error(t, err)
	require.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, ExitFailure, GetExitCode(context.Canceled))
	require.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "usage")))

	wrapped := WrapExitError(ExitFailure, "split failed", context.DeadlineExceeded)
	require.ErrorIs(t, wrapped, context.DeadlineExceeded)
	require.Equal(t, "split failed: context deadline exceeded", wrapped.Error())
}
