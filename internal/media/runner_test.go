// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamops/internal/opserr"
)

func shRunner(killTimeout time.Duration) *Runner {
	return NewRunner("/bin/sh", killTimeout)
}

func TestRunnerCapturesStdoutAndStderr(t *testing.T) {
	r := shRunner(time.Second)

	res, err := r.Run(context.Background(),
		[]string{"-c", "echo json-output; echo 'frame=  10' >&2; echo 'done' >&2"},
		nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "json-output\n", res.Stdout)
	assert.Contains(t, res.StderrTail, "frame=  10")
	assert.Contains(t, res.StderrTail, "done")
}

func TestRunnerNonZeroExit(t *testing.T) {
	r := shRunner(time.Second)

	res, err := r.Run(context.Background(),
		[]string{"-c", "echo 'Invalid data found when processing input' >&2; exit 3"},
		nil, nil)
	require.Error(t, err)
	assert.Equal(t, opserr.KindExternalTool, opserr.KindOf(err))
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestRunnerMissingBinary(t *testing.T) {
	r := NewRunner("/nonexistent/ffmpeg", time.Second)

	_, err := r.Run(context.Background(), []string{"-version"}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, opserr.KindExternalTool, opserr.KindOf(err))
}

func TestRunnerProgressParsing(t *testing.T) {
	r := shRunner(time.Second)

	// FFmpeg separates stats updates with carriage returns, not newlines.
	script := `printf 'time=00:00:05.00\rtime=00:00:10.00\rtime=00:00:20.00\n' >&2`

	var mu sync.Mutex
	var seen []float64
	_, err := r.Run(context.Background(), []string{"-c", script},
		TimeParser{TotalSec: 20},
		func(pct float64) {
			mu.Lock()
			seen = append(seen, pct)
			mu.Unlock()
		})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{25, 50, 100}, seen)
}

func TestRunnerCancellationTerminates(t *testing.T) {
	r := shRunner(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := r.Run(ctx, []string{"-c", "sleep 30"}, nil, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, opserr.KindTimeout, opserr.KindOf(err))
	require.NotNil(t, res)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.Less(t, elapsed, 5*time.Second, "cancellation must not wait for the child's own exit")
}

func TestRunnerEscalatesToSigkill(t *testing.T) {
	// The child ignores SIGTERM; only the SIGKILL escalation can end it.
	r := shRunner(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, []string{"-c", "trap '' TERM; while true; do sleep 10; done"}, nil, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestScanToolLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"newlines", "a\nb\n", []string{"a", "b"}},
		{"carriage returns", "a\rb\r", []string{"a", "b"}},
		{"mixed", "stats\rstats2\nfinal", []string{"stats", "stats2", "final"}},
		{"crlf", "a\r\nb", []string{"a", "", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			data := []byte(tt.input)
			for len(data) > 0 {
				adv, token, err := scanToolLines(data, true)
				require.NoError(t, err)
				if adv == 0 {
					break
				}
				got = append(got, string(token))
				data = data[adv:]
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
