package oracle_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/ddmin/internal/cache"
	"github.com/calvinalkan/ddmin/internal/chunkset"
	"github.com/calvinalkan/ddmin/internal/cmdtemplate"
	"github.com/calvinalkan/ddmin/internal/materializer"
	"github.com/calvinalkan/ddmin/internal/oracle"
	"github.com/calvinalkan/ddmin/internal/predicate"
)

func newOracle(t *testing.T, tmpl string, shell bool, raw predicate.Raw) *oracle.Oracle {
	t.Helper()

	ct, err := cmdtemplate.Parse(tmpl, shell)
	require.NoError(t, err)

	pred, err := predicate.Compile(raw)
	require.NoError(t, err)

	return &oracle.Oracle{
		Original:  bytes.NewReader([]byte("hello world")),
		Template:  ct,
		Predicate: pred,
		Mat:       materializer.New(t.TempDir()),
		Cache:     cache.New(),
		Shell:     shell,
	}
}

func fullInput() chunkset.ChunkSet {
	return chunkset.ChunkSet{{Start: 0, End: 11}}
}

func TestQueryMatchesExitStatus(t *testing.T) {
	o := newOracle(t, "sh -c 'exit 7'", false, predicate.Raw{StatusLists: []string{"7"}})

	fail, err := o.Query(context.Background(), fullInput())
	require.NoError(t, err)
	require.True(t, fail)
}

func TestQueryDoesNotMatchDifferentExitStatus(t *testing.T) {
	o := newOracle(t, "sh -c 'exit 3'", false, predicate.Raw{StatusLists: []string{"7"}})

	fail, err := o.Query(context.Background(), fullInput())
	require.NoError(t, err)
	require.False(t, fail)
}

func TestQueryMatchesSignal(t *testing.T) {
	// SIGABRT == 6 on linux/amd64; `sh -c 'kill -ABRT $$'` sends it to itself.
	o := newOracle(t, "sh -c 'kill -ABRT $$'", false, predicate.Raw{SignalLists: []string{"SIGABRT"}})

	fail, err := o.Query(context.Background(), fullInput())
	require.NoError(t, err)
	require.True(t, fail)
}

func TestQueryMatchesStdoutSubstring(t *testing.T) {
	o := newOracle(t, "sh -c 'echo hello world; exit 0'", false, predicate.Raw{
		Writes: []predicate.WriteSpec{{Fd: 1, Substring: "hello"}},
	})

	fail, err := o.Query(context.Background(), fullInput())
	require.NoError(t, err)
	require.True(t, fail)
}

func TestQueryDoesNotMatchMissingStdoutSubstring(t *testing.T) {
	o := newOracle(t, "sh -c 'echo goodbye; exit 0'", false, predicate.Raw{
		Writes: []predicate.WriteSpec{{Fd: 1, Substring: "hello"}},
	})

	fail, err := o.Query(context.Background(), fullInput())
	require.NoError(t, err)
	require.False(t, fail)
}

func TestQueryMatchesStderrSubstring(t *testing.T) {
	o := newOracle(t, "sh -c 'echo oops 1>&2; exit 0'", false, predicate.Raw{
		Writes: []predicate.WriteSpec{{Fd: 2, Substring: "oops"}},
	})

	fail, err := o.Query(context.Background(), fullInput())
	require.NoError(t, err)
	require.True(t, fail)
}

func TestQueryTimeoutIsNeverFailure(t *testing.T) {
	one := 50
	o := newOracle(t, "sh -c 'sleep 5'", false, predicate.Raw{
		StatusLists: []string{"~0"},
		TimeoutMs:   &one,
	})

	var timedOut bool
	o.OnTimeout = func() { timedOut = true }

	fail, err := o.Query(context.Background(), fullInput())
	require.NoError(t, err)
	require.False(t, fail)
	require.True(t, timedOut)
}

func TestQueryReceivesMaterializedTempfilePath(t *testing.T) {
	o := newOracle(t, "sh -c 'grep -q hello @'", false, predicate.Raw{StatusLists: []string{"0"}})

	fail, err := o.Query(context.Background(), fullInput())
	require.NoError(t, err)
	require.True(t, fail)
}

func TestQueryCachesRepeatedChunkSet(t *testing.T) {
	o := newOracle(t, "sh -c 'exit 7'", false, predicate.Raw{StatusLists: []string{"7"}})

	_, err := o.Query(context.Background(), fullInput())
	require.NoError(t, err)

	_, err = o.Query(context.Background(), fullInput())
	require.NoError(t, err)

	stats := o.Cache.Stats()
	require.Equal(t, 1, stats.Misses)
	require.Equal(t, 1, stats.Hits)
}

func TestQueryHonorsContextCancellation(t *testing.T) {
	o := newOracle(t, "sh -c 'sleep 5'", false, predicate.Raw{StatusLists: []string{"~0"}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := o.Query(ctx, fullInput())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueryExecNotFoundClassifiesPass(t *testing.T) {
	o := newOracle(t, "/nonexistent/ddmin-no-such-binary", false, predicate.Raw{StatusLists: []string{"1"}})

	fail, err := o.Query(context.Background(), fullInput())
	require.NoError(t, err)
	require.False(t, fail)
}

// A subject that writes a watched substring and exits immediately must
// still classify FAIL: the watched fd is drained to EOF before the exit
// status is consulted.
func TestQueryDrainsWatchedFdsAfterPromptExit(t *testing.T) {
	for i := 0; i < 20; i++ {
		o := newOracle(t, "sh -c 'echo needle'", false, predicate.Raw{
			Writes: []predicate.WriteSpec{{Fd: 1, Substring: "needle"}},
		})

		fail, err := o.Query(context.Background(), fullInput())
		require.NoError(t, err)
		require.True(t, fail)
	}
}

func TestQueryArgvModeExpandsAtTokenDirectly(t *testing.T) {
	o := newOracle(t, "grep -q hello @", false, predicate.Raw{StatusLists: []string{"0"}})

	fail, err := o.Query(context.Background(), fullInput())
	require.NoError(t, err)
	require.True(t, fail)
}
