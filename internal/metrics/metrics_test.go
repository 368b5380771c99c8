package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(verdicts.WithLabelValues("VERIFIED", "lean"))
	RecordVerdict("VERIFIED", "lean")
	assert.Equal(t, before+1, testutil.ToFloat64(verdicts.WithLabelValues("VERIFIED", "lean")))

	before = testutil.ToFloat64(guardViolations.WithLabelValues("HASH_MISMATCH"))
	RecordGuardViolation("HASH_MISMATCH")
	assert.Equal(t, before+1, testutil.ToFloat64(guardViolations.WithLabelValues("HASH_MISMATCH")))

	before = testutil.ToFloat64(repairAttempts)
	RecordRepairAttempt()
	assert.Equal(t, before+1, testutil.ToFloat64(repairAttempts))
}

func TestWriteTextfile(t *testing.T) {
	RecordDiscoveryBatch("admitted")
	ObserveVerifier("dafny", "proved", 1500*time.Millisecond)

	path := filepath.Join(t.TempDir(), "argus.prom")
	require.NoError(t, WriteTextfile(path))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), `argus_discovery_batches_total{outcome="admitted"}`)
	assert.Contains(t, string(body), `argus_verifier_duration_seconds_bucket{engine="dafny",outcome="proved",le="2"}`)
}
