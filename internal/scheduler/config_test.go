package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFile_ExpandsEnvAndDefaultsEnabled(t *testing.T) {
	t.Setenv("TEST_SCHEDULER_BASE_URL", "http://agent.internal:9000")

	dir := t.TempDir()
	path := filepath.Join(dir, "schedules.yaml")
	yaml := `
agent_base_url: ${TEST_SCHEDULER_BASE_URL}
pollers:
  voucher_inbox:
    bucket: drop-bucket
    prefix: inbox/
    interval_seconds: 30
    run_type: voucher_ingest
schedules:
  nightly_soft_checks:
    cron: "0 2 * * *"
    run_type: soft_checks
    payload:
      as_of: today
  disabled_job:
    cron: "0 3 * * *"
    run_type: tax_report
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)

	require.Equal(t, "http://agent.internal:9000", f.AgentBaseURL)
	require.True(t, f.Pollers["voucher_inbox"].IsEnabled())
	require.True(t, f.Schedules["nightly_soft_checks"].IsEnabled())
	require.False(t, f.Schedules["disabled_job"].IsEnabled())
}
