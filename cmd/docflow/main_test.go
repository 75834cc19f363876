package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecute_Version(t *testing.T) {
	require.NoError(t, Execute("1.0.0", "abc123", "docflow", []string{"--version"}))
}

func TestExecute_Help(t *testing.T) {
	require.NoError(t, Execute("1.0.0", "abc123", "docflow", []string{"--help"}))
	require.NoError(t, Execute("1.0.0", "abc123", "docflow", []string{"sweep", "--help"}))
}

func TestExecute_InvalidFlag(t *testing.T) {
	require.Error(t, Execute("1.0.0", "abc123", "docflow", []string{"--invalid-flag"}))
}

func TestExecute_InvalidSchedulerFlag(t *testing.T) {
	chdir(t, t.TempDir())
	err := Execute("1.0.0", "abc123", "docflow", []string{"purge-locks", "--scheduler", "cron"})
	require.ErrorContains(t, err, "scheduler")
}

func TestExecute_MissingArgument(t *testing.T) {
	require.Error(t, Execute("1.0.0", "abc123", "docflow", []string{"ingest"}))
}

func TestRunMain(t *testing.T) {
	exitCode := -1
	runMain([]string{"docflow", "--help"}, func(code int) { exitCode = code })
	require.Equal(t, -1, exitCode)

	runMain([]string{"docflow", "--invalid"}, func(code int) { exitCode = code })
	require.Equal(t, 1, exitCode)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}
