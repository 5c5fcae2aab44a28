package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chai-vision/chai-vision/internal/targets"
)

const balancedTargets = `targets:
  - {year: 2025, brand: LifePro, period: annual, channel: Amazon, amount: 1000}
  - {year: 2025, brand: LifePro, period: Q1, channel: Amazon, amount: 250}
  - {year: 2025, brand: LifePro, period: Q2, channel: Amazon, amount: 250}
  - {year: 2025, brand: LifePro, period: Q3, channel: Amazon, amount: 250}
  - {year: 2025, brand: LifePro, period: Q4, channel: Amazon, amount: 250}
`

type recordingSaver struct {
	entries []targets.Entry
	user    int64
	err     error
}

func (s *recordingSaver) Save(_ context.Context, updatedBy int64, entries []targets.Entry) error {
	s.entries = entries
	s.user = updatedBy
	return s.err
}

func writeTargets(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTargetsFileRejectsUnknownFields(t *testing.T) {
	_, err := LoadTargetsFile(strings.NewReader("targets:\n  - {year: 2025, brnd: x}\n"))
	assert.Error(t, err)

	_, err = LoadTargetsFile(strings.NewReader("targets: []\n"))
	assert.Error(t, err)

	entries, err := LoadTargetsFile(strings.NewReader(balancedTargets))
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, targets.Entry{Year: 2025, Brand: "LifePro", Period: "annual", Channel: "Amazon", Amount: 1000}, entries[0])
}

func TestImportCommandStoresBalancedFile(t *testing.T) {
	saver := &recordingSaver{}
	var stdout, stderr bytes.Buffer
	code := NewTargetsCLI(saver, 0).ImportCommand(context.Background(), TargetsImportOptions{
		Path:      writeTargets(t, balancedTargets),
		UpdatedBy: 3,
		Stdout:    &stdout,
		Stderr:    &stderr,
	})
	assert.Equal(t, 0, code, stderr.String())
	assert.Len(t, saver.entries, 5)
	assert.Equal(t, int64(3), saver.user)
	assert.Contains(t, stdout.String(), "5 entries ok")
}

func TestImportCommandDryRunReportsMismatch(t *testing.T) {
	body := strings.Replace(balancedTargets, "Q4, channel: Amazon, amount: 250", "Q4, channel: Amazon, amount: 400", 1)
	saver := &recordingSaver{}
	var stdout bytes.Buffer
	code := NewTargetsCLI(saver, 0).ImportCommand(context.Background(), TargetsImportOptions{
		Path:       writeTargets(t, body),
		DryRun:     true,
		JSONOutput: true,
		Stdout:     &stdout,
	})
	assert.Equal(t, 10, code)
	assert.Nil(t, saver.entries)

	var out struct {
		OK         bool               `json:"ok"`
		Stored     bool               `json:"stored"`
		Mismatches []targets.Mismatch `json:"mismatches"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.False(t, out.OK)
	assert.False(t, out.Stored)
	require.Len(t, out.Mismatches, 1)
	assert.Equal(t, 1150.0, out.Mismatches[0].Quarters)
}

func TestImportCommandSurfacesSaveMismatch(t *testing.T) {
	saver := &recordingSaver{err: &targets.MismatchError{Mismatches: []targets.Mismatch{{Year: 2025, Brand: "LifePro", Channel: "Amazon", Annual: 1000, Quarters: 900}}}}
	var stdout, stderr bytes.Buffer
	code := NewTargetsCLI(saver, 0).ImportCommand(context.Background(), TargetsImportOptions{
		Path:   writeTargets(t, balancedTargets),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	assert.Equal(t, 10, code)
	assert.Contains(t, stdout.String(), "annual 1000.00 vs quarters 900.00")
}

func TestImportCommandRequiresFile(t *testing.T) {
	var stderr bytes.Buffer
	code := NewTargetsCLI(nil, 0).ImportCommand(context.Background(), TargetsImportOptions{Stderr: &stderr})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "--file")
}
