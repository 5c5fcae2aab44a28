package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chai-vision/chai-vision/internal/targets"
)

// TargetSaver persists validated target entries.
type TargetSaver interface {
	Save(ctx context.Context, updatedBy int64, entries []targets.Entry) error
}

// TargetsCLI imports target sheets maintained as YAML files.
type TargetsCLI struct {
	saver     TargetSaver
	tolerance float64
}

// NewTargetsCLI builds the helper. A nil saver limits it to dry runs.
func NewTargetsCLI(saver TargetSaver, tolerance float64) *TargetsCLI {
	return &TargetsCLI{saver: saver, tolerance: tolerance}
}

// TargetsImportOptions defines the flags of the targets import command.
type TargetsImportOptions struct {
	Path       string
	UpdatedBy  int64
	DryRun     bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

type targetsFile struct {
	Targets []targets.Entry `yaml:"targets"`
}

// LoadTargetsFile reads entries from a YAML document of the form
// "targets: [{year, brand, period, channel, amount}, ...]".
func LoadTargetsFile(r io.Reader) ([]targets.Entry, error) {
	var doc targetsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode targets file: %w", err)
	}
	if len(doc.Targets) == 0 {
		return nil, errors.New("targets file has no entries")
	}
	return doc.Targets, nil
}

// ImportCommand validates a targets file and, unless DryRun is set, stores
// it. Exit code 10 signals annual/quarter mismatches.
func (c *TargetsCLI) ImportCommand(ctx context.Context, opts TargetsImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Path == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "targets import: --file is required")
		return 1
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "targets import: %v\n", err)
		return 1
	}
	defer f.Close()
	entries, err := LoadTargetsFile(f)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "targets import: %v\n", err)
		return 1
	}

	var mismatches []targets.Mismatch
	if opts.DryRun || c.saver == nil {
		mismatches = targets.ValidateTable(targets.Merge(nil, entries), c.tolerance)
	} else if err := c.saver.Save(ctx, opts.UpdatedBy, entries); err != nil {
		var mismatchErr *targets.MismatchError
		if !errors.As(err, &mismatchErr) {
			_, _ = fmt.Fprintf(opts.Stderr, "targets import: %v\n", err)
			return 1
		}
		mismatches = mismatchErr.Mismatches
	}

	if opts.JSONOutput {
		out := struct {
			OK         bool               `json:"ok"`
			Entries    int                `json:"entries"`
			Stored     bool               `json:"stored"`
			Mismatches []targets.Mismatch `json:"mismatches"`
		}{
			OK:         len(mismatches) == 0,
			Entries:    len(entries),
			Stored:     len(mismatches) == 0 && !opts.DryRun && c.saver != nil,
			Mismatches: mismatches,
		}
		if out.Mismatches == nil {
			out.Mismatches = []targets.Mismatch{}
		}
		if err := json.NewEncoder(opts.Stdout).Encode(out); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "targets import: encode json: %v\n", err)
			return 1
		}
	} else {
		for _, m := range mismatches {
			_, _ = fmt.Fprintf(opts.Stdout, "%d %s/%s: annual %.2f vs quarters %.2f\n", m.Year, m.Brand, m.Channel, m.Annual, m.Quarters)
		}
		if len(mismatches) == 0 {
			_, _ = fmt.Fprintf(opts.Stdout, "%d entries ok\n", len(entries))
		}
	}
	if len(mismatches) > 0 {
		return 10
	}
	return 0
}
