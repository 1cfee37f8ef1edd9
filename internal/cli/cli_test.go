package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionSkipsConfiguration(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "taostats dev") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if appHandle != nil {
		t.Fatal("version must not load configuration")
	}
}

func TestRunOptionsFromFlags(t *testing.T) {
	runNoUSD, runNoChart, runFrequency, runPageSize = true, false, "by_hour", 25
	t.Cleanup(func() { runNoUSD, runNoChart, runFrequency, runPageSize = false, false, "", 0 })

	opts, err := runOptions()
	if err != nil {
		t.Fatalf("run options: %v", err)
	}
	if opts.WithUSD || !opts.Chart || opts.Frequency != "by_hour" || opts.PageSize != 25 {
		t.Fatalf("unexpected options %+v", opts)
	}

	runPageSize = -1
	if _, err := runOptions(); err == nil {
		t.Fatal("negative page size should be rejected")
	}
}
