package rsyncopts_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/rsyncopts"
)

func TestParseArgumentsServerSenderRecursive(t *testing.T) {
	opts, err := rsyncopts.ParseArguments([]string{"--server", "--sender", "-r", "."})
	if err != nil {
		t.Fatalf("ParseArguments: %v", err)
	}
	if !opts.Server || !opts.Sender || !opts.Recurse {
		t.Errorf("opts = %+v, want Server/Sender/Recurse all true", opts)
	}
	if diff := cmp.Diff([]string{"."}, opts.Remaining); diff != "" {
		t.Errorf("Remaining mismatch (-want +got):\n%s", diff)
	}
}

func TestParseArgumentsBundledShortOptions(t *testing.T) {
	// a typical rsync(1) invocation bundles short flags like "-logDtpr"
	opts, err := rsyncopts.ParseArguments([]string{"--server", "--sender", "-logDtpr", ".", "rpki/"})
	if err != nil {
		t.Fatalf("ParseArguments: %v", err)
	}
	if !opts.Recurse {
		t.Error("Recurse = false, want true from bundled -r")
	}
	if !opts.PreserveTimes {
		t.Error("PreserveTimes = false, want true from bundled -t")
	}
	if !opts.PreservePerms {
		t.Error("PreservePerms = false, want true from bundled -p")
	}
	if !opts.PreserveDevices || !opts.PreserveSpecials {
		t.Error("PreserveDevices/PreserveSpecials = false, want true from bundled -D")
	}
	if diff := cmp.Diff([]string{".", "rpki/"}, opts.Remaining); diff != "" {
		t.Errorf("Remaining mismatch (-want +got):\n%s", diff)
	}
}

func TestParseArgumentsCompressLongAndShort(t *testing.T) {
	for _, args := range [][]string{
		{"--server", "--sender", "--compress", "."},
		{"--server", "--sender", "-z", "."},
	} {
		opts, err := rsyncopts.ParseArguments(args)
		if err != nil {
			t.Fatalf("ParseArguments(%v): %v", args, err)
		}
		if !opts.Compress {
			t.Errorf("ParseArguments(%v): Compress = false, want true", args)
		}
	}
}

func TestParseArgumentsIgnoresVerbosity(t *testing.T) {
	opts, err := rsyncopts.ParseArguments([]string{"--server", "--sender", "-v", "-v", "."})
	if err != nil {
		t.Fatalf("ParseArguments: %v", err)
	}
	if diff := cmp.Diff([]string{"."}, opts.Remaining); diff != "" {
		t.Errorf("Remaining mismatch (-want +got):\n%s", diff)
	}
}

func TestParseArgumentsRejectsUnknownFlag(t *testing.T) {
	if _, err := rsyncopts.ParseArguments([]string{"--server", "--bogus-flag"}); err == nil {
		t.Error("expected an error for an unrecognized flag")
	}
}

func TestParseArgumentsOwnerGroupLinks(t *testing.T) {
	opts, err := rsyncopts.ParseArguments([]string{"--server", "--sender", "-o", "-g", "-l", "."})
	if err != nil {
		t.Fatalf("ParseArguments: %v", err)
	}
	if !opts.PreserveOwner || !opts.PreserveGroup || !opts.PreserveLinks {
		t.Errorf("opts = %+v, want PreserveOwner/PreserveGroup/PreserveLinks all true", opts)
	}
}
