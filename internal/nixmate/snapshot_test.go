package nixmate

import (
	"testing"
)

func TestParsePathInfoObjectForm(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"/nix/store/abcdefghijklmnopqrstuvwxyz012345-firefox-121.0": {"narSize": 1},
		"/nix/store/abcdefghijklmnopqrstuvwxyz012345-vim-9.1": {"narSize": 2}
	}`)
	paths := parsePathInfo(data)
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2", len(paths))
	}
}

func TestParsePathInfoArrayForm(t *testing.T) {
	t.Parallel()

	data := []byte(`[
		{"path": "/nix/store/abcdefghijklmnopqrstuvwxyz012345-firefox-121.0"},
		{"path": "/nix/store/abcdefghijklmnopqrstuvwxyz012345-vim-9.1"}
	]`)
	paths := parsePathInfo(data)
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2", len(paths))
	}
	if paths[0] != "/nix/store/abcdefghijklmnopqrstuvwxyz012345-firefox-121.0" {
		t.Errorf("first path: %q", paths[0])
	}
}

func TestParsePathInfoGarbage(t *testing.T) {
	t.Parallel()
	if paths := parsePathInfo([]byte("not json")); paths != nil {
		t.Errorf("garbage input: got %v, want nil", paths)
	}
}

func TestSkipInfraPackage(t *testing.T) {
	t.Parallel()

	skipped := []string{
		"hook", "setup-hook", "source", "patch-elf-hook",
		"wrap-gapps", "move-docs", "make-wrapper", "compress-man-pages",
		"strip-store-references", "stdenv", "builder", "raw",
	}
	for _, name := range skipped {
		if !skipInfraPackage(name) {
			t.Errorf("%q not skipped", name)
		}
	}
	kept := []string{"firefox", "vim", "linux", "systemd", "stdenv-linux"}
	for _, name := range kept {
		if skipInfraPackage(name) {
			t.Errorf("%q wrongly skipped", name)
		}
	}
}

func TestParseServiceShow(t *testing.T) {
	t.Parallel()

	out := "Id=nginx.service\nActiveEnterTimestampMonotonic=123456\n\n" +
		"Id=sshd.service\nActiveEnterTimestampMonotonic=789\n\n"
	times := parseServiceShow(out)
	if len(times) != 2 {
		t.Fatalf("got %d services, want 2", len(times))
	}
	if times["nginx.service"] != 123456 || times["sshd.service"] != 789 {
		t.Errorf("timestamps: %v", times)
	}
}

func TestPackageFingerprintOrderIndependent(t *testing.T) {
	t.Parallel()

	a := packageFingerprint(map[string]string{"vim": "9.1", "firefox": "121.0"})
	b := packageFingerprint(map[string]string{"firefox": "121.0", "vim": "9.1"})
	if a != b {
		t.Error("fingerprint depends on map order")
	}
	c := packageFingerprint(map[string]string{"firefox": "121.0", "vim": "9.2"})
	if a == c {
		t.Error("fingerprint ignored a version change")
	}
}
