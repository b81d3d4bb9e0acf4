package urlhint

import "testing"

func TestAddPathHintTakesPriorityOverParsing(t *testing.T) {
	r := NewRegistry()
	r.AddPathHint("nfs://host/export/roms/game.sfc", "host", "/export", "roms/game.sfc")

	hint, err := r.Resolve("nfs://host/export/roms/game.sfc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if hint.Server != "host" || hint.Export != "/export" || hint.RelativePath != "roms/game.sfc" {
		t.Fatalf("unexpected hint: %+v", hint)
	}
}

func TestResolveFallsBackToURLParsing(t *testing.T) {
	r := NewRegistry()

	hint, err := r.Resolve("nfs://192.168.1.5/games/roms/mario.sfc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if hint.Server != "192.168.1.5" {
		t.Fatalf("unexpected server: %q", hint.Server)
	}
	if hint.Export != "/games" {
		t.Fatalf("unexpected export: %q", hint.Export)
	}
	if hint.RelativePath != "roms/mario.sfc" {
		t.Fatalf("unexpected relative path: %q", hint.RelativePath)
	}
}

func TestResolveRejectsNonNFSPath(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve("/local/file.sfc"); err == nil {
		t.Fatalf("expected an error for a non-nfs:// path")
	}
}
