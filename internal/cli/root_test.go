package cli

import "testing"

func TestRootCommandTree(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "9090")

	root := newRootCmd()
	for _, name := range []string{"start", "migrate", "watch"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %s not registered: %v", name, err)
		}
	}
	if got := root.PersistentFlags().Lookup("config").DefValue; got != defaultConfigFile {
		t.Fatalf("config default = %q, want %q", got, defaultConfigFile)
	}
	if got := root.PersistentFlags().Lookup("port").DefValue; got != "9090" {
		t.Fatalf("port default = %q, want PORT from env", got)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("QA_TEST_VALUE", "")
	if got := envOr("QA_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("empty env should fall back, got %q", got)
	}
	t.Setenv("QA_TEST_VALUE", "set")
	if got := envOr("QA_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("expected env value, got %q", got)
	}
}
