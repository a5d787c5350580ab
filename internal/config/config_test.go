package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func withEnv(t *testing.T, vals map[string]string) {
	t.Helper()
	prev := env
	env = func(k string) string { return vals[k] }
	t.Cleanup(func() { env = prev })
}

func TestClientDefaults(t *testing.T) {
	withEnv(t, nil)
	var c ClientConfig
	c.bindEnv()
	if c.APIURL != "http://localhost:8080" || c.SocketURL != "ws://localhost:8080/ws" {
		t.Fatalf("urls: %q %q", c.APIURL, c.SocketURL)
	}
	if c.ReconnectBase != time.Second || c.MaxReconnectAttempts != 5 {
		t.Fatalf("backoff: %v %d", c.ReconnectBase, c.MaxReconnectAttempts)
	}
	if c.ContinuationDelay != DefaultContinuationDelay {
		t.Fatalf("continuation delay: %v", c.ContinuationDelay)
	}
	if c.MetricsAddr != "" {
		t.Fatalf("metrics addr: %q", c.MetricsAddr)
	}
}

func TestClientEnvOverrides(t *testing.T) {
	withEnv(t, map[string]string{
		"API_URL":                "http://game:9000",
		"CHARACTER_ID":           "42",
		"MAX_RECONNECT_ATTEMPTS": "7",
		"RECONNECT_BASE":         "250ms",
		"METRICS_PORT":           "9090",
		"CONTINUATION_DELAY":     "not-a-duration",
	})
	var c ClientConfig
	c.bindEnv()
	if c.APIURL != "http://game:9000" || c.CharacterID != 42 {
		t.Fatalf("config: %+v", c)
	}
	b := c.Backoff()
	if b.MaxAttempts != 7 || b.Base != 250*time.Millisecond {
		t.Fatalf("backoff: %+v", b)
	}
	if c.MetricsAddr != ":9090" {
		t.Fatalf("metrics addr: %q", c.MetricsAddr)
	}
	if c.ContinuationDelay != DefaultContinuationDelay {
		t.Fatalf("invalid duration should fall back, got %v", c.ContinuationDelay)
	}
}

func TestClientLoadFile(t *testing.T) {
	withEnv(t, nil)
	var c ClientConfig
	c.bindEnv()
	c.UserID = "from-flags"

	path := filepath.Join(t.TempDir(), "client.yaml")
	data := "api_url: http://yaml:8080\ncharacter_id: 7\ncontinuation_delay: 2s\nmetrics_addr: \"9100\"\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.APIURL != "http://yaml:8080" || c.CharacterID != 7 || c.ContinuationDelay != 2*time.Second {
		t.Fatalf("config: %+v", c)
	}
	if c.UserID != "from-flags" {
		t.Fatalf("unset yaml field overwrote user id: %q", c.UserID)
	}
	if c.MetricsAddr != ":9100" {
		t.Fatalf("metrics addr: %q", c.MetricsAddr)
	}
	if err := c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestDevServerLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devserver.yaml")
	data := "addr: \"9000\"\ndice_keywords: [pick, jump]\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var c DevServerConfig
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Addr != ":9000" || len(c.DiceKeywords) != 2 || c.DiceKeywords[1] != "jump" {
		t.Fatalf("config: %+v", c)
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name string
		goos string
		env  map[string]string
		home string
		want string
	}{
		{name: "linux xdg", goos: "linux", env: map[string]string{"XDG_CONFIG_HOME": "/home/user/cfg"}, home: "/home/user", want: "/home/user/cfg/questlink/client.yaml"},
		{name: "linux home", goos: "linux", home: "/home/user", want: "/home/user/.config/questlink/client.yaml"},
		{name: "linux no home", goos: "linux", want: "/etc/questlink/client.yaml"},
		{name: "darwin", goos: "darwin", home: "/Users/test", want: "/Users/test/Library/Application Support/questlink/client.yaml"},
		{name: "windows appdata", goos: "windows", env: map[string]string{"AppData": "C:\\Users\\u\\AppData\\Roaming\\"}, want: "C:/Users/u/AppData/Roaming/questlink/client.yaml"},
		{name: "windows programdata", goos: "windows", env: map[string]string{"ProgramData": "D:/Data/"}, want: "D:/Data/questlink/client.yaml"},
		{name: "windows default", goos: "windows", want: "C:/ProgramData/questlink/client.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string { return tt.env[k] }
			got := strings.ReplaceAll(ResolveConfigPath(tt.goos, getenv, tt.home, "client.yaml"), "\\", "/")
			if got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestMaskSecret(t *testing.T) {
	cases := map[string]string{
		"":                          "",
		"abc":                       "***",
		"abcdefgh":                  "a******h",
		"abcdefghijklmnopqrstuvwxy": "abc*********************y",
	}
	for in, want := range cases {
		if got := MaskSecret(in); got != want {
			t.Errorf("MaskSecret(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestSplitComma(t *testing.T) {
	got := splitComma(" a, ,b ,c")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("splitComma: %q", got)
	}
}
