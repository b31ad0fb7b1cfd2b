package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	got, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.TickInterval() != time.Second || got.QueueCapacity != 1000 {
		t.Fatalf("defaults: interval=%s capacity=%d", got.TickInterval(), got.QueueCapacity)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_OverridesAndKeepsDefaults(t *testing.T) {
	p := writeFile(t, `
tick_interval_ms: 50
unit_speed: 3.5
world_bounds: {min_x: -10, min_y: -10, max_x: 10, max_y: 10}
net:
  addr: "127.0.0.1:9000"
  public_url: "http://example.test/"
data:
  tick_log: false
`)
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.TickInterval() != 50*time.Millisecond {
		t.Fatalf("interval=%s want=50ms", got.TickInterval())
	}
	if got.UnitSpeed != 3.5 || got.QueueCapacity != 1000 {
		t.Fatalf("speed=%v capacity=%d", got.UnitSpeed, got.QueueCapacity)
	}
	if got.WorldBounds == nil || got.WorldBounds.MaxX != 10 {
		t.Fatalf("bounds=%+v", got.WorldBounds)
	}
	if got.Net.Addr != "127.0.0.1:9000" || got.Net.PublicURL != "http://example.test" {
		t.Fatalf("net=%+v", got.Net)
	}
	if got.Net.ClientQueue != 8 || got.BroadcastInterval() != 100*time.Millisecond {
		t.Fatalf("net defaults lost: %+v", got.Net)
	}
	if sc := got.SystemsConfig(); !sc.Bounds.Enabled() || sc.UnitSpeed != 3.5 {
		t.Fatalf("systems config=%+v", sc)
	}
	if got.Data.TickLog || !got.Data.IndexDB {
		t.Fatalf("data=%+v", got.Data)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative interval": "tick_interval_ms: -5\n",
		"negative speed":    "unit_speed: -1\n",
		"bad bounds":        "world_bounds: {min_x: 5, max_x: 1, min_y: 0, max_y: 1}\n",
		"huge client queue": "net: {client_queue: 5000}\n",
		"not yaml":          "tick_interval_ms: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), "tuning.yaml") {
				t.Fatalf("error not prefixed: %v", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err=%v want not-exist", err)
	}
}
