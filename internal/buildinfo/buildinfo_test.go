package buildinfo

import (
	"runtime"
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "nokiawifi/"+Version+" ") {
		t.Errorf("UserAgent() = %q", ua)
	}
	if !strings.Contains(ua, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("UserAgent() = %q, want platform", ua)
	}
}

func TestInfo(t *testing.T) {
	info := Info()
	if len(info) != len(Keys()) {
		t.Errorf("Info() has %d keys, Keys() lists %d", len(info), len(Keys()))
	}
	for _, k := range Keys() {
		if info[k] == "" {
			t.Errorf("Info()[%q] is empty", k)
		}
	}
	if !strings.HasPrefix(String(), "nokiawifi "+Version) {
		t.Errorf("String() = %q", String())
	}
}

func TestKeys_ReturnsCopy(t *testing.T) {
	k := Keys()
	k[0] = "changed"
	if Keys()[0] != "version" {
		t.Error("Keys() exposed its backing slice")
	}
}

func TestLogAttrs(t *testing.T) {
	attrs := LogAttrs()
	if len(attrs)%2 != 0 {
		t.Fatalf("LogAttrs() has odd length %d", len(attrs))
	}
	if attrs[0] != "version" || attrs[1] != Version {
		t.Errorf("LogAttrs() = %v, want version first", attrs)
	}
}
