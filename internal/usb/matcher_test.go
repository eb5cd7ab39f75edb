package usb

import (
	"reflect"
	"testing"
)

func roleOf(v DeviceView) string {
	if v.Role == nil {
		return ""
	}
	return *v.Role
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name  string
		raw   []RawDevice
		rules []Rule
		want  []string
	}{
		{
			name:  "no rules",
			raw:   []RawDevice{camera(nil, "1-1")},
			rules: nil,
			want:  []string{""},
		},
		{
			name:  "exact match without serial",
			raw:   []RawDevice{camera(nil, "1-1")},
			rules: []Rule{{Role: "cam", VID: camVID, PID: camPID, PortPath: "1-1"}},
			want:  []string{"cam"},
		},
		{
			name:  "rule without serial matches device with serial",
			raw:   []RawDevice{camera(Serial("ABC"), "1-1")},
			rules: []Rule{{Role: "cam", VID: camVID, PID: camPID, PortPath: "1-1"}},
			want:  []string{"cam"},
		},
		{
			name:  "rule with serial rejects device without serial",
			raw:   []RawDevice{camera(nil, "1-1")},
			rules: []Rule{{Role: "cam", VID: camVID, PID: camPID, Serial: Serial("ABC"), PortPath: "1-1"}},
			want:  []string{""},
		},
		{
			name:  "serial mismatch",
			raw:   []RawDevice{camera(Serial("XYZ"), "1-1")},
			rules: []Rule{{Role: "cam", VID: camVID, PID: camPID, Serial: Serial("ABC"), PortPath: "1-1"}},
			want:  []string{""},
		},
		{
			name:  "port mismatch",
			raw:   []RawDevice{camera(nil, "1-2")},
			rules: []Rule{{Role: "cam", VID: camVID, PID: camPID, PortPath: "1-1"}},
			want:  []string{""},
		},
		{
			name:  "pid mismatch",
			raw:   []RawDevice{{VID: camVID, PID: 0x0001, PortPath: "1-1"}},
			rules: []Rule{{Role: "cam", VID: camVID, PID: camPID, PortPath: "1-1"}},
			want:  []string{""},
		},
		{
			name: "first matching rule wins",
			raw:  []RawDevice{camera(nil, "1-1")},
			rules: []Rule{
				{Role: "first", VID: camVID, PID: camPID, PortPath: "1-1"},
				{Role: "second", VID: camVID, PID: camPID, PortPath: "1-1"},
			},
			want: []string{"first"},
		},
		{
			name: "earlier non-matching rule skipped",
			raw:  []RawDevice{camera(nil, "1-1")},
			rules: []Rule{
				{Role: "other-port", VID: camVID, PID: camPID, PortPath: "2-1"},
				{Role: "cam", VID: camVID, PID: camPID, PortPath: "1-1"},
			},
			want: []string{"cam"},
		},
		{
			name: "order preserved",
			raw: []RawDevice{
				camera(nil, "1-3"),
				camera(nil, "1-1"),
				camera(nil, "1-2"),
			},
			rules: []Rule{
				{Role: "a", VID: camVID, PID: camPID, PortPath: "1-1"},
				{Role: "b", VID: camVID, PID: camPID, PortPath: "1-2"},
			},
			want: []string{"", "a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			views := Match(tt.raw, tt.rules)
			if len(views) != len(tt.raw) {
				t.Fatalf("Match() returned %d views, want %d", len(views), len(tt.raw))
			}
			for i, v := range views {
				if got := roleOf(v); got != tt.want[i] {
					t.Errorf("view[%d].Role = %q, want %q", i, got, tt.want[i])
				}
				if v.PortPath != tt.raw[i].PortPath {
					t.Errorf("view[%d].PortPath = %q, want %q", i, v.PortPath, tt.raw[i].PortPath)
				}
			}
		})
	}
}

func TestMatchDeterministic(t *testing.T) {
	raw := []RawDevice{camera(Serial("A"), "1-1"), camera(nil, "1-2")}
	rules := []Rule{{Role: "cam", VID: camVID, PID: camPID, PortPath: "1-2"}}

	first := Match(raw, rules)
	second := Match(raw, rules)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Match() not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestMatchEmpty(t *testing.T) {
	views := Match(nil, []Rule{{Role: "cam"}})
	if views == nil || len(views) != 0 {
		t.Errorf("Match(nil) = %#v, want empty non-nil slice", views)
	}
}

func TestNewViewFormatting(t *testing.T) {
	v := NewView(RawDevice{VID: 0x46d, PID: 0xC52B, Serial: Serial("S1"), PortPath: "3-1.4", SystemPath: "/sys/x"})

	if v.VID != "0x046d" {
		t.Errorf("VID = %q, want 0x046d", v.VID)
	}
	if v.PID != "0xc52b" {
		t.Errorf("PID = %q, want 0xc52b", v.PID)
	}
	if v.Role != nil {
		t.Errorf("Role = %q, want nil", *v.Role)
	}
	if v.Serial == nil || *v.Serial != "S1" {
		t.Errorf("Serial = %v, want S1", v.Serial)
	}
}

func TestFormatID(t *testing.T) {
	tests := map[uint16]string{
		0x0000: "0x0000",
		0x0001: "0x0001",
		0xabcd: "0xabcd",
		0xFFFF: "0xffff",
	}
	for id, want := range tests {
		if got := FormatID(id); got != want {
			t.Errorf("FormatID(%d) = %q, want %q", id, got, want)
		}
	}
}

func TestRuleIdentifies(t *testing.T) {
	rule := Rule{Role: "cam", VID: camVID, PID: camPID, PortPath: "1-1"}
	serialRule := Rule{Role: "cam", VID: camVID, PID: camPID, Serial: Serial("A"), PortPath: "1-1"}

	tests := []struct {
		name string
		rule Rule
		dev  RawDevice
		want bool
	}{
		{"no serials, same port", rule, camera(nil, "1-1"), true},
		{"no serials, other port", rule, camera(nil, "9-9"), true},
		{"rule without serial vs device with serial", rule, camera(Serial("A"), "1-1"), false},
		{"equal serials", serialRule, camera(Serial("A"), "5-1"), true},
		{"different serials", serialRule, camera(Serial("B"), "1-1"), false},
		{"rule serial vs device without", serialRule, camera(nil, "1-1"), false},
		{"other product", rule, RawDevice{VID: camVID, PID: 1, PortPath: "1-1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Identifies(tt.dev); got != tt.want {
				t.Errorf("Identifies() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	d := RawDevice{VID: 0x1a86, PID: 0x7523, PortPath: "1-1.2"}
	if got := d.Fingerprint(); got != "1a86:7523:1-1.2" {
		t.Errorf("Fingerprint() = %q", got)
	}
}
