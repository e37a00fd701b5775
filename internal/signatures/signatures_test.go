package signatures

import "testing"

func TestNormalizePrefix(t *testing.T) {
	cases := map[string]string{
		"60:60:1f":          "60:60:1F",
		"60-60-1F-AA-BB-CC": "60:60:1F",
		"60601f":            "60:60:1F",
		"6060":              "",
		"zz:zz:zz":          "",
	}
	for in, want := range cases {
		if got := NormalizePrefix(in); got != want {
			t.Fatalf("NormalizePrefix(%q)=%q want %q", in, got, want)
		}
	}
}

func TestDroneNamesAreNarrow(t *testing.T) {
	for _, name := range []string{"TELLO-A1B2C3", "DJI-MAVIC3-1234", "ANAFI-Thermal-123456"} {
		if _, ok := DroneName(name); !ok {
			t.Fatalf("expected %q to match a drone pattern", name)
		}
	}
	for _, name := range []string{"DJI", "Mavic", "My Phantom Network", "Tello", ""} {
		if _, ok := DroneName(name); ok {
			t.Fatalf("expected %q not to match", name)
		}
	}
}

func TestClassify(t *testing.T) {
	if got := Classify("60:60:1F", "home"); got != CategoryDrone {
		t.Fatalf("expected drone, got %q", got)
	}
	if got := Classify("C0:56:E3", ""); got != CategoryCamera {
		t.Fatalf("expected camera, got %q", got)
	}
	if got := Classify("11:22:33", "FBI Surveillance Van"); got != CategoryVehicle {
		t.Fatalf("expected vehicle, got %q", got)
	}
	if got := Classify("11:22:33", "HomeNet"); got != CategoryNone {
		t.Fatalf("expected none, got %q", got)
	}
}

func TestTrustedAndHoneypot(t *testing.T) {
	if !IsTrustedPublic(" XfinityWiFi ") {
		t.Fatalf("expected xfinitywifi to be trusted")
	}
	if w, ok := HoneypotWord("Airport_Free_Internet"); !ok || w != "free" {
		t.Fatalf("unexpected honeypot match %q %v", w, ok)
	}
	if _, ok := HoneypotWord("CorpNet"); ok {
		t.Fatalf("unexpected honeypot match for CorpNet")
	}
}
