package netns

import "testing"

func TestSpecResolvedPath(t *testing.T) {
	tests := []struct {
		spec Spec
		want string
	}{
		{Default(), ""},
		{Named("blue"), "/var/run/netns/blue"},
		{Path("/tmp/myns"), "/tmp/myns"},
		{Pid(1234), "/proc/1234/ns/net"},
	}
	for _, tt := range tests {
		if got := tt.spec.resolvedPath(); got != tt.want {
			t.Errorf("%s: resolvedPath() = %q, want %q", tt.spec, got, tt.want)
		}
	}
}

func TestSpecString(t *testing.T) {
	tests := []struct {
		spec Spec
		want string
	}{
		{Default(), "default"},
		{Named("blue"), "named(blue)"},
		{Path("/tmp/myns"), "path(/tmp/myns)"},
		{Pid(42), "pid(42)"},
	}
	for _, tt := range tests {
		if got := tt.spec.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSpecIsDefault(t *testing.T) {
	if !Default().IsDefault() {
		t.Error("Default() should report IsDefault")
	}
	if Named("x").IsDefault() || Pid(1).IsDefault() {
		t.Error("non-default specs must not report IsDefault")
	}
}
