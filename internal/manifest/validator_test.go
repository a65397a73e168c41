package manifest

import (
	"errors"
	"testing"

	"github.com/meganerd/extender/internal/vars"
)

var testFlags = []string{
	"-ObjC", "-Wa,{{comma_separated_arg}}", "-W{{warning}}", "-std=(c89|c99|c\\+\\+0x|c\\+\\+11|c\\+\\+14|c\\+\\+17|c\\+\\+20)",
	"-ferror-limit={{number}}", "-O([0-4]?|fast|s|z)", "-std-default={{arg}}",
}

var testLibs = []string{"AVFAudio", "QuickTime", "Metal", "c\\+\\+", "z"}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(DefaultWhitelist(), testLibs, testFlags, []string{"{{arg}}"})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestWhitelistAnchoring(t *testing.T) {
	re, err := Anchor(ArgRe)
	if err != nil {
		t.Fatal(err)
	}
	if !re.MatchString("goodflag") {
		t.Error("want goodflag accepted")
	}
	if re.MatchString("goodflag; rm -rf") {
		t.Error("want trailing shell content rejected")
	}
	if re.MatchString("$(goodflag)") {
		t.Error("want leading shell content rejected")
	}
}

func TestWhitelistCompileExpandsVocabulary(t *testing.T) {
	res, err := DefaultWhitelist().Compile([]string{"-W{{warning}}", "-ferror-limit={{number}}"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Fatalf("want 2 patterns, got %d", len(res))
	}
	if !res[0].MatchString("-Wno-c++11-extensions") {
		t.Error("want warning flag accepted")
	}
	if !res[1].MatchString("-ferror-limit=20") || res[1].MatchString("-ferror-limit=x") {
		t.Error("want number fragment enforced")
	}
}

func TestValidate(t *testing.T) {
	v := newTestValidator(t)
	tests := []struct {
		name      string
		ctx       vars.Context
		wantField string
		wantValue string
	}{
		{"allowed libs", vars.Context{"libs": vars.List("AVFAudio", "QuickTime")}, "", ""},
		{"listed lib names", vars.Context{"libs": vars.List("c++", "z")}, "", ""},
		{"lib not on allow list", vars.Context{"libs": vars.List("z", "NotOnAllowList")}, "libs", "NotOnAllowList"},
		{"framework not on allow list", vars.Context{"frameworks": vars.List("AnyFramework.v2+x")}, "frameworks", "AnyFramework.v2+x"},
		{"lib path rejected", vars.Context{"libs": vars.List("z", "../libfoobar.a")}, "libs", "../libfoobar.a"},
		{"relative lib rejected", vars.Context{"dynamicLibs": vars.List("./foo")}, "dynamicLibs", "./foo"},
		{"flags", vars.Context{"flags": vars.List("-O", "-Weverything", "-std=c++17")}, "", ""},
		{"injected flag", vars.Context{"flags": vars.List("-O", "-Weverything; rm -rf")}, "flags", "-Weverything; rm -rf"},
		{"link flags family", vars.Context{"linkFlags": vars.List("-ObjC", "-lfoo")}, "linkFlags", "-lfoo"},
		{"defines", vars.Context{"defines": vars.List("FOO", "BAR=1", "BAZ_2")}, "", ""},
		{"bad define", vars.Context{"defines": vars.List("A B")}, "defines", "A B"},
		{"symbols", vars.Context{"symbols": vars.List("MyExt")}, "", ""},
		{"skipped keys", vars.Context{"excludeLibs": vars.List("../anything"), "excludeSymbols": vars.List("$x")}, "", ""},
		{"frameworks use lib family", vars.Context{"weakFrameworks": vars.List("Metal"), "frameworks": vars.List("/System/Foo")}, "frameworks", "/System/Foo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate("test_extension", tt.ctx)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("want *ValidationError, got %v", err)
			}
			if ve.Extension != "test_extension" || ve.Field != tt.wantField || ve.Value != tt.wantValue {
				t.Errorf("want %s=%q, got %+v", tt.wantField, tt.wantValue, ve)
			}
		})
	}
}

func TestValidateUnknownField(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("ext", vars.Context{"compileCmd": vars.Str("rm -rf /")})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want *ValidationError, got %v", err)
	}
	if ve.Field != "compileCmd" || ve.Kind != "" {
		t.Errorf("want unknown field error, got %+v", ve)
	}
}
