package pods

import "testing"

func TestToC99Identifier(t *testing.T) {
	tests := []struct{ in, want string }{
		{"123FooBar", "_123FooBar"},
		{"NSData+zlib", "NSData"},
		{"Foo-Bar", "Foo_Bar"},
		{"Foo--Bar", "Foo_Bar"},
		{"Plain", "Plain"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ToC99Identifier(tt.in); got != tt.want {
				t.Errorf("want %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSanitizePodName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"UIAlertController+Blocks", `UIAlertController\+Blocks`},
		{"Firebase", "Firebase"},
		{"GoogleUtilities", "GoogleUtilities"},
		{"nanopb", "nanopb"},
	}
	for _, tt := range tests {
		if got := SanitizePodName(tt.in); got != tt.want {
			t.Errorf("%s: want %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestSplitSpecName(t *testing.T) {
	spec, ver := SplitSpecName("GoogleUtilities/Environment (7.10.0)")
	if spec != "GoogleUtilities/Environment" || ver != "7.10.0" {
		t.Errorf("got %q %q", spec, ver)
	}
	spec, ver = SplitSpecName("FirebaseCore (~> 8.0)")
	if spec != "FirebaseCore" || ver != "~> 8.0" {
		t.Errorf("got %q %q", spec, ver)
	}
	if RootName("GoogleUtilities/Environment") != "GoogleUtilities" {
		t.Error("want root pod name")
	}
}

func TestSwiftTarget(t *testing.T) {
	tests := []struct {
		platform string
		want     string
		wantErr  bool
	}{
		{"arm64-ios", "arm64-apple-ios", false},
		{"x86_64-ios", "x86_64-apple-ios-simulator", false},
		{"arm64-osx", "arm64-apple-macos", false},
		{"x86_64-macos", "x86_64-apple-macos", false},
		{"x86_64-linux", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			got, err := SwiftTarget(tt.platform)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("want error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("want %q, got %q", tt.want, got)
			}
		})
	}
}

func TestXcodePlatform(t *testing.T) {
	for platform, want := range map[string]string{
		"arm64-ios":  "iphoneos",
		"x86_64-ios": "iphonesimulator",
		"arm64-osx":  "macosx",
	} {
		if got, err := XcodePlatform(platform); err != nil || got != want {
			t.Errorf("%s: want %q, got %q (%v)", platform, want, got, err)
		}
	}
	if _, err := XcodePlatform("armv7-android"); err == nil {
		t.Error("want error for android")
	}
}
