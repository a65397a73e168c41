package pods

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Some pods join parent and subspec module names without a separator.
var moduleNameExceptions = map[string]bool{"KSCrash": true}

var (
	leadingDigit = regexp.MustCompile(`^([0-9])`)
	plusSuffix   = regexp.MustCompile(`[+].*`)
	nonIdent     = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	underscores  = regexp.MustCompile(`_+`)
)

// ToC99Identifier turns a pod name into a C99 extended identifier:
// "123FooBar" -> "_123FooBar", "NSData+zlib" -> "NSData",
// "Foo-Bar" -> "Foo_Bar".
func ToC99Identifier(s string) string {
	s = leadingDigit.ReplaceAllString(s, "_$1")
	s = plusSuffix.ReplaceAllString(s, "")
	s = nonIdent.ReplaceAllString(s, "_")
	return underscores.ReplaceAllString(s, "_")
}

// moduleName derives the module name of a spec. An explicit module_name
// wins, then header_dir, then the sanitized spec name. Subspecs prefix it
// with the parent module name.
func moduleName(name, explicit, headerDir string, parent *PodSpec) string {
	if explicit != "" {
		return explicit
	}
	if headerDir != "" {
		return ToC99Identifier(headerDir)
	}
	fixed := ToC99Identifier(name)
	if parent == nil {
		return fixed
	}
	sep := "_"
	if moduleNameExceptions[parent.Name] {
		sep = ""
	}
	return parent.ModuleName + sep + fixed
}

// SanitizePodName escapes a pod name for use in "pod spec cat --regex".
func SanitizePodName(name string) string {
	return strings.ReplaceAll(name, "+", `\+`)
}

// SplitSpecName splits a lock file entry such as
// "GoogleUtilities/Environment (7.10.0)" into its spec path and version.
func SplitSpecName(entry string) (spec, version string) {
	entry = strings.TrimSpace(entry)
	if i := strings.Index(entry, " ("); i >= 0 {
		version = strings.TrimSuffix(entry[i+2:], ")")
		entry = entry[:i]
	}
	return entry, strings.TrimSpace(version)
}

// RootName returns the pod part of a spec path: "Pod/Sub" -> "Pod".
func RootName(spec string) string {
	name, _, _ := strings.Cut(spec, "/")
	return name
}

// SwiftTarget returns the swiftc target triple for an Apple platform.
func SwiftTarget(platform string) (string, error) {
	arch, osName, ok := strings.Cut(platform, "-")
	if !ok {
		return "", fmt.Errorf("unsupported platform %q", platform)
	}
	switch osName {
	case "ios":
		if arch == "x86_64" {
			return "x86_64-apple-ios-simulator", nil
		}
		return arch + "-apple-ios", nil
	case "osx", "macos":
		return arch + "-apple-macos", nil
	}
	return "", fmt.Errorf("unsupported platform %q", platform)
}

// PodPlatform maps a build platform to the CocoaPods platform name.
func PodPlatform(platform string) (string, error) {
	switch {
	case strings.HasSuffix(platform, "-ios") || platform == "ios":
		return "ios", nil
	case strings.HasSuffix(platform, "-osx") || strings.HasSuffix(platform, "-macos") || platform == "osx":
		return "osx", nil
	}
	return "", fmt.Errorf("unsupported platform %q", platform)
}

func isHeaderFile(name string) bool {
	switch filepath.Ext(name) {
	case ".h", ".hh", ".hpp", ".hxx", ".def":
		return true
	}
	return false
}

// XcodePlatform returns the xcode platform name used in build dir names
// and xcconfig variables.
func XcodePlatform(platform string) (string, error) {
	switch platform {
	case "arm64-ios", "armv7-ios":
		return "iphoneos", nil
	case "x86_64-ios", "arm64-ios-simulator":
		return "iphonesimulator", nil
	}
	if p, err := PodPlatform(platform); err == nil && p == "osx" {
		return "macosx", nil
	}
	return "", fmt.Errorf("unsupported platform %q", platform)
}
