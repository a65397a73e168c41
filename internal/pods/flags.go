package pods

import (
	"strings"
)

// LanguageSet tracks compiler flags per source language. The C family
// buckets are ordered sets; swift keeps every flag in order.
type LanguageSet struct {
	C      []string
	CPP    []string
	ObjC   []string
	ObjCPP []string
	Swift  []string
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		if !contains(dst, it) {
			dst = append(dst, it)
		}
	}
	return dst
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, e := range list {
		if e != s {
			out = append(out, e)
		}
	}
	return out
}

// AddCommon adds flags to the four C family buckets.
func (l *LanguageSet) AddCommon(flags ...string) {
	l.C = appendUnique(l.C, flags...)
	l.CPP = appendUnique(l.CPP, flags...)
	l.ObjC = appendUnique(l.ObjC, flags...)
	l.ObjCPP = appendUnique(l.ObjCPP, flags...)
}

// Remove drops flag from the C family buckets.
func (l *LanguageSet) Remove(flag string) {
	l.C = remove(l.C, flag)
	l.CPP = remove(l.CPP, flag)
	l.ObjC = remove(l.ObjC, flag)
	l.ObjCPP = remove(l.ObjCPP, flag)
}

// Merge adds every flag of o.
func (l *LanguageSet) Merge(o LanguageSet) {
	l.C = appendUnique(l.C, o.C...)
	l.CPP = appendUnique(l.CPP, o.CPP...)
	l.ObjC = appendUnique(l.ObjC, o.ObjC...)
	l.ObjCPP = appendUnique(l.ObjCPP, o.ObjCPP...)
	l.Swift = append(l.Swift, o.Swift...)
}

// Clone returns a deep copy.
func (l LanguageSet) Clone() LanguageSet {
	return LanguageSet{
		C:      append([]string(nil), l.C...),
		CPP:    append([]string(nil), l.CPP...),
		ObjC:   append([]string(nil), l.ObjC...),
		ObjCPP: append([]string(nil), l.ObjCPP...),
		Swift:  append([]string(nil), l.Swift...),
	}
}

// BuildSettings collects the settings an xcconfig contributes.
type BuildSettings struct {
	Flags                LanguageSet
	Defines              []string
	LinkFlags            []string
	IncludePaths         []string
	FrameworkSearchPaths []string
}

// Merge adds every setting of o.
func (b *BuildSettings) Merge(o BuildSettings) {
	b.Flags.Merge(o.Flags)
	b.Defines = appendUnique(b.Defines, o.Defines...)
	b.LinkFlags = append(b.LinkFlags, o.LinkFlags...)
	b.IncludePaths = appendUnique(b.IncludePaths, o.IncludePaths...)
	b.FrameworkSearchPaths = appendUnique(b.FrameworkSearchPaths, o.FrameworkSearchPaths...)
}

// Clone returns a deep copy.
func (b BuildSettings) Clone() BuildSettings {
	return BuildSettings{
		Flags:                b.Flags.Clone(),
		Defines:              append([]string(nil), b.Defines...),
		LinkFlags:            append([]string(nil), b.LinkFlags...),
		IncludePaths:         append([]string(nil), b.IncludePaths...),
		FrameworkSearchPaths: append([]string(nil), b.FrameworkSearchPaths...),
	}
}

var cxxStandards = map[string]string{
	"c++98":   "-std=c++98",
	"c++11":   "-std=c++11",
	"c++0x":   "-std=c++11",
	"gnu++11": "-std=gnu++11",
	"gnu++0x": "-std=gnu++11",
	"c++14":   "-std=c++14",
	"gnu++14": "-std=gnu++17",
	"c++17":   "-std=c++17",
	"gnu++17": "-std=gnu++17",
	"c++20":   "-std=c++20",
	"gnu++20": "-std=gnu++20",
}

var cStandards = map[string]string{
	"ansi":  "-ansi",
	"c89":   "-std=c89",
	"gnu89": "-std=gnu89",
	"c99":   "-std=c99",
	"c11":   "-std=c11",
	"gnu11": "-std=gnu11",
}

// switchFlags maps "KEY=VALUE" to the flags it enables and the buckets
// they go to.
var switchFlags = []struct {
	key, value string
	flag       string
	apply      func(l *LanguageSet, flag string)
}{
	{"GCC_ENABLE_CPP_EXCEPTIONS", "YES", "-fcxx-exceptions", cppOnly},
	{"GCC_ENABLE_CPP_EXCEPTIONS", "NO", "-fno-cxx-exceptions", cppOnly},
	{"GCC_ENABLE_EXCEPTIONS", "YES", "-fexceptions", common},
	{"GCC_ENABLE_EXCEPTIONS", "NO", "-fno-exceptions", common},
	{"GCC_ENABLE_OBJC_EXCEPTIONS", "YES", "-fobjc-exceptions", objcFamily},
	{"GCC_ENABLE_OBJC_EXCEPTIONS", "NO", "-fno-objc-exceptions", objcFamily},
	{"GCC_ENABLE_CPP_RTTI", "YES", "-frtti", cppOnly},
	{"GCC_ENABLE_CPP_RTTI", "NO", "-fno-rtti", cppOnly},
	{"GCC_ENABLE_OBJC_GC", "supported", "-fobjc-gc", objcFamily},
	{"GCC_ENABLE_OBJC_GC", "required", "-fobjc-gc-only", objcFamily},
	{"GCC_ENABLE_ASM_KEYWORD", "YES", "-fasm", common},
	{"GCC_ENABLE_ASM_KEYWORD", "NO", "-fno-asm", common},
}

func cppOnly(l *LanguageSet, f string) { l.CPP = appendUnique(l.CPP, f) }
func common(l *LanguageSet, f string)  { l.AddCommon(f) }

func objcFamily(l *LanguageSet, f string) {
	l.ObjC = appendUnique(l.ObjC, f)
	l.ObjCPP = appendUnique(l.ObjCPP, f)
}

// arguments splits an xcconfig value on whitespace and drops
// "$(inherited)".
func arguments(v string) []string {
	var out []string
	for _, f := range strings.Fields(v) {
		if f == "$(inherited)" || f == "${inherited}" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// paths is arguments with surrounding quotes removed.
func paths(v string) []string {
	out := arguments(v)
	for i, p := range out {
		out[i] = strings.Trim(p, `"`)
	}
	return out
}

var unescaper = strings.NewReplacer(`\"`, `"`, `\'`, `'`, `\\`, `\`)

// ApplyXCConfig maps xcconfig build settings onto compiler and linker
// flags.
func ApplyXCConfig(cfg map[string]string, s *BuildSettings) {
	has := func(k string) bool { return strings.TrimSpace(cfg[k]) != "" }
	is := func(k, v string) bool { return has(k) && cfg[k] == v }

	for _, d := range arguments(cfg["GCC_PREPROCESSOR_DEFINITIONS"]) {
		s.Defines = appendUnique(s.Defines, unescaper.Replace(d))
	}
	s.LinkFlags = append(s.LinkFlags, arguments(cfg["OTHER_LDFLAGS"])...)
	if cflags := arguments(cfg["OTHER_CFLAGS"]); len(cflags) > 0 {
		s.Flags.C = appendUnique(s.Flags.C, cflags...)
		s.Flags.ObjC = appendUnique(s.Flags.ObjC, cflags...)
	}
	if has("CLANG_CXX_LANGUAGE_STANDARD") {
		flag, ok := cxxStandards[cfg["CLANG_CXX_LANGUAGE_STANDARD"]]
		if !ok {
			flag = "-std=gnu++98"
		}
		s.Flags.CPP = appendUnique(s.Flags.CPP, flag)
		s.Flags.ObjCPP = appendUnique(s.Flags.ObjCPP, flag)
	}
	if has("GCC_C_LANGUAGE_STANDARD") {
		flag, ok := cStandards[cfg["GCC_C_LANGUAGE_STANDARD"]]
		if !ok {
			flag = "-std=gnu99"
		}
		s.Flags.C = appendUnique(s.Flags.C, flag)
	}
	if has("CLANG_CXX_LIBRARY") {
		flag := "-stdlib=libstdlibc++"
		if cfg["CLANG_CXX_LIBRARY"] == "libc++" {
			flag = "-stdlib=libc++"
		}
		s.Flags.CPP = appendUnique(s.Flags.CPP, flag)
		s.Flags.ObjCPP = appendUnique(s.Flags.ObjCPP, flag)
	}
	for _, sw := range switchFlags {
		if is(sw.key, sw.value) {
			sw.apply(&s.Flags, sw.flag)
		}
	}
	if is("APPLICATION_EXTENSION_API_ONLY", "YES") {
		s.Flags.AddCommon("-fapplication-extension")
		s.Flags.Swift = append(s.Flags.Swift, "-application-extension")
	}
	for _, p := range paths(cfg["SWIFT_INCLUDE_PATHS"]) {
		s.Flags.Swift = append(s.Flags.Swift, "-I"+p, "-Xcc -I"+p)
	}
	s.Flags.Swift = append(s.Flags.Swift, arguments(cfg["OTHER_SWIFT_FLAGS"])...)
	s.IncludePaths = appendUnique(s.IncludePaths, paths(cfg["HEADER_SEARCH_PATHS"])...)
	s.FrameworkSearchPaths = appendUnique(s.FrameworkSearchPaths, paths(cfg["FRAMEWORK_SEARCH_PATHS"])...)
}
