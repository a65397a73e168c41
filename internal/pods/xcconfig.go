package pods

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ParseXCConfigLine parses one "KEY[flavour] = value" line of an xcconfig
// file. Comments, blank lines and #include directives yield ok == false.
// Build flavours are not supported and are skipped.
func ParseXCConfigLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	line = strings.TrimRight(line, ";")
	if i := strings.Index(line, "//"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}

	i := 0
	for i < len(line) && isKeyChar(line[i]) {
		i++
	}
	key = line[:i]
	inFlavour := false
	for ; i < len(line); i++ {
		c := line[i]
		switch {
		case inFlavour:
			inFlavour = c != ']'
		case c == '[':
			inFlavour = true
		case c == '=':
			return key, strings.TrimSpace(line[i+1:]), key != ""
		}
	}
	return "", "", false
}

func isKeyChar(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

var substitution = regexp.MustCompile(`\$[({](\w+)[)}]`)

// maxSubstitutions bounds expansion of self referencing values.
const maxSubstitutions = 64

// PostProcessXCConfigValue removes "$(inherited)" and substitutes every
// "$(KEY)" and "${KEY}" reference with its value from vars, repeatedly, so
// references introduced by a substitution are expanded as well. Unknown
// references are left as they are.
func PostProcessXCConfigValue(value string, vars map[string]string) string {
	parts := arguments(value)
	for i, p := range parts {
		for n := 0; n < maxSubstitutions; n++ {
			replaced := false
			p = substitution.ReplaceAllStringFunc(p, func(m string) string {
				name := substitution.FindStringSubmatch(m)[1]
				if v, ok := vars[name]; ok {
					replaced = true
					return v
				}
				return m
			})
			if !replaced {
				break
			}
		}
		parts[i] = p
	}
	return strings.Join(parts, " ")
}

// XCConfigParser reads the xcconfig files CocoaPods generates for each pod
// target.
type XCConfigParser struct {
	BuildDir      string
	PodsDir       string
	Platform      string // xcode platform name such as iphoneos or macosx
	Configuration string // Debug or Release
	Arch          string
}

// BaseVariables returns the build settings Xcode would define for podName.
func (p *XCConfigParser) BaseVariables(podName string) map[string]string {
	return map[string]string{
		"BUILD_DIR":               p.BuildDir + "/build",
		"EFFECTIVE_PLATFORM_NAME": p.Platform,
		"PLATFORM_NAME":           p.Platform,
		"CONFIGURATION":           p.Configuration,
		"SRCROOT":                 p.PodsDir,
		"PODS_ROOT":               p.PodsDir,
		"MODULEMAP_FILE":          fmt.Sprintf("Headers/Public/%s/%s.modulemap", podName, podName),
		"DEVELOPMENT_LANGUAGE":    "en",
		"TOOLCHAIN_DIR":           os.Getenv("XCTOOLCHAIN_PATH"),
		"ARCHS":                   p.Arch,
	}
}

// Parse reads an xcconfig file and returns every setting, including the
// base variables, with references expanded.
func (p *XCConfigParser) Parse(podName, path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading xcconfig for %s: %w", podName, err)
	}
	return p.ParseData(podName, data), nil
}

// ParseData is Parse for in-memory content.
func (p *XCConfigParser) ParseData(podName string, data []byte) map[string]string {
	all := p.BaseVariables(podName)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if k, v, ok := ParseXCConfigLine(sc.Text()); ok {
			all[k] = v
		}
	}
	out := make(map[string]string, len(all))
	for k, v := range all {
		out[k] = PostProcessXCConfigValue(v, all)
	}
	return out
}
