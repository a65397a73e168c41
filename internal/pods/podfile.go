package pods

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/meganerd/extender/internal/tmpl"
	"github.com/meganerd/extender/internal/vars"
)

// PodfileError reports a Podfile that cannot be parsed or merged.
type PodfileError struct {
	File string
	Msg  string
}

func (e *PodfileError) Error() string {
	if e.File == "" {
		return e.Msg
	}
	return e.File + ": " + e.Msg
}

// Podfile is the subset of a Podfile the service understands.
type Podfile struct {
	Platform      string
	MinVersion    string
	UseFrameworks bool
	// Definitions holds the "pod ..." lines verbatim.
	Definitions []string
	Names       []string
}

var podLine = regexp.MustCompile(`^pod '([\w|-]+)(/[^']*)?'.*`)

// ParsePodfile reads a Podfile.
func ParsePodfile(path string) (*Podfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParsePodfileData(data)
	if pe, ok := err.(*PodfileError); ok {
		pe.File = path
	}
	return p, err
}

// ParsePodfileData parses Podfile content. Lines other than platform,
// use_frameworks! and pod are ignored.
func ParsePodfileData(data []byte) (*Podfile, error) {
	p := &Podfile{UseFrameworks: true}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "platform :"):
			if p.Platform != "" {
				return nil, &PodfileError{Msg: "'platform' is already defined."}
			}
			switch {
			case strings.Contains(line, ":ios"):
				p.Platform = "ios"
			case strings.Contains(line, ":osx"):
				p.Platform = "osx"
			default:
				return nil, &PodfileError{Msg: "Unsupported 'platform'"}
			}
			v := strings.TrimPrefix(line, "platform :"+p.Platform)
			v = strings.NewReplacer(",", "", "'", "", `"`, "").Replace(v)
			p.MinVersion = strings.TrimSpace(v)
		case strings.HasPrefix(line, "use_frameworks!"):
			p.UseFrameworks = true
		default:
			if m := podLine.FindStringSubmatch(line); m != nil {
				p.Definitions = appendUnique(p.Definitions, line)
				p.Names = appendUnique(p.Names, m[1])
			}
		}
	}
	return p, sc.Err()
}

// Merge folds o into p: the highest minimum version wins, platforms must
// agree and pod lists are unioned.
func (p *Podfile) Merge(o *Podfile) error {
	switch {
	case p.MinVersion == "":
		p.MinVersion = o.MinVersion
	case o.MinVersion != "":
		newer, err := isNewer(o.MinVersion, p.MinVersion)
		if err != nil {
			return err
		}
		if newer {
			p.MinVersion = o.MinVersion
		}
	}
	switch {
	case p.Platform == "":
		p.Platform = o.Platform
	case o.Platform != "" && o.Platform != p.Platform:
		return &PodfileError{Msg: fmt.Sprintf("Mismatch 'platform': %s!=%s", p.Platform, o.Platform)}
	}
	p.UseFrameworks = p.UseFrameworks || o.UseFrameworks
	p.Definitions = appendUnique(p.Definitions, o.Definitions...)
	p.Names = appendUnique(p.Names, o.Names...)
	return nil
}

func isNewer(a, b string) (bool, error) {
	va, err := version.NewVersion(a)
	if err != nil {
		return false, &PodfileError{Msg: fmt.Sprintf("invalid platform version %q", a)}
	}
	vb, err := version.NewVersion(b)
	if err != nil {
		return false, &PodfileError{Msg: fmt.Sprintf("invalid platform version %q", b)}
	}
	return va.GreaterThan(vb), nil
}

// MergePodfiles parses and merges the Podfiles at paths on top of the
// platform defaults.
func MergePodfiles(platform, defaultMinVersion string, paths []string) (*Podfile, error) {
	out := &Podfile{Platform: platform, MinVersion: defaultMinVersion}
	for _, path := range paths {
		p, err := ParsePodfile(path)
		if err != nil {
			return nil, err
		}
		if err := out.Merge(p); err != nil {
			if pe, ok := err.(*PodfileError); ok {
				pe.File = path
			}
			return nil, err
		}
	}
	return out, nil
}

const mainPodfileTemplate = `platform :{{PLATFORM}}, '{{PLATFORM_VERSION}}'
install! 'cocoapods', integrate_targets: false
{{USE_FRAMEWORKS}}

target 'ExtenderPods' do
{{#PODS}}
  {{.}}
{{/PODS}}
end
`

// Render returns the content of the combined Podfile.
func (p *Podfile) Render() (string, error) {
	useFrameworks := ""
	if p.UseFrameworks {
		useFrameworks = "use_frameworks!"
	}
	return tmpl.Render(mainPodfileTemplate, vars.Context{
		"PLATFORM":         vars.Str(p.Platform),
		"PLATFORM_VERSION": vars.Str(p.MinVersion),
		"USE_FRAMEWORKS":   vars.Str(useFrameworks),
		"PODS":             vars.List(p.Definitions...),
	})
}
