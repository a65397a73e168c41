package pods

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// PodSpec is one pod or subspec as described by its JSON podspec,
// projected onto a single target platform.
type PodSpec struct {
	ID     ID
	Parent ID

	Name            string
	ModuleName      string
	Version         string
	PlatformVersion string

	Subspecs        []ID
	DefaultSubspecs []string
	Dependencies    []string

	Settings BuildSettings

	SourceFiles        []string
	PublicHeaderFiles  []string
	Resources          []string
	ResourceBundles    map[string][]string
	Frameworks         []string
	WeakFrameworks     []string
	VendoredFrameworks []string
	VendoredLibraries  []string
	Libraries          []string
	ModuleMap          string

	// ContainsFramework is set when a source pattern points into an
	// .xcframework. Framework headers are handled with the framework.
	ContainsFramework bool
}

// SpecOptions selects the platform a podspec is projected onto.
type SpecOptions struct {
	Platform          string // "ios" or "osx"
	DefaultMinVersion string
}

// ParseSpec decodes a JSON podspec and adds it, with all of its subspecs,
// to g. parent is NoID for a root pod.
func ParseSpec(g *Graph, data []byte, opts SpecOptions, parent ID) (ID, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return NoID, fmt.Errorf("failed to parse podspec json: %w", err)
	}
	return parseSpecObject(g, obj, opts, parent)
}

func parseSpecObject(g *Graph, obj map[string]any, opts SpecOptions, parent ID) (ID, error) {
	name := stringValue(obj["name"])
	if name == "" {
		return NoID, errors.New("podspec has no name")
	}
	plat := object(obj[opts.Platform])

	var p *PodSpec
	if parent != NoID {
		p = g.Spec(parent)
	}
	s := &PodSpec{
		Parent:          parent,
		Name:            name,
		ModuleName:      moduleName(name, stringValue(obj["module_name"]), stringValue(obj["header_dir"]), p),
		Version:         stringValue(obj["version"]),
		ResourceBundles: make(map[string][]string),
	}

	if p != nil {
		s.Version = p.Version
		s.PlatformVersion = p.PlatformVersion
		s.Settings.Flags = p.Settings.Flags.Clone()
		s.Settings.Defines = append([]string(nil), p.Settings.Defines...)
		s.Settings.LinkFlags = append([]string(nil), p.Settings.LinkFlags...)
		s.Settings.Flags.Remove("-fmodule-name=" + p.ModuleName)
	}
	if v := stringValue(object(obj["platforms"])[opts.Platform]); v != "" {
		s.PlatformVersion = v
	}
	if s.PlatformVersion == "" {
		s.PlatformVersion = opts.DefaultMinVersion
	}

	for _, key := range []string{"pod_target_xcconfig", "user_target_xcconfig", "xcconfig"} {
		applyConfigObject(object(obj[key]), opts.Platform, &s.Settings)
		applyConfigObject(object(plat[key]), opts.Platform, &s.Settings)
	}

	// requires_arc may also be a file pattern list, which counts as true.
	// Subspecs inherit the parent setting unless they set their own.
	if v, set := obj["requires_arc"]; set || p == nil {
		arc, noArc := "-fobjc-arc", "-fno-objc-arc"
		if b, ok := v.(bool); ok && !b {
			arc, noArc = noArc, arc
		}
		s.Settings.Flags.Remove(noArc)
		s.Settings.Flags.ObjC = appendUnique(s.Settings.Flags.ObjC, arc)
		s.Settings.Flags.ObjCPP = appendUnique(s.Settings.Flags.ObjCPP, arc)
	}

	for _, o := range []map[string]any{obj, plat} {
		for _, f := range stringList(o["compiler_flags"]) {
			s.Settings.Flags.AddCommon(strings.Fields(f)...)
		}
		s.Resources = appendUnique(s.Resources, ExpandAll(stringList(o["resource"]))...)
		s.Resources = appendUnique(s.Resources, ExpandAll(stringList(o["resources"]))...)
		s.Frameworks = appendUnique(s.Frameworks, stringList(o["frameworks"])...)
		s.WeakFrameworks = appendUnique(s.WeakFrameworks, stringList(o["weak_frameworks"])...)
		s.VendoredFrameworks = appendUnique(s.VendoredFrameworks, ExpandAll(stringList(o["vendored_frameworks"]))...)
		s.VendoredLibraries = appendUnique(s.VendoredLibraries, ExpandAll(stringList(o["vendored_libraries"]))...)
		s.Libraries = appendUnique(s.Libraries, stringList(o["libraries"])...)
		s.PublicHeaderFiles = appendUnique(s.PublicHeaderFiles, ExpandAll(stringList(o["public_header_files"]))...)
		for _, src := range ExpandAll(stringList(o["source_files"])) {
			if strings.Contains(src, ".xcframework/") {
				s.ContainsFramework = true
				continue
			}
			s.SourceFiles = appendUnique(s.SourceFiles, src)
		}
		for bundle, files := range object(o["resource_bundles"]) {
			s.ResourceBundles[bundle] = appendUnique(s.ResourceBundles[bundle], ExpandAll(stringList(files))...)
		}
		if mm, ok := o["module_map"]; ok {
			s.ModuleMap = stringValue(mm)
		}
	}
	if strings.EqualFold(s.ModuleMap, "false") {
		s.ModuleMap = ""
	}
	if contains(s.Libraries, "c++") {
		s.Settings.Flags.CPP = appendUnique(s.Settings.Flags.CPP, "-std=c++11")
	}

	s.DefaultSubspecs = stringList(obj["default_subspecs"])
	deps := object(obj["dependencies"])
	for dep := range deps {
		s.Dependencies = append(s.Dependencies, dep)
	}
	sort.Strings(s.Dependencies)

	id := g.add(s)

	subs, _ := obj["subspecs"].([]any)
	for i, raw := range subs {
		sub := object(raw)
		if sub == nil {
			return NoID, fmt.Errorf("pod %s: subspec %d is not an object", name, i)
		}
		child, err := parseSpecObject(g, sub, opts, id)
		if err != nil {
			return NoID, fmt.Errorf("pod %s: %w", name, err)
		}
		s.Subspecs = append(s.Subspecs, child)
	}
	return id, nil
}

// applyConfigObject applies an xcconfig dictionary from a podspec and its
// nested platform dictionary.
func applyConfigObject(cfg map[string]any, platform string, s *BuildSettings) {
	if cfg == nil {
		return
	}
	flat := make(map[string]string, len(cfg))
	for k, v := range cfg {
		if _, nested := v.(map[string]any); nested {
			continue
		}
		flat[k] = strings.Join(stringList(v), " ")
	}
	ApplyXCConfig(flat, s)
	if nested := object(cfg[platform]); nested != nil {
		applyConfigObject(nested, platform, s)
	}
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// stringList accepts a single value wherever a list is expected.
func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, stringValue(e))
		}
		return out
	default:
		return []string{stringValue(t)}
	}
}
