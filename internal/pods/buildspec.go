package pods

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BuildSpecArgs locates the installed pods and the build tree.
type BuildSpecArgs struct {
	PodsDir       string
	BuildDir      string
	Platform      string // xcode platform name, e.g. iphoneos
	Configuration string // Debug or Release
	XCConfig      *XCConfigParser
}

// PodBuildSpec is a pod ready to be compiled: its spec settings merged
// with the xcconfig CocoaPods generated and the files matched on disk.
type PodBuildSpec struct {
	Name            string
	ModuleName      string
	Version         string
	PlatformVersion string

	Dir             string
	BuildDir        string
	IntermediateDir string
	HeaderMap       string
	VFSOverlay      string

	Settings BuildSettings

	SourceFiles      []string
	SwiftSourceFiles []string
	PublicHeaders    []string
	PrivateHeaders   []string
	SwiftHeader      string

	Resources          []string
	ResourceBundles    map[string][]string
	Frameworks         []string
	WeakFrameworks     []string
	VendoredFrameworks []string
	Libraries          []string

	XCConfig map[string]string
}

// NewBuildSpec prepares the build of the spec id from g and creates its
// build directories.
func NewBuildSpec(g *Graph, args BuildSpecArgs, id ID) (*PodBuildSpec, error) {
	s := g.Spec(id)
	podName := g.PodName(id)
	b := &PodBuildSpec{
		Name:               s.Name,
		ModuleName:         s.ModuleName,
		Version:            s.Version,
		PlatformVersion:    s.PlatformVersion,
		Dir:                filepath.Join(args.PodsDir, podName),
		BuildDir:           filepath.Join(args.BuildDir, args.Configuration+strings.ToLower(args.Platform), podName),
		Settings:           s.Settings.Clone(),
		ResourceBundles:    make(map[string][]string),
		Resources:          append([]string(nil), s.Resources...),
		Frameworks:         append([]string(nil), s.Frameworks...),
		WeakFrameworks:     append([]string(nil), s.WeakFrameworks...),
		VendoredFrameworks: append([]string(nil), s.VendoredFrameworks...),
		Libraries:          append([]string(nil), s.Libraries...),
	}
	for k, v := range s.ResourceBundles {
		b.ResourceBundles[k] = append([]string(nil), v...)
	}
	b.IntermediateDir = filepath.Join(b.BuildDir, "intermediate")
	if err := os.MkdirAll(b.IntermediateDir, 0o755); err != nil {
		return nil, err
	}
	if err := b.collect(s); err != nil {
		return nil, err
	}

	cfgPath := filepath.Join(args.PodsDir, "Target Support Files", b.Name,
		fmt.Sprintf("%s.%s.xcconfig", b.Name, strings.ToLower(args.Configuration)))
	cfg, err := args.XCConfig.Parse(b.Name, cfgPath)
	if err != nil {
		return nil, err
	}
	b.XCConfig = cfg
	ApplyXCConfig(cfg, &b.Settings)
	module := cfg["PRODUCT_MODULE_NAME"]
	if module == "" {
		module = b.Name
	}
	b.Settings.Flags.AddCommon("-fmodule-name=" + module)

	b.HeaderMap = filepath.Join(b.IntermediateDir, podName+".hmap")
	b.Settings.Flags.AddCommon("-iquote " + b.HeaderMap)
	b.Settings.Flags.Swift = append(b.Settings.Flags.Swift, "-Xcc -iquote -Xcc "+b.HeaderMap)
	b.VFSOverlay = filepath.Join(b.IntermediateDir, "all_files.yaml")
	b.Settings.Flags.AddCommon("-ivfsoverlay " + b.VFSOverlay)
	b.Settings.Flags.Swift = append(b.Settings.Flags.Swift, "-Xcc -ivfsoverlay -Xcc "+b.VFSOverlay)
	return b, nil
}

// AddSubSpec merges a selected subspec into the build.
func (b *PodBuildSpec) AddSubSpec(s *PodSpec) error {
	if err := b.collect(s); err != nil {
		return err
	}
	b.Settings.Merge(s.Settings)
	for k, v := range s.ResourceBundles {
		b.ResourceBundles[k] = appendUnique(b.ResourceBundles[k], v...)
	}
	b.Resources = appendUnique(b.Resources, s.Resources...)
	b.Frameworks = appendUnique(b.Frameworks, s.Frameworks...)
	b.WeakFrameworks = appendUnique(b.WeakFrameworks, s.WeakFrameworks...)
	b.VendoredFrameworks = appendUnique(b.VendoredFrameworks, s.VendoredFrameworks...)
	b.Libraries = appendUnique(b.Libraries, s.Libraries...)
	return nil
}

func (b *PodBuildSpec) collect(s *PodSpec) error {
	public, err := GlobAll(b.Dir, s.PublicHeaderFiles)
	if err != nil {
		return err
	}
	b.PublicHeaders = appendUnique(b.PublicHeaders, public...)

	files, err := GlobAll(b.Dir, s.SourceFiles)
	if err != nil {
		return err
	}
	for _, f := range files {
		switch {
		case strings.HasSuffix(f, ".swift"):
			b.SwiftSourceFiles = appendUnique(b.SwiftSourceFiles, f)
		case isHeaderFile(f):
			if !contains(b.PublicHeaders, f) {
				b.PrivateHeaders = appendUnique(b.PrivateHeaders, f)
			}
		default:
			b.SourceFiles = appendUnique(b.SourceFiles, f)
		}
	}

	if len(b.SwiftSourceFiles) > 0 {
		b.Settings.LinkFlags = appendUnique(b.Settings.LinkFlags, "-Wl,-rpath,/usr/lib/swift")
		if !contains(b.Settings.Flags.Swift, "-import-underlying-module") {
			b.Settings.Flags.Swift = append(b.Settings.Flags.Swift, "-import-underlying-module")
		}
		if b.SwiftHeader == "" {
			b.SwiftHeader = filepath.Join(b.BuildDir, "SwiftCompatibilityHeader", b.ModuleName+"-Swift.h")
		}
	}
	for _, f := range b.SourceFiles {
		if ext := filepath.Ext(f); ext == ".m" || ext == ".mm" {
			b.Settings.LinkFlags = appendUnique(b.Settings.LinkFlags, "-ObjC")
			break
		}
	}
	return nil
}
