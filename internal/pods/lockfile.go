package pods

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// LockEntry is one resolved spec of a Podfile.lock.
type LockEntry struct {
	Spec    string // "Pod/Sub"
	Version string
	Deps    []string // spec names, versions stripped
}

// Lockfile is the PODS section of a Podfile.lock.
type Lockfile struct {
	Entries  []LockEntry
	versions map[string]string
	deps     map[string][]string
}

// ParseLockfile decodes Podfile.lock content. Each PODS item is either
// "Name (version)" or a single key map from that to its dependencies.
func ParseLockfile(data []byte) (*Lockfile, error) {
	var raw struct {
		Pods []any `yaml:"PODS"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing Podfile.lock: %w", err)
	}
	l := &Lockfile{versions: make(map[string]string), deps: make(map[string][]string)}
	for _, item := range raw.Pods {
		switch t := item.(type) {
		case string:
			l.add(t, nil)
		case map[string]any:
			for record, v := range t {
				deps, ok := v.([]any)
				if !ok && v != nil {
					return nil, fmt.Errorf("Podfile.lock: dependencies of %q are not a list", record)
				}
				var names []string
				for _, d := range deps {
					spec, _ := SplitSpecName(fmt.Sprint(d))
					names = append(names, spec)
				}
				l.add(record, names)
			}
		default:
			return nil, fmt.Errorf("Podfile.lock: unexpected PODS entry %v", item)
		}
	}
	return l, nil
}

func (l *Lockfile) add(record string, deps []string) {
	spec, ver := SplitSpecName(record)
	l.versions[RootName(spec)] = ver
	l.deps[spec] = deps
	l.Entries = append(l.Entries, LockEntry{Spec: spec, Version: ver, Deps: deps})
}

// Version returns the locked version of a root pod.
func (l *Lockfile) Version(pod string) (string, bool) {
	v, ok := l.versions[pod]
	return v, ok
}

// InstallOrder returns every spec with its dependencies before it, in
// first-seen order.
func (l *Lockfile) InstallOrder() []string {
	var out []string
	seen := make(map[string]bool)
	var visit func(spec string)
	visit = func(spec string) {
		if seen[spec] {
			return
		}
		seen[spec] = true
		for _, d := range l.deps[spec] {
			visit(d)
		}
		out = append(out, spec)
	}
	for _, e := range l.Entries {
		visit(e.Spec)
	}
	return out
}
