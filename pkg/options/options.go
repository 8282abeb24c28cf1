package options

import (
	"sort"
	"strings"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/formula"
)

const (
	withPrefix    = "--with-"
	withoutPrefix = "--without-"
)

// Override is one user supplied option switch.
type Override struct {
	Name   formula.OptionName
	Enable bool
}

// Flag renders the override the way it is written on the command line.
func (o Override) Flag() string {
	if o.Enable {
		return withPrefix + string(o.Name)
	}
	return withoutPrefix + string(o.Name)
}

// ParseFlag recognises a single --with-x or --without-x argument.
func ParseFlag(arg string) (Override, bool) {
	switch {
	case strings.HasPrefix(arg, withoutPrefix) && len(arg) > len(withoutPrefix):
		return Override{Name: formula.OptionName(arg[len(withoutPrefix):]), Enable: false}, true
	case strings.HasPrefix(arg, withPrefix) && len(arg) > len(withPrefix):
		return Override{Name: formula.OptionName(arg[len(withPrefix):]), Enable: true}, true
	}
	return Override{}, false
}

// SplitFlags removes every --with-x / --without-x argument from args and
// returns them as overrides, in order, along with the remaining arguments.
// Arguments after a "--" terminator are left alone.
func SplitFlags(args []string) ([]Override, []string) {
	var overrides []Override
	rest := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			rest = append(rest, args[i:]...)
			break
		}
		if o, ok := ParseFlag(arg); ok {
			overrides = append(overrides, o)
			continue
		}
		rest = append(rest, arg)
	}
	return overrides, rest
}

// FromNames builds overrides from plain option names, as given to the
// repeatable --with / --without flags.
func FromNames(with, without []string) []Override {
	overrides := make([]Override, 0, len(with)+len(without))
	for _, name := range with {
		overrides = append(overrides, Override{Name: formula.OptionName(name), Enable: true})
	}
	for _, name := range without {
		overrides = append(overrides, Override{Name: formula.OptionName(name), Enable: false})
	}
	return overrides
}

// ResolvedOptionSet is the final value of every declared option of one
// formula. It is never modified after Resolve returns it.
type ResolvedOptionSet struct {
	order    []formula.OptionName
	values   map[formula.OptionName]bool
	explicit map[formula.OptionName]bool
}

// Enabled reports whether the option is on. Undeclared names are off.
func (s *ResolvedOptionSet) Enabled(name formula.OptionName) bool {
	if s == nil {
		return false
	}
	return s.values[name]
}

// Declared reports whether the option exists in the set.
func (s *ResolvedOptionSet) Declared(name formula.OptionName) bool {
	if s == nil {
		return false
	}
	_, ok := s.values[name]
	return ok
}

// Explicit reports whether the user set the option.
func (s *ResolvedOptionSet) Explicit(name formula.OptionName) bool {
	if s == nil {
		return false
	}
	return s.explicit[name]
}

// All returns every declared option in declaration order.
func (s *ResolvedOptionSet) All() []formula.OptionName {
	if s == nil {
		return nil
	}
	out := make([]formula.OptionName, len(s.order))
	copy(out, s.order)
	return out
}

// Names returns the enabled options in declaration order.
func (s *ResolvedOptionSet) Names() []formula.OptionName {
	if s == nil {
		return nil
	}
	var out []formula.OptionName
	for _, name := range s.order {
		if s.values[name] {
			out = append(out, name)
		}
	}
	return out
}

// Map returns a copy of the option values keyed by name.
func (s *ResolvedOptionSet) Map() map[string]bool {
	out := make(map[string]bool)
	if s == nil {
		return out
	}
	for name, v := range s.values {
		out[string(name)] = v
	}
	return out
}

// Flags renders the explicitly set options as command line flags, in
// declaration order.
func (s *ResolvedOptionSet) Flags() []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, name := range s.order {
		if s.explicit[name] {
			out = append(out, Override{Name: name, Enable: s.values[name]}.Flag())
		}
	}
	return out
}

func (s *ResolvedOptionSet) String() string {
	if s == nil {
		return ""
	}
	parts := make([]string, 0, len(s.order))
	for _, name := range s.order {
		if s.values[name] {
			parts = append(parts, "+"+string(name))
		} else {
			parts = append(parts, "-"+string(name))
		}
	}
	return strings.Join(parts, " ")
}

// Defaults resolves the declared options without any overrides. It fails
// with CONFLICTING_OPTIONS when a group has more than one member on by
// default.
func Defaults(declared []formula.Option) (*ResolvedOptionSet, error) {
	return Resolve(declared, nil)
}

// Resolve merges the declared defaults with the user's overrides.
//
// An override naming an undeclared option fails with UNKNOWN_OPTION.
// Enabling and disabling the same option, or explicitly enabling two
// options of the same group, fails with CONFLICTING_OPTIONS. Explicitly
// enabling one member of a group turns its default-on siblings off.
func Resolve(declared []formula.Option, overrides []Override) (*ResolvedOptionSet, error) {
	set := &ResolvedOptionSet{
		order:    make([]formula.OptionName, 0, len(declared)),
		values:   make(map[formula.OptionName]bool, len(declared)),
		explicit: make(map[formula.OptionName]bool),
	}
	groups := map[string][]formula.OptionName{}
	for _, opt := range declared {
		set.order = append(set.order, opt.Name)
		set.values[opt.Name] = opt.Default
		if opt.Group != "" {
			groups[opt.Group] = append(groups[opt.Group], opt.Name)
		}
	}

	requested := map[formula.OptionName]bool{}
	for _, o := range overrides {
		if _, ok := set.values[o.Name]; !ok {
			return nil, errors.UnknownOption(string(o.Name))
		}
		if prev, seen := requested[o.Name]; seen && prev != o.Enable {
			return nil, errors.ConflictingOptions(string(o.Name), []string{
				withPrefix + string(o.Name),
				withoutPrefix + string(o.Name),
			})
		}
		requested[o.Name] = o.Enable
	}
	for name, enable := range requested {
		set.values[name] = enable
		set.explicit[name] = true
	}

	groupNames := make([]string, 0, len(groups))
	for g := range groups {
		groupNames = append(groupNames, g)
	}
	sort.Strings(groupNames)

	for _, group := range groupNames {
		members := groups[group]
		var chosen []string
		for _, name := range members {
			if requested[name] {
				chosen = append(chosen, string(name))
			}
		}
		if len(chosen) > 1 {
			return nil, errors.ConflictingOptions(group, chosen)
		}
		if len(chosen) == 1 {
			for _, name := range members {
				if string(name) != chosen[0] && !set.explicit[name] {
					set.values[name] = false
				}
			}
		}
		var on []string
		for _, name := range members {
			if set.values[name] {
				on = append(on, string(name))
			}
		}
		if len(on) > 1 {
			return nil, errors.ConflictingOptions(group, on)
		}
	}

	return set, nil
}
