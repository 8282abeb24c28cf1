package formula

import (
	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// SkeletonSpec is what is known about a package before its formula is
// written.
type SkeletonSpec struct {
	Name    string
	URL     string
	SHA256  string
	Version string
}

type skeletonPhase struct {
	Name     string   `toml:"name" yaml:"name"`
	Command  []string `toml:"command" yaml:"command,flow"`
	Parallel *bool    `toml:"parallel,omitempty" yaml:"parallel,omitempty"`
}

type skeletonTest struct {
	Name    string   `toml:"name" yaml:"name"`
	Kind    string   `toml:"kind" yaml:"kind"`
	Command []string `toml:"command" yaml:"command,flow"`
}

type skeleton struct {
	Name     string          `toml:"name" yaml:"name"`
	Desc     string          `toml:"desc" yaml:"desc"`
	Homepage string          `toml:"homepage" yaml:"homepage"`
	Version  string          `toml:"version" yaml:"version"`
	URL      string          `toml:"url,omitempty" yaml:"url,omitempty"`
	SHA256   string          `toml:"sha256,omitempty" yaml:"sha256,omitempty"`
	Phases   []skeletonPhase `toml:"phases" yaml:"phases"`
	Tests    []skeletonTest  `toml:"test" yaml:"test"`
}

// Skeleton renders a starting formula for an autotools style package.
// The result always parses back into a valid formula.
func Skeleton(spec SkeletonSpec, format Format) ([]byte, error) {
	if !ValidName(spec.Name) {
		return nil, errors.Newf(errors.ErrInvalidInput, "invalid formula name %q", spec.Name)
	}
	version := spec.Version
	if version == "" {
		version = VersionFromURL(spec.URL)
	}
	if version == "" {
		version = "0.1.0"
	}

	serial := false
	s := skeleton{
		Name:    spec.Name,
		Version: version,
		URL:     spec.URL,
		SHA256:  spec.SHA256,
		Phases: []skeletonPhase{
			{Name: "configure", Command: []string{"./configure", "--prefix=${prefix}", "${args}"}},
			{Name: "build", Command: []string{"make"}},
			{Name: "install", Command: []string{"make", "install"}, Parallel: &serial},
		},
		Tests: []skeletonTest{
			{Name: "version", Kind: string(AssertSucceeds), Command: []string{"${bin}/" + spec.Name, "--version"}},
		},
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case FormatTOML:
		data, err = toml.Marshal(s)
	case FormatYAML:
		data, err = yaml.Marshal(s)
	default:
		return nil, errors.Newf(errors.ErrInvalidInput, "unknown formula format %q", format)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "cannot render formula skeleton")
	}

	if _, err := Parse(data, format); err != nil {
		return nil, err
	}
	return data, nil
}
