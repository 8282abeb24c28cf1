// pkg/formula/formula_test.go
// TEST TYPE: Unit Test
// DEPENDENCIES: Memory FS
// PURPOSE: Test formula parsing, validation and loading

package formula_test

import (
	"testing"
	"time"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/filesystem"
	"github.com/arthur-debert/formulary/pkg/formula"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalTOML = `
name = "hello"
url = "https://ftp.gnu.org/gnu/hello/hello-2.12.1.tar.gz"

depends_on = [
  { name = "gettext" },
  { name = "openblas", kind = "recommended" },
  { name = "cairo", kind = "optional", version = ">= 1.16" },
]

options = [{ name = "debug", description = "debug symbols", default = false }]

[[phases]]
name = "configure"
run = "./configure --prefix=${prefix} '${args}'"
timeout = "10m"

[[phases]]
name = "install"
command = ["make", "install"]
parallel = false
with = ["debug"]
`

func TestParseTOML(t *testing.T) {
	f, err := formula.Parse([]byte(minimalTOML), formula.FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "hello", f.Name)
	assert.Equal(t, "2.12.1", f.Version, "version comes from the url")

	require.Len(t, f.Dependencies, 3)
	assert.Equal(t, formula.KindRequired, f.Dependencies[0].Kind)
	assert.Equal(t, ">= 1.16", f.Dependencies[2].Version)

	openblas, ok := f.Option("openblas")
	require.True(t, ok)
	assert.True(t, openblas.Default, "recommended dependency defaults on")
	assert.True(t, openblas.Implicit)

	cairo, ok := f.Option("cairo")
	require.True(t, ok)
	assert.False(t, cairo.Default, "optional dependency defaults off")

	require.Len(t, f.Phases, 2)
	assert.Equal(t, []string{"./configure", "--prefix=${prefix}", "${args}"}, f.Phases[0].Command)
	assert.Equal(t, 10*time.Minute, f.Phases[0].Timeout)
	assert.Equal(t, formula.Parallel, f.Phases[0].Parallelism)
	assert.Equal(t, formula.Serial, f.Phases[1].Parallelism)
	assert.Equal(t, []formula.OptionName{"debug"}, f.Phases[1].When.With)
}

func TestParseYAML(t *testing.T) {
	doc := `
name: zlib
version: "1.3.1"
keg_only: true
options:
  - name: static
    description: build static library only
    default: false
phases:
  - name: configure
    command: ["./configure", "--prefix=${prefix}"]
  - name: static
    command: ["make", "libz.a"]
    with: [static]
test:
  - kind: file_exists
    path: ${prefix}/lib/libz.a
`
	f, err := formula.Parse([]byte(doc), formula.FormatYAML)
	require.NoError(t, err)

	assert.True(t, f.KegOnly)
	assert.Equal(t, "1.3.1", f.Version)
	require.Len(t, f.Tests, 1)
	assert.Equal(t, "file_exists-1", f.Tests[0].Name)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code errors.ErrorCode
	}{
		{
			name: "unknown_key",
			doc:  "name = \"x\"\nversion = \"1\"\nbogus = true\n",
			code: errors.ErrFormulaParse,
		},
		{
			name: "option_without_default",
			doc:  "name = \"x\"\nversion = \"1\"\noptions = [{ name = \"debug\" }]\n",
			code: errors.ErrFormulaInvalid,
		},
		{
			name: "self_dependency",
			doc:  "name = \"x\"\nversion = \"1\"\ndepends_on = [{ name = \"x\" }]\n",
			code: errors.ErrSelfDependency,
		},
		{
			name: "undeclared_condition",
			doc:  "name = \"x\"\nversion = \"1\"\n[[phases]]\nname = \"p\"\ncommand = [\"true\"]\nwith = [\"typo\"]\n",
			code: errors.ErrFormulaInvalid,
		},
		{
			name: "selector_without_fallback",
			doc: "name = \"x\"\nversion = \"1\"\noptions = [{ name = \"a\", default = true }]\n" +
				"[[select]]\nname = \"s\"\n[[select.candidates]]\nname = \"a\"\nwith = [\"a\"]\n",
			code: errors.ErrFormulaInvalid,
		},
		{
			name: "bad_constraint",
			doc:  "name = \"x\"\nversion = \"1\"\ndepends_on = [{ name = \"y\", version = \">= banana\" }]\n",
			code: errors.ErrFormulaInvalid,
		},
		{
			name: "patch_outside_keg",
			doc:  "name = \"x\"\nversion = \"1\"\n[[patches]]\nfile = \"../etc/passwd\"\npattern = \"root\"\n",
			code: errors.ErrFormulaInvalid,
		},
		{
			name: "missing_version",
			doc:  "name = \"x\"\nurl = \"https://example.com/x.tar.gz\"\n",
			code: errors.ErrFormulaInvalid,
		},
		{
			name: "command_and_run",
			doc:  "name = \"x\"\nversion = \"1\"\n[[phases]]\nname = \"p\"\ncommand = [\"a\"]\nrun = \"b\"\n",
			code: errors.ErrFormulaInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := formula.Parse([]byte(tt.doc), formula.FormatTOML)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetErrorCode(err), err.Error())
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	f := &formula.Formula{
		Name:    "Bad Name",
		Version: "1",
		Options: []formula.Option{{Name: "dup"}, {Name: "dup"}},
		Phases:  []formula.BuildPhase{{Name: "build"}},
	}
	err := f.Validate()
	require.Error(t, err)

	problems, ok := errors.GetErrorDetails(err)["problems"].([]string)
	require.True(t, ok)
	assert.Len(t, problems, 3)
}

func TestVersionFromURL(t *testing.T) {
	tests := map[string]string{
		"https://cran.r-project.org/src/base/R-4/R-4.4.1.tar.gz": "4.4.1",
		"https://ftp.gnu.org/gnu/gettext/gettext-0.22.5.tar.xz":  "0.22.5",
		"https://example.com/foo_v1.2.3.tgz":                     "1.2.3",
		"https://example.com/openssl-3.0.13a.tar.gz":             "3.0.13a",
		"https://stat.ethz.ch/R/daily/R-devel.tar.gz":            "",
		"": "",
	}
	for url, want := range tests {
		assert.Equal(t, want, formula.VersionFromURL(url), url)
	}
}

func TestBuiltinRDaily(t *testing.T) {
	loader := formula.NewLoader(filesystem.NewMemory())

	f, err := loader.Get("r-daily")
	require.NoError(t, err)

	assert.Equal(t, "builtin:r-daily.toml", f.Path)
	_, ok := f.ConflictsWith("r")
	assert.True(t, ok)

	rec, ok := f.Option("recommended-packages")
	require.True(t, ok)
	assert.True(t, rec.Default)

	openblas, ok := f.Option("openblas")
	require.True(t, ok)
	assert.False(t, openblas.Default)

	require.Len(t, f.Selectors, 1)
	blas := f.Selectors[0]
	assert.Equal(t, "blas", blas.Name)
	assert.Equal(t, []string{"--with-blas=-framework Accelerate"}, blas.Candidates[1].Args)

	var serial []string
	for _, p := range f.Phases {
		if p.Parallelism == formula.Serial {
			serial = append(serial, p.Name)
		}
	}
	assert.Equal(t, []string{"install", "nmath-install"}, serial)
	assert.Len(t, f.Tests, 4)
	assert.Contains(t, loader.Names(), "r-daily")
}

func TestLoaderSearchOrder(t *testing.T) {
	fsys := filesystem.NewMemory()
	require.NoError(t, fsys.MkdirAll("/first", 0755))
	require.NoError(t, fsys.MkdirAll("/second", 0755))
	require.NoError(t, fsys.WriteFile("/first/pcre2.yaml", []byte("name: pcre2\nversion: \"10.43\"\n"), 0644))
	require.NoError(t, fsys.WriteFile("/second/pcre2.toml", []byte("name = \"pcre2\"\nversion = \"10.42\"\n"), 0644))
	require.NoError(t, fsys.WriteFile("/second/r-daily.toml", []byte("name = \"r-daily\"\nversion = \"local\"\n"), 0644))
	require.NoError(t, fsys.WriteFile("/second/wrong.toml", []byte("name = \"right\"\nversion = \"1\"\n"), 0644))

	loader := formula.NewLoader(fsys, "/first", "/second")

	f, err := loader.Get("pcre2")
	require.NoError(t, err)
	assert.Equal(t, "10.43", f.Version)
	assert.Equal(t, "/first/pcre2.yaml", f.Path)

	f, err = loader.Get("r-daily")
	require.NoError(t, err)
	assert.Equal(t, "local", f.Version, "directories shadow the builtin tap")

	_, err = loader.Get("wrong")
	assert.True(t, errors.IsErrorCode(err, errors.ErrFormulaInvalid))

	_, err = loader.Get("missing")
	assert.True(t, errors.IsErrorCode(err, errors.ErrFormulaNotFound))
	assert.False(t, loader.Has("../etc"))

	assert.Equal(t, []string{"pcre2", "r-daily", "wrong"}, loader.Names())
}

func TestLoaderAdd(t *testing.T) {
	loader := formula.NewLoader(filesystem.NewMemory()).WithoutBuiltin()

	require.NoError(t, loader.Add(&formula.Formula{Name: "gettext", Version: "0.22.5"}))
	assert.True(t, loader.Has("gettext"))
	assert.False(t, loader.Has("r-daily"))

	err := loader.Add(&formula.Formula{Name: "gettext", Version: "0.23"})
	assert.True(t, errors.IsErrorCode(err, errors.ErrAlreadyExists))
}

func TestSkeletonParses(t *testing.T) {
	for _, format := range []formula.Format{formula.FormatTOML, formula.FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			data, err := formula.Skeleton(formula.SkeletonSpec{
				Name:   "hello",
				URL:    "https://ftp.gnu.org/gnu/hello/hello-2.12.1.tar.gz",
				SHA256: "8d99142afd92576f30b0cd7cb42a8dc6809998bc5d607d88761f512e26c7db20",
			}, format)
			require.NoError(t, err)

			f, err := formula.Parse(data, format)
			require.NoError(t, err)
			assert.Equal(t, "2.12.1", f.Version)
			require.Len(t, f.Phases, 3)
			assert.Equal(t, []string{"./configure", "--prefix=${prefix}", "${args}"}, f.Phases[0].Command)
			assert.Equal(t, formula.Serial, f.Phases[2].Parallelism)
			require.Len(t, f.Tests, 1)
			assert.Equal(t, formula.AssertSucceeds, f.Tests[0].Kind)
		})
	}

	data, err := formula.Skeleton(formula.SkeletonSpec{Name: "local-tool"}, formula.FormatTOML)
	require.NoError(t, err)
	f, err := formula.Parse(data, formula.FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", f.Version)
	assert.Empty(t, f.URL)

	_, err = formula.Skeleton(formula.SkeletonSpec{Name: "Bad Name"}, formula.FormatTOML)
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
}
