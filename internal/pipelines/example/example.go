// Package example registers the "example" pipeline: clone a Python project,
// build it with PyInstaller and bring the packaged archive back to the local
// run directory.
package example

import (
	"context"
	"fmt"
	"path"
	"slices"

	"github.com/spf13/pflag"

	"github.com/Iron-Ham/xflow/internal/errors"
	"github.com/Iron-Ham/xflow/internal/pipeline"
	"github.com/Iron-Ham/xflow/internal/remote"
)

// Name is the name the pipeline is registered under.
const Name = "example"

const (
	defaultRepo    = "https://github.com/zhaowcheng/xbot.framework.git"
	projectDir     = "xbot.framework"
	archiveName    = "xbot.tar.gz"
	requirementsIn = "requirements.txt"
)

// PackTypes are the accepted values of --packtype.
var PackTypes = []string{"onefile", "onedir"}

// Options are the flags of the example pipeline.
type Options struct {
	PyVer    int
	PackType string
	Repo     string
}

// BindFlags registers the options on fs with their defaults.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.PyVer, "pyver", 3, "Python version")
	fs.StringVar(&o.PackType, "packtype", "onedir", "Package type (onefile|onedir)")
	fs.StringVar(&o.Repo, "repo", defaultRepo, "Git repository to build")
}

// Validate checks the option values.
func (o *Options) Validate() error {
	if o.PyVer <= 0 {
		return errors.NewValidationError("must be positive").WithField("pyver").WithValue(o.PyVer)
	}
	if !slices.Contains(PackTypes, o.PackType) {
		return errors.NewValidationError(fmt.Sprintf("must be one of %v", PackTypes)).WithField("packtype").WithValue(o.PackType)
	}
	if o.Repo == "" {
		return errors.NewValidationError("is required").WithField("repo")
	}
	return nil
}

// Definition returns the example pipeline definition. It runs on the nodes
// given on the command line.
func Definition() *pipeline.Definition {
	return &pipeline.Definition{
		Name:        Name,
		Description: "Clone, build and package a Python project",
		NewOptions:  func() pipeline.Options { return &Options{PyVer: 3, PackType: "onedir", Repo: defaultRepo} },
		Stages: []pipeline.Stage{
			{Name: "clone", Description: "Fetch the source", Run: clone},
			{Name: "build", Description: "Build with PyInstaller", Run: build},
			{Name: "package", Description: "Archive and download the build", Run: pack},
		},
		Setup: func(_ context.Context, p *pipeline.Pipeline) error {
			opts := p.Options().(*Options)
			p.Logger().Info("building", "repo", opts.Repo, "pyver", opts.PyVer, "packtype", opts.PackType)
			return nil
		},
	}
}

func init() {
	pipeline.Register(Definition())
}

func options(c *pipeline.Context) *Options {
	return c.Options().(*Options)
}

func clone(c *pipeline.Context) error {
	_, err := c.Exec("git clone " + remote.Quote(options(c).Repo) + " " + projectDir)
	return err
}

func build(c *pipeline.Context) error {
	opts := options(c)
	return c.Dir(projectDir, func() error {
		for _, cmd := range []string{
			fmt.Sprintf("python%d -m venv venv", opts.PyVer),
			"venv/bin/pip install -r requirements.txt",
			"venv/bin/pip install pyinstaller",
			fmt.Sprintf("venv/bin/python -m PyInstaller --%s -n xbot xbot/framework/main.py", opts.PackType),
		} {
			if _, err := c.Exec(cmd); err != nil {
				return err
			}
		}
		return nil
	})
}

// pack ships the local requirements file alongside the build, archives the
// dist directory and downloads the archive into the local run directory.
func pack(c *pipeline.Context) error {
	dist := path.Join(projectDir, "dist")
	if err := c.PutFile(requirementsIn, dist); err != nil {
		return err
	}
	err := c.Dir(dist, func() error {
		_, err := c.Exec("tar czvf " + archiveName + " xbot/")
		return err
	})
	if err != nil {
		return err
	}
	c.Info("downloading archive", "archive", archiveName, "local_dir", c.LocalDir())
	return c.GetFile(path.Join(dist, archiveName), c.LocalDir())
}
