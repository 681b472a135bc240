// Package config holds the static configuration for a jstore process: where
// account data lives and the public host used when generating blob URLs.
//
// The configuration file is in sconf format, see
// https://pkg.go.dev/github.com/mjl-/sconf.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mjl-/sconf"

	"github.com/mjl-/jstore/mlog"
)

// Config is the parsed form of the jstore.conf configuration file.
type Config struct {
	DataDir          string            `sconf-doc:"Directory where accounts and their message databases are stored. If this is a relative path, it is relative to the directory of the config file."`
	Host             string            `sconf-doc:"Public host name used in generated blob URLs, e.g. mail.example.org."`
	LogLevel         string            `sconf:"optional" sconf-doc:"Default log level, one of: error, info, debug, trace. Default: error."`
	PackageLogLevels map[string]string `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. store, message)."`
}

// Conf is the active configuration, set with Load or MustLoad.
var Conf Config

// ConfigPath is the path Conf was loaded from, used to resolve relative paths.
var ConfigPath string

// Load reads the configuration file at path and makes it the active
// configuration, also applying the configured log levels.
func Load(path string) error {
	var c Config
	if err := sconf.ParseFile(path, &c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if c.LogLevel == "" {
		c.LogLevel = "error"
	}
	levels := map[string]mlog.Level{}
	level, ok := mlog.Levels[c.LogLevel]
	if !ok {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	levels[""] = level
	for pkg, s := range c.PackageLogLevels {
		level, ok := mlog.Levels[s]
		if !ok {
			return fmt.Errorf("unknown log level %q for package %q", s, pkg)
		}
		levels[pkg] = level
	}
	mlog.SetConfig(levels)
	ConfigPath = path
	Conf = c
	return nil
}

// MustLoad is like Load but exits on failure. For use in main.
func MustLoad(path string) {
	if err := Load(path); err != nil {
		mlog.New("config").Fatalx("loading config file", err, mlog.Field("path", path))
	}
}

// DataDirPath returns the path to f relative to the data directory. f is
// returned unchanged when absolute.
func DataDirPath(f string) string {
	if filepath.IsAbs(f) {
		return f
	}
	dd := Conf.DataDir
	if !filepath.IsAbs(dd) {
		dd = filepath.Join(filepath.Dir(ConfigPath), dd)
	}
	return filepath.Join(dd, f)
}

// Describe writes an example configuration file, based on the Config struct
// and its documentation, to w.
func Describe(w io.Writer) error {
	c := Config{
		DataDir:  "data",
		Host:     "mail.example.org",
		LogLevel: "error",
	}
	return sconf.Describe(w, &c)
}

// CheckDataDir returns an error if the data directory does not exist.
func CheckDataDir() error {
	p := DataDirPath(".")
	if _, err := os.Stat(p); err != nil {
		return fmt.Errorf("checking data directory %q: %w", p, err)
	}
	return nil
}
