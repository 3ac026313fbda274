// Package templateconfig implements the Pipeline Config Loader (spec.md
// §4.3): candidate-path search for a named template, YAML decode +
// validator.v10 struct validation, and composed-override superseding via
// viper when an "intelligence-composed" template file is fresh.
package templateconfig

import (
	"context"
	"os"
	"path/filepath"
	"time"

	validatorpkg "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	domaintemplate "github.com/shipwrightrun/shipwright/internal/domain/template"
)

const composedFreshnessWindow = time.Hour

// Loader implements ports.TemplateLoader by reading YAML files from a
// repo-local directory then a user-level directory, mirroring the teacher's
// YAMLLoader candidate-path convention.
type Loader struct {
	candidateDirs []string
	validate      *validatorpkg.Validate
}

// New returns a Loader searching repoDir/.shipwright/templates then
// $XDG_CONFIG_HOME/shipwright/templates (or ~/.config/shipwright/templates).
func New(repoDir string) *Loader {
	dirs := []string{filepath.Join(repoDir, ".shipwright", "templates")}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "shipwright", "templates"))
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "shipwright", "templates"))
	}
	return &Loader{candidateDirs: dirs, validate: validatorpkg.New()}
}

// Load resolves name against the candidate paths, applying the
// "intelligence-composed" override when present and fresh.
func (l *Loader) Load(ctx context.Context, name string) (*domaintemplate.Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, domainrun.NewDomainError(domainrun.ErrCodeCancelled, "load cancelled", err, nil)
	}

	path, found := l.findCandidate(name + ".yaml")
	if !found {
		return nil, domainrun.NewNotFoundError("template_not_found", map[string]interface{}{"name": name})
	}

	tpl, err := l.loadYAML(path)
	if err != nil {
		return nil, err
	}

	if composedPath, ok := l.findCandidate(name + ".composed.yaml"); ok {
		if fresh, ferr := isFresh(composedPath); ferr == nil && fresh {
			if composed, cerr := l.loadComposedOverride(path, composedPath); cerr == nil {
				tpl = composed
			}
		}
	}

	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (l *Loader) findCandidate(filename string) (string, bool) {
	for _, dir := range l.candidateDirs {
		p := filepath.Join(dir, filename)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func (l *Loader) loadYAML(path string) (*domaintemplate.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domainrun.NewDomainError(domainrun.ErrCodeInfra, "read template file", err, map[string]interface{}{"path": path})
	}
	var tpl domaintemplate.Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, domainrun.NewValidationError("invalid template syntax", map[string]interface{}{"path": path, "cause": err.Error()})
	}
	if err := l.validate.Struct(&tpl); err != nil {
		return nil, domainrun.NewValidationError("template failed struct validation", map[string]interface{}{"path": path, "cause": err.Error()})
	}
	return &tpl, nil
}

// loadComposedOverride merges the base template with the composed override
// using viper's layered config resolution: the override's keys take
// precedence, absent keys fall back to the base (spec.md §4.3).
func (l *Loader) loadComposedOverride(basePath, overridePath string) (*domaintemplate.Template, error) {
	v := viper.New()
	v.SetConfigFile(basePath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	override := viper.New()
	override.SetConfigFile(overridePath)
	override.SetConfigType("yaml")
	if err := override.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.MergeConfigMap(override.AllSettings()); err != nil {
		return nil, err
	}

	var tpl domaintemplate.Template
	if err := v.Unmarshal(&tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func isFresh(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return time.Since(info.ModTime()) <= composedFreshnessWindow, nil
}
