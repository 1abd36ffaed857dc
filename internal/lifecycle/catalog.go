// Package lifecycle holds the named start/stop/inspect commands run against
// managed hosts. Each action is a handlebars template rendered with
// validated parameters.
package lifecycle

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/aymerick/raymond"
)

//go:embed catalog.toml
var defaultCatalog []byte

// parameter values end up in a shell command line; a leading '-' would be
// read as an option
var paramPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@/-]*$`)

type Params map[string]string

type Action struct {
	Name        string   `toml:"-"`
	Description string   `toml:"description"`
	Command     string   `toml:"command"`
	Params      []string `toml:"params"`

	template *raymond.Template
}

type Catalog struct {
	actions map[string]*Action
}

type catalogFile struct {
	Actions map[string]*Action `toml:"actions"`
}

// LoadCatalog reads the catalog at path, or the built-in one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}

	data, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCatalog, path, err)
	}

	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile

	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	if len(file.Actions) == 0 {
		return nil, fmt.Errorf("%w: no actions defined", ErrInvalidCatalog)
	}

	for name, action := range file.Actions {
		if strings.TrimSpace(action.Command) == "" {
			return nil, fmt.Errorf("%w: action %q has no command", ErrInvalidCatalog, name)
		}

		tpl, err := raymond.Parse(action.Command)

		if err != nil {
			return nil, fmt.Errorf("%w: action %q: %w", ErrInvalidCatalog, name, err)
		}

		action.Name = name
		action.template = tpl
	}

	return &Catalog{actions: file.Actions}, nil
}

// Actions returns the catalog entries sorted by name.
func (c *Catalog) Actions() []*Action {
	actions := make([]*Action, 0, len(c.actions))

	for _, action := range c.actions {
		actions = append(actions, action)
	}

	sort.Slice(actions, func(i, j int) bool {
		return actions[i].Name < actions[j].Name
	})

	return actions
}

func (c *Catalog) Action(name string) (*Action, error) {
	action, ok := c.actions[name]

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	return action, nil
}

// Render produces the command line for the named action. Every declared
// parameter must be present and made of safe characters only.
func (c *Catalog) Render(name string, params Params) (string, error) {
	action, err := c.Action(name)

	if err != nil {
		return "", err
	}

	ctx := make(map[string]string, len(action.Params))

	for _, param := range action.Params {
		value, ok := params[param]

		if !ok || value == "" {
			return "", fmt.Errorf("%w: %s requires %q", ErrMissingParam, name, param)
		}

		if !paramPattern.MatchString(value) {
			return "", fmt.Errorf("%w: %s=%q", ErrInvalidParam, param, value)
		}

		ctx[param] = value
	}

	command, err := action.template.Exec(ctx)

	if err != nil {
		return "", fmt.Errorf("%w: action %q: %w", ErrInvalidCatalog, name, err)
	}

	return strings.TrimSpace(command), nil
}
