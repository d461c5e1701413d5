package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/km-arc/go-injector/framework/profile"
)

// ErrPropertiesNotFound is returned when no property file holds the
// requested prefix.
var ErrPropertiesNotFound = errors.New("config: properties not found")

// PropertySource reads typed configuration properties from
// application.yml and application-<profile>.yml in one directory.
//
//	# resources/application-test.yml
//	mail:
//	  host: localhost
//	  port: 2525
//
//	var mail MailProperties
//	err := config.NewPropertySource("resources").Load("mail", test, &mail)
type PropertySource struct {
	dir      string
	validate *validator.Validate
}

func NewPropertySource(dir string) *PropertySource {
	return &PropertySource{dir: dir, validate: validator.New()}
}

func (s *PropertySource) Dir() string { return s.dir }

// Files returns the property files consulted for p, most specific first:
// application-<profile>.yml, then application.yml. Files that do not exist
// are left out.
func (s *PropertySource) Files(p profile.Profile) []string {
	var candidates []string
	if !p.IsZero() && !p.IsDefault() {
		candidates = append(candidates, filepath.Join(s.dir, "application-"+p.Key()+".yml"))
	}
	candidates = append(candidates, filepath.Join(s.dir, "application.yml"))

	var out []string
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			out = append(out, path)
		}
	}
	return out
}

// Load decodes the subtree under the dot separated prefix into target and
// validates it. The first file from Files that defines the prefix is used
// on its own: application.yml is only consulted when the profile file does
// not define the prefix. An empty prefix decodes the whole document.
func (s *PropertySource) Load(prefix string, p profile.Profile, target any) error {
	path, sub, err := s.find(prefix, p)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("%w: %s for profile %s in %s", ErrPropertiesNotFound, prefixName(prefix), p, s.dir)
	}
	if err := sub.Decode(target); err != nil {
		return fmt.Errorf("config: decode %s in %s: %w", prefixName(prefix), path, err)
	}
	if err := s.validate.Struct(target); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			// target is not a struct; nothing to validate
			return nil
		}
		return fmt.Errorf("config: validate %s: %w", prefixName(prefix), err)
	}
	return nil
}

// find returns the first file defining prefix for p and the node under it.
func (s *PropertySource) find(prefix string, p profile.Profile) (string, *yaml.Node, error) {
	for _, path := range s.Files(p) {
		node, err := readDocument(path)
		if err != nil {
			return "", nil, err
		}
		if sub := lookup(node, prefix); sub != nil {
			return path, sub, nil
		}
	}
	return "", nil, nil
}

func readDocument(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0], nil
	}
	return nil, nil
}

// lookup walks mapping keys along prefix.
func lookup(node *yaml.Node, prefix string) *yaml.Node {
	if node == nil {
		return nil
	}
	if prefix == "" {
		return node
	}
	for _, key := range strings.Split(prefix, ".") {
		if node.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == key {
				next = node.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil
		}
		node = next
	}
	return node
}

func prefixName(prefix string) string {
	if prefix == "" {
		return "<root>"
	}
	return prefix
}
