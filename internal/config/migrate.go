package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LatestVersion is the current config schema version.
const LatestVersion = 1

// migration is a named, versioned config migration step, applied as a
// comment-preserving edit against the YAML node tree.
type migration struct {
	version int
	name    string
	run     func(path string) error
}

var migrations = []migration{
	{version: 1, name: "add_max_consecutive_errors", run: addMaxConsecutiveErrors},
}

// Migrate runs all pending migrations against the config.yml at path,
// then stamps it with LatestVersion. A config.yml that doesn't exist yet
// is left alone; Init should be used to create one.
func Migrate(path string) error {
	current, err := readConfigVersion(path)
	if err != nil {
		return err
	}
	if current >= LatestVersion {
		return nil
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.run(path); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}

	return setConfigVersion(path, LatestVersion)
}

// readConfigVersion reads config_version directly out of the YAML node
// tree, distinct from Load's defaulted Config: a file that never
// mentions config_version must read back as 0, not LatestVersion.
func readConfigVersion(path string) (int, error) {
	doc, err := readDoc(path)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, nil
	}

	root := doc.Content[0]
	for i := 0; i < len(root.Content)-1; i += 2 {
		if root.Content[i].Value == "config_version" {
			var v int
			if err := root.Content[i+1].Decode(&v); err != nil {
				return 0, nil
			}
			return v, nil
		}
	}
	return 0, nil
}

func readDoc(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: root is not a mapping", path)
	}
	return &doc, nil
}

// setConfigVersion updates or inserts config_version in path, preserving
// existing comments and formatting via yaml.Node.
func setConfigVersion(path string, version int) error {
	doc, err := readDoc(path)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%s: does not exist", path)
	}

	root := doc.Content[0]
	found := false
	for i := 0; i < len(root.Content)-1; i += 2 {
		if root.Content[i].Value == "config_version" {
			root.Content[i+1].Value = fmt.Sprintf("%d", version)
			root.Content[i+1].Tag = "!!int"
			found = true
			break
		}
	}
	if !found {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: "config_version", Tag: "!!str"}
		valNode := &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%d", version), Tag: "!!int"}
		root.Content = append([]*yaml.Node{keyNode, valNode}, root.Content...)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, out, 0644)
}

// addMaxConsecutiveErrors inserts max_consecutive_errors with its default
// value into a pre-v1 config.yml that predates the field, leaving any
// value it already has untouched.
func addMaxConsecutiveErrors(path string) error {
	doc, err := readDoc(path)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	root := doc.Content[0]
	for i := 0; i < len(root.Content)-1; i += 2 {
		if root.Content[i].Value == "max_consecutive_errors" {
			return nil
		}
	}

	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: "max_consecutive_errors", Tag: "!!str"}
	def := Defaults()
	valNode := &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%d", def.MaxConsecutiveErrors), Tag: "!!int"}
	root.Content = append(root.Content, keyNode, valNode)

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, out, 0644)
}
