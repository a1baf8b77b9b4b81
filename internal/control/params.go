package control

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/BKyryl/iesi/pkg/schema"
)

// LoadParamList assigns runtime variables from "a=1,b=2".
func (c *Control) LoadParamList(ctx context.Context, list string) error {
	for _, entry := range strings.Split(list, ",") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		name, value, err := splitAssignment(entry)
		if err != nil {
			return err
		}
		if err := c.run.Variables.Set(ctx, name, value); err != nil {
			return fmt.Errorf("set parameter %s: %w", name, err)
		}
	}
	return nil
}

// LoadParamFiles assigns runtime variables from comma separated files of
// key=value lines. Blank lines and lines starting with # are skipped. Values
// are resolved before assignment, so a file may reference earlier values.
func (c *Control) LoadParamFiles(ctx context.Context, files string) error {
	for _, path := range strings.Split(files, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if err := c.loadParamFile(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func (c *Control) loadParamFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeConfiguration, "open parameter file %s: %s", path, err.Error()).WithCause(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		name, value, err := splitAssignment(text)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if c.opts.Resolver != nil {
			if value, err = c.opts.Resolver.ResolveVariables(ctx, value, c.run.Variables); err != nil {
				return fmt.Errorf("%s:%d: %w", path, line, err)
			}
		}
		if err := c.run.Variables.Set(ctx, name, value); err != nil {
			return fmt.Errorf("set parameter %s: %w", name, err)
		}
	}
	return scanner.Err()
}

func splitAssignment(entry string) (string, string, error) {
	name, value, ok := strings.Cut(entry, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", schema.NewErrorf(schema.ErrCodeValidation, "parameter %q is not a name=value pair", strings.TrimSpace(entry))
	}
	return name, strings.TrimSpace(value), nil
}
