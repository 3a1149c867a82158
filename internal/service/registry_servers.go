package service

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/config"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/mcp"
)

// ServerDefFromConfig converts a configured service to its domain form.
func ServerDefFromConfig(c *config.MCPServer) mcp.ServerDef {
	return mcp.ServerDef{
		Name:        c.Name,
		Description: c.Description,
		Transport:   mcp.TransportType(c.Transport),
		Command:     c.Command,
		Args:        c.Args,
		URL:         c.URL,
		Env:         c.Env,
		Headers:     c.Headers,
		Enabled:     c.Enabled,
	}
}

// LoadServerDefs collects service definitions from configuration and from
// the .yaml, .yml and .toml files of dir. The first definition of a name
// wins. Invalid definitions are logged and skipped. A missing directory is
// not an error.
func LoadServerDefs(cfg *config.MCP) ([]mcp.ServerDef, error) {
	var defs []mcp.ServerDef
	seen := make(map[string]bool)
	add := func(def mcp.ServerDef, source string) {
		if err := def.Validate(); err != nil {
			slog.Warn("skipping invalid tool service", "source", source, "error", err)
			return
		}
		if seen[def.Name] {
			slog.Warn("duplicate tool service ignored", "name", def.Name, "source", source)
			return
		}
		seen[def.Name] = true
		defs = append(defs, def)
	}

	for i := range cfg.Servers {
		add(ServerDefFromConfig(&cfg.Servers[i]), "config")
	}

	if cfg.ServersDir == "" {
		return defs, nil
	}
	fromDir, err := loadServerDir(cfg.ServersDir)
	if err != nil {
		return nil, err
	}
	for _, f := range fromDir {
		add(ServerDefFromConfig(&f.def), f.path)
	}
	return defs, nil
}

type serverFile struct {
	path string
	def  config.MCPServer
}

func loadServerDir(dir string) ([]serverFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tool services directory %s: %w", dir, err)
	}

	var out []serverFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".toml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, readErr := os.ReadFile(path) //nolint:gosec // G304: path built from trusted dir
		if readErr != nil {
			return nil, fmt.Errorf("read tool service file %s: %w", path, readErr)
		}

		var def config.MCPServer
		if ext == ".toml" {
			err = toml.Unmarshal(data, &def)
		} else {
			err = yaml.Unmarshal(data, &def)
		}
		if err != nil {
			return nil, fmt.Errorf("parse tool service file %s: %w", path, err)
		}
		out = append(out, serverFile{path: path, def: def})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}
