// Loquat uses flags for every knob and a single optional flag file for
// overrides. The file holds one `name=value` pair per line; blank lines and
// lines starting with '#' are ignored. Values are applied onto the declared
// flags before the process reads them. A missing or malformed file is logged
// and skipped, never fatal.

package config

import (
	"bufio"
	"errors"
	"flag"
	"log/slog"
	"os"
	"strings"
)

var configFilePath = flag.String("config_file", "", "Path to the flag override file.")

// InitFlags parses the command line and overlays the flag file specified by
// the -config_file flag. It should be called after defining all flags and
// before using them.
func InitFlags() {
	flag.Parse()

	if *configFilePath == "" {
		slog.Info("Config file not specified. Skipping config initialization.")
		return
	}
	applyFlagFile(*configFilePath)
}

// applyFlagFile reads the file at path and sets every `name=value` pair onto
// the matching declared flag.
func applyFlagFile(path string) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Config file does not exist.", "path", path, "error", err)
		return
	}
	if err != nil { // If the config file cannot be opened, we skip loading and use default flag values.
		slog.Error("Failed to open config file.", "error", err)
		return
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, found := strings.Cut(line, "=")
		if !found {
			slog.Error("Skipping malformed config line.", "path", path, "line", lineNo)
			continue
		}
		if err := flag.Set(strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
			slog.Error("Failed to set flag from config file.", "flag", name, "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("Failed to read config file.", "error", err)
	}
}
