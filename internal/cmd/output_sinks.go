package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keyrelay/keyrelay/internal/output"
)

// File modes for command output. Anything carrying a full api key is written
// owner-only.
const (
	publicFile os.FileMode = 0o644
	secretFile os.FileMode = 0o600
)

var errOutConflict = errors.New("--out and --out-dir are mutually exclusive")

// outputSink is the destination a command renders into: stdout or a file.
type outputSink struct {
	io.Writer
	path string
	file *os.File
}

func (s *outputSink) stdout() bool { return s.file == nil }

func (s *outputSink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

var nonFilename = regexp.MustCompile(`[^a-z0-9._-]+`)

// sanitizeFilename lowercases value and collapses anything outside
// [a-z0-9._-] so it is safe as a file name.
func sanitizeFilename(value string) string {
	clean := nonFilename.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	clean = strings.Trim(clean, "-.")
	if clean == "" {
		return "output"
	}
	return clean
}

// addOutputFlags registers --output-format, --out and --out-dir.
func addOutputFlags(cmd *cobra.Command, formats string) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: "+formats)
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory")
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

// commandSink opens the destination chosen by --out or --out-dir. With
// --out-dir the file is <base>.<format extension> inside that directory.
func commandSink(cmd *cobra.Command, format output.Format, base string, mode os.FileMode) (*outputSink, error) {
	outPath, _ := cmd.Flags().GetString("out")
	outDir, _ := cmd.Flags().GetString("out-dir")

	path, err := outputPath(strings.TrimSpace(outPath), strings.TrimSpace(outDir), sanitizeFilename(base)+"."+format.Extension())
	if err != nil {
		return nil, err
	}
	return openSink(path, mode)
}

// outputPath resolves --out / --out-dir into one path. An empty result means
// stdout.
func outputPath(out, dir, name string) (string, error) {
	switch {
	case out != "" && dir != "":
		return "", errOutConflict
	case dir != "":
		abs, err := filepath.Abs(dir)
		if err != nil {
			abs = dir
		}
		return filepath.Join(abs, name), nil
	default:
		return out, nil
	}
}

// openSink opens path for writing with mode, creating parent directories.
// "" and "-" mean stdout.
func openSink(path string, mode os.FileMode) (*outputSink, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return &outputSink{Writer: os.Stdout, path: "-"}, nil
	}

	// #nosec G301 -- output directories are chosen by the operator
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode) // #nosec G304 -- operator-chosen path
	if err != nil {
		return nil, err
	}
	// OpenFile keeps the mode of an existing file.
	if err := file.Chmod(mode); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("set output file mode: %w", err)
	}
	return &outputSink{Writer: file, path: path, file: file}, nil
}
