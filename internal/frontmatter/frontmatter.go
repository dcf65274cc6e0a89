// Package frontmatter reads and writes markdown documents that carry a YAML
// header between --- lines. Variant reports use it so both humans and the
// history tooling can read them.
package frontmatter

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const delim = "---\n"

var (
	ErrNoOpening = errors.New("frontmatter: missing opening --- delimiter")
	ErrNoClosing = errors.New("frontmatter: missing closing --- delimiter")
)

// Split separates the raw YAML header from the body. CRLF line endings are
// normalised first.
func Split(data []byte) (header, body []byte, err error) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(data, []byte(delim)) {
		return nil, nil, ErrNoOpening
	}
	rest := data[len(delim):]
	if bytes.HasPrefix(rest, []byte(delim)) {
		return nil, rest[len(delim):], nil
	}
	end := bytes.Index(rest, []byte("\n"+delim))
	if end < 0 {
		if bytes.HasSuffix(rest, []byte("\n---")) {
			return rest[:len(rest)-len("\n---")], nil, nil
		}
		return nil, nil, ErrNoClosing
	}
	return rest[:end+1], rest[end+1+len(delim):], nil
}

// Marshal renders meta as the header followed by body.
func Marshal(meta any, body string) ([]byte, error) {
	header, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("frontmatter: marshal: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(delim)
	buf.Write(header)
	buf.WriteString(delim)
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// Unmarshal decodes the header of data into meta and returns the body.
func Unmarshal(data []byte, meta any) (string, error) {
	header, body, err := Split(data)
	if err != nil {
		return "", err
	}
	if err := yaml.Unmarshal(header, meta); err != nil {
		return "", fmt.Errorf("frontmatter: unmarshal: %w", err)
	}
	return string(body), nil
}

// WriteFile writes a document to path, creating parent directories.
func WriteFile(path string, meta any, body string) error {
	data, err := Marshal(meta, body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("frontmatter: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("frontmatter: write %s: %w", path, err)
	}
	return nil
}

// ReadFile reads the document at path into meta and returns its body.
func ReadFile(path string, meta any) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("frontmatter: read %s: %w", path, err)
	}
	return Unmarshal(data, meta)
}
