package setter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grovetools/core/logging"
	"github.com/grovetools/jsonset/pkg/document"
	"github.com/sirupsen/logrus"
)

// ErrMalformedValue is returned when the value literal is not valid JSON.
var ErrMalformedValue = errors.New("malformed value")

// emptyDocument is written to a target path that does not exist yet.
const emptyDocument = "{}"

// Config is the immutable input of a single run.
type Config struct {
	Path  string
	Key   string
	Value string
	// Lenient accepts comments and trailing commas in the existing document.
	Lenient bool
}

// Result describes what a run did to the target document.
type Result struct {
	Path    string `json:"path"`
	Key     string `json:"key"`
	Created bool   `json:"created"`
	Updated bool   `json:"updated"`
	// Recovered holds the reason the existing content was discarded, if it was.
	Recovered string `json:"recovered,omitempty"`
	// Output is the rendered document, whether or not it was written.
	Output []byte `json:"-"`
}

// Action represents a single action performed or simulated by the service
type Action struct {
	Type        ActionType
	Description string
	Path        string
	Success     bool
	Error       error
}

// ActionType represents the type of action being performed
type ActionType string

const (
	ActionCreateDir  ActionType = "create_dir"
	ActionCreateFile ActionType = "create_file"
	ActionSetKey     ActionType = "set_key"
	ActionWriteFile  ActionType = "write_file"
)

// Service applies key/value updates to JSON documents on disk.
// In dry-run mode nothing is created or written; the actions are only recorded.
type Service struct {
	dryRun  bool
	actions []Action
	logger  *logrus.Entry
}

// NewService creates a new setter service
func NewService(dryRun bool) *Service {
	return &Service{
		dryRun:  dryRun,
		actions: []Action{},
		logger:  logging.NewLogger("jsonset"),
	}
}

// WithLogger replaces the service logger.
func (s *Service) WithLogger(logger *logrus.Entry) *Service {
	s.logger = logger
	return s
}

// IsDryRun returns whether the service is in dry-run mode
func (s *Service) IsDryRun() bool {
	return s.dryRun
}

// Actions returns all actions performed or simulated
func (s *Service) Actions() []Action {
	return s.actions
}

func (s *Service) logAction(actionType ActionType, description string, path string, success bool, err error) {
	s.actions = append(s.actions, Action{
		Type:        actionType,
		Description: description,
		Path:        path,
		Success:     success,
		Error:       err,
	})
}

// Apply sets cfg.Key to the parsed cfg.Value in the document at cfg.Path.
// The value is validated before anything on disk is touched.
func (s *Service) Apply(cfg Config) (*Result, error) {
	value, err := document.ValidateValue(cfg.Value)
	if err != nil {
		return nil, fmt.Errorf("%w for key %q: %v", ErrMalformedValue, cfg.Key, err)
	}

	result := &Result{Path: cfg.Path, Key: cfg.Key}
	displayPath := AbbreviatePath(cfg.Path)

	created, err := s.ensureFile(cfg.Path)
	if err != nil {
		return nil, err
	}
	result.Created = created

	data, err := s.readFile(cfg.Path, created)
	if err != nil {
		return nil, err
	}

	doc, cause := s.loadOrDefault(data, cfg.Lenient)
	if cause != nil {
		s.logger.WithError(cause).Warnf("Discarding unreadable content of %s", displayPath)
		result.Recovered = cause.Error()
	}

	result.Updated = doc.Set(cfg.Key, value)
	verb := "Add"
	if result.Updated {
		verb = "Update"
	}
	s.logger.Debugf("%s key %q in %s", verb, cfg.Key, displayPath)
	s.logAction(ActionSetKey, fmt.Sprintf("%s key %q", verb, cfg.Key), cfg.Path, true, nil)

	out, err := doc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", cfg.Path, err)
	}
	result.Output = out

	if err := s.writeFile(cfg.Path, out); err != nil {
		return nil, err
	}
	return result, nil
}

// loadOrDefault parses data as a document, falling back to an empty one.
// The returned error is the discarded parse failure and is never fatal.
func (s *Service) loadOrDefault(data []byte, lenient bool) (*document.Document, error) {
	parse := document.Parse
	if lenient {
		parse = document.ParseLenient
	}
	doc, err := parse(data)
	if err != nil {
		return document.New(), err
	}
	return doc, nil
}

// ensureFile creates path, its parent directories and an empty document if
// path does not exist. It reports whether the file was created.
func (s *Service) ensureFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	displayPath := AbbreviatePath(path)
	dir := filepath.Dir(path)

	if err := s.ensureDir(dir); err != nil {
		return false, err
	}

	if s.dryRun {
		s.logger.Infof("[dry-run] Would create %s", displayPath)
		s.logAction(ActionCreateFile, fmt.Sprintf("Create %s", displayPath), path, true, nil)
		return true, nil
	}

	if err := os.WriteFile(path, []byte(emptyDocument), 0644); err != nil {
		s.logAction(ActionCreateFile, fmt.Sprintf("Create %s", displayPath), path, false, err)
		return false, fmt.Errorf("failed to create file %s: %w", path, err)
	}
	s.logger.Debugf("Created %s", displayPath)
	s.logAction(ActionCreateFile, fmt.Sprintf("Create %s", displayPath), path, true, nil)
	return true, nil
}

// ensureDir creates dir and its parents when dir is missing.
// Nothing is recorded when the directory already exists.
func (s *Service) ensureDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}

	description := fmt.Sprintf("Create directory %s", AbbreviatePath(dir))
	if s.dryRun {
		s.logger.Infof("[dry-run] Would create directory %s", AbbreviatePath(dir))
		s.logAction(ActionCreateDir, description, dir, true, nil)
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logAction(ActionCreateDir, description, dir, false, err)
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	s.logger.Debugf("Created directory %s", AbbreviatePath(dir))
	s.logAction(ActionCreateDir, description, dir, true, nil)
	return nil
}

func (s *Service) readFile(path string, created bool) ([]byte, error) {
	if s.dryRun && created {
		return []byte(emptyDocument), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	s.logger.Debugf("Read %d bytes from %s", len(data), AbbreviatePath(path))
	return data, nil
}

func (s *Service) writeFile(path string, content []byte) error {
	displayPath := AbbreviatePath(path)
	description := fmt.Sprintf("Write %s", displayPath)

	if s.dryRun {
		s.logger.Infof("[dry-run] Would write to %s", displayPath)
		s.logAction(ActionWriteFile, description, path, true, nil)
		return nil
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		s.logAction(ActionWriteFile, description, path, false, err)
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	s.logAction(ActionWriteFile, description, path, true, nil)
	return nil
}

// AbbreviatePath replaces the home directory with ~ for display
func AbbreviatePath(path string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return path
	}
	if path == homeDir || strings.HasPrefix(path, homeDir+string(filepath.Separator)) {
		return "~" + path[len(homeDir):]
	}
	return path
}

// MarshalSummary renders r as indented JSON for --json output. With
// includeDocument the rendered document is embedded under "document".
func (r *Result) MarshalSummary(includeDocument bool) ([]byte, error) {
	summary := struct {
		*Result
		Document json.RawMessage `json:"document,omitempty"`
	}{Result: r}
	if includeDocument {
		summary.Document = r.Output
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
