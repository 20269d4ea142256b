// Package upload checks files before they are forwarded to the backend.
package upload

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/closeflow/internal/backend"
)

// Upload kinds accepted by the backend.
const (
	KindTrialBalance = "trial_balance"
	KindAdjustments  = "adjustments"
	KindMapping      = "mapping"
	KindConfig       = "config"
)

// DefaultMaxBytes caps a single uploaded file.
const DefaultMaxBytes = 25 << 20

// ErrUnknownKind is returned for unsupported upload kinds.
var ErrUnknownKind = errors.New("upload: unknown kind")

// ValidationError explains why a file was rejected.
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("upload: %s: %s", e.File, e.Reason)
}

type rule struct {
	extensions []string
	required   [][]string
}

// Each required entry lists accepted aliases for one column.
var rules = map[string]rule{
	KindTrialBalance: {
		extensions: []string{".xlsx", ".csv"},
		required:   [][]string{{"account", "gl_code", "account_code"}},
	},
	KindAdjustments: {
		extensions: []string{".xlsx", ".csv"},
		required: [][]string{
			{"account", "gl_code", "account_code"},
			{"debit", "dr"},
			{"credit", "cr"},
		},
	},
	KindMapping: {
		extensions: []string{".xlsx", ".csv"},
	},
	KindConfig: {
		extensions: []string{".xlsx", ".csv", ".json", ".yaml", ".yml"},
	},
}

// Kinds lists the supported upload kinds.
func Kinds() []string {
	return []string{KindTrialBalance, KindAdjustments, KindMapping, KindConfig}
}

// Validator checks uploads against per-kind rules.
type Validator struct {
	MaxBytes int64
}

// NewValidator constructs a Validator. A non-positive limit uses DefaultMaxBytes.
func NewValidator(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Validator{MaxBytes: maxBytes}
}

// Validate checks every file and returns the first failure.
func (v *Validator) Validate(kind string, files []backend.UploadFile) error {
	r, ok := rules[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if len(files) == 0 {
		return &ValidationError{File: kind, Reason: "no files provided"}
	}
	for _, f := range files {
		if err := v.validateFile(r, f); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateFile(r rule, f backend.UploadFile) error {
	name := filepath.Base(f.Name)
	if name == "" || name == "." || name != f.Name {
		return &ValidationError{File: f.Name, Reason: "invalid file name"}
	}
	if len(f.Content) == 0 {
		return &ValidationError{File: name, Reason: "file is empty"}
	}
	if int64(len(f.Content)) > v.MaxBytes {
		return &ValidationError{File: name, Reason: fmt.Sprintf("file exceeds %d bytes", v.MaxBytes)}
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !contains(r.extensions, ext) {
		return &ValidationError{File: name, Reason: fmt.Sprintf("unsupported file type %q, expected one of %s", ext, strings.Join(r.extensions, ", "))}
	}

	switch ext {
	case ".json":
		if !json.Valid(f.Content) {
			return &ValidationError{File: name, Reason: "invalid JSON"}
		}
		return nil
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(f.Content, &doc); err != nil {
			return &ValidationError{File: name, Reason: "invalid YAML"}
		}
		return nil
	}

	if len(r.required) == 0 {
		return nil
	}
	header, err := readHeader(ext, f.Content)
	if err != nil {
		return &ValidationError{File: name, Reason: err.Error()}
	}
	var missing []string
	for _, aliases := range r.required {
		if !hasAny(header, aliases) {
			missing = append(missing, aliases[0])
		}
	}
	if len(missing) > 0 {
		return &ValidationError{File: name, Reason: "missing required columns: " + strings.Join(missing, ", ")}
	}
	return nil
}

// readHeader returns the first non-empty row, normalised to snake case.
func readHeader(ext string, content []byte) (map[string]struct{}, error) {
	var rows [][]string
	switch ext {
	case ".csv":
		r := csv.NewReader(bytes.NewReader(content))
		r.FieldsPerRecord = -1
		for {
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, errors.New("unreadable CSV")
			}
			if !blank(rec) {
				rows = append(rows, rec)
				break
			}
		}
	case ".xlsx":
		f, err := excelize.OpenReader(bytes.NewReader(content))
		if err != nil {
			return nil, errors.New("unreadable workbook")
		}
		defer func() {
			_ = f.Close()
		}()
		all, err := f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, errors.New("unreadable worksheet")
		}
		for _, row := range all {
			if !blank(row) {
				rows = append(rows, row)
				break
			}
		}
	}
	if len(rows) == 0 {
		return nil, errors.New("no header row")
	}
	header := make(map[string]struct{}, len(rows[0]))
	for _, cell := range rows[0] {
		header[normalise(cell)] = struct{}{}
	}
	return header, nil
}

func normalise(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
	return strings.Join(strings.Fields(strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(s)), "_")
}

func hasAny(header map[string]struct{}, aliases []string) bool {
	for _, a := range aliases {
		if _, ok := header[a]; ok {
			return true
		}
	}
	return false
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
