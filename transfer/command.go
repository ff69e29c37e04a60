package transfer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Connection properties that configure client-side credential handling.
// The transfer service rejects commands that carry them, so the builder
// strips them before marshaling.
var sensitiveConnectionKeys = []string{
	"username_password_security",
	"username_password_encryption",
}

// FileHints mirror the caller's interaction parameters for flat files. The
// zero value means a comma-separated UTF-8 file with no sheet selection.
type FileHints struct {
	Encoding  string
	Sheet     string
	Separator string
}

// CommandSpec carries everything needed to build the session commands for
// one read operation.
type CommandSpec struct {
	// TypeName is the concrete remote data source type, e.g. "postgresql".
	TypeName string
	// Properties are the connection properties as stored on the connection
	// asset. The builder copies them and never mutates the caller's map.
	Properties map[string]string
	Source     Source
	// Partitions is the num_partitions each command asks for.
	Partitions int
	Hints      FileHints
}

type commandEnvelope struct {
	DatasourceType        datasourceType    `json:"datasource_type"`
	ConnectionProperties  map[string]string `json:"connection_properties"`
	InteractionProperties map[string]string `json:"interaction_properties"`
	NumPartitions         int               `json:"num_partitions"`
}

type datasourceType struct {
	Entity entityName `json:"entity"`
}

type entityName struct {
	Name string `json:"name"`
}

// BuildCommands renders the session commands for a read. Database sources
// produce exactly one command; file sources produce one command per part
// key, so parts must not be empty for them.
func BuildCommands(spec CommandSpec, parts []string) ([]string, error) {
	switch spec.Source.Kind {
	case KindDatabase:
		cmd, err := buildCommand(spec, map[string]string{
			"schema_name": spec.Source.Schema,
			"table_name":  spec.Source.Table,
		})
		if err != nil {
			return nil, err
		}
		return []string{cmd}, nil
	case KindFile:
		if len(parts) == 0 {
			return nil, ErrMissingFileName
		}
		cmds := make([]string, 0, len(parts))
		for _, part := range parts {
			cmd, err := buildFileCommand(spec, part)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, cmd)
		}
		return cmds, nil
	default:
		return nil, ErrNotImplemented
	}
}

// buildSelectCommand renders a single-partition probe command that runs a
// select statement against a database source.
func buildSelectCommand(spec CommandSpec, selectStmt string) (string, error) {
	probe := spec
	probe.Partitions = 1
	return buildCommand(probe, map[string]string{
		"schema_name":      spec.Source.Schema,
		"table_name":       spec.Source.Table,
		"select_statement": selectStmt,
	})
}

func buildFileCommand(spec CommandSpec, part string) (string, error) {
	key, sheet := splitSheetSuffix(part, spec.Hints.Sheet)
	interaction := map[string]string{
		"infer_schema": "true",
		"file_name":    key,
	}
	if bucket := fileBucket(spec); bucket != "" {
		interaction["bucket"] = bucket
	}
	for k, v := range fileFormatProperties(key, spec.Hints, sheet) {
		interaction[k] = v
	}
	return buildCommand(spec, interaction)
}

func buildCommand(spec CommandSpec, interaction map[string]string) (string, error) {
	partitions := spec.Partitions
	if partitions < 1 {
		partitions = 1
	}
	env := commandEnvelope{
		DatasourceType:        datasourceType{Entity: entityName{Name: spec.TypeName}},
		ConnectionProperties:  stripSensitive(spec.Properties),
		InteractionProperties: interaction,
		NumPartitions:         partitions,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal transfer command: %w", err)
	}
	return string(raw), nil
}

// fileBucket picks the bucket for a file command. A bucket in the
// connection properties wins over the one parsed from the connection path.
func fileBucket(spec CommandSpec) string {
	if b := spec.Properties["bucket"]; b != "" {
		return b
	}
	return spec.Source.Bucket
}

// fileFormatProperties derives the format block of a file command from the
// object key and the caller's hints. Spreadsheets win over separator hints,
// and any separator other than a comma switches the format to delimited.
func fileFormatProperties(key string, hints FileHints, sheet string) map[string]string {
	props := make(map[string]string)
	if hints.Encoding != "" {
		props["encoding"] = hints.Encoding
	}
	switch {
	case strings.Contains(key, ".xls"):
		props["file_format"] = "excel"
		if sheet == "" {
			sheet = "0"
		}
		props["sheet_name"] = sheet
	case hints.Separator != "" && hints.Separator != ",":
		props["file_format"] = "delimited"
		props["field_delimiter"] = hints.Separator
	default:
		props["file_format"] = "csv"
	}
	return props
}

// splitSheetSuffix handles spreadsheet keys that carry the sheet as a
// trailing path segment after the extension, e.g. "dir/report.xlsx/July".
// The segment becomes the sheet name unless the caller already chose one,
// and the key is cut back to the extension.
func splitSheetSuffix(key, sheetHint string) (string, string) {
	for _, ext := range []string{".xlsx", ".xls"} {
		idx := strings.Index(key, ext)
		if idx < 0 {
			continue
		}
		base := key[:idx+len(ext)]
		if base == key {
			return key, sheetHint
		}
		rest := strings.TrimPrefix(key[idx+len(ext):], "/")
		if rest == "" {
			return base, sheetHint
		}
		sheet := sheetHint
		if sheet == "" {
			segments := strings.Split(rest, "/")
			sheet = segments[len(segments)-1]
		}
		return base, sheet
	}
	return key, sheetHint
}

func stripSensitive(props map[string]string) map[string]string {
	clean := make(map[string]string, len(props))
	for k, v := range props {
		clean[k] = v
	}
	for _, k := range sensitiveConnectionKeys {
		delete(clean, k)
	}
	return clean
}
