package transfer

import (
	"fmt"
	"strings"
)

// SourceKind is the family of data source a read targets.
type SourceKind int

const (
	KindUnsupported SourceKind = iota
	KindDatabase
	KindFile
)

func (k SourceKind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindFile:
		return "file"
	default:
		return "unsupported"
	}
}

// Tags classify an asset's data source type. The catalog collapses every
// concrete type (postgresql, oracle, s3, ...) into one of these families.
const (
	TagDatabase = "database"
	TagFile     = "file"
	TagGeneric  = "generic"
)

// SourceMeta is the raw attachment metadata a source is resolved from. A
// connection path, when present, wins over the individual properties.
type SourceMeta struct {
	Tag            string
	ConnectionPath string
	Properties     map[string]string
}

// Source is the normalized descriptor every downstream stage consumes.
// Database sources carry Schema and Table, file sources Bucket and FileName.
type Source struct {
	Kind     SourceKind
	Schema   string
	Table    string
	Bucket   string
	FileName string
}

// ResolveSource normalizes attachment metadata into a Source.
//
// Connection paths are slash-separated and open with the connection name.
// For databases the last two segments are schema and table. For files the
// segment after the connection name is the bucket and everything after it
// is the object key, slashes included. Without a path the same fields come
// from the attachment properties.
func ResolveSource(meta SourceMeta) (Source, error) {
	if meta.ConnectionPath != "" {
		return resolveFromPath(meta.Tag, meta.ConnectionPath)
	}
	return resolveFromProperties(meta.Tag, meta.Properties)
}

func resolveFromPath(tag, connPath string) (Source, error) {
	names := strings.Split(strings.TrimPrefix(connPath, "/"), "/")
	switch tag {
	case TagDatabase:
		if len(names) < 2 {
			return Source{}, fmt.Errorf("%w: connection path %q has no schema and table segments",
				ErrWrongDatabaseSchemaOrTable, connPath)
		}
		return Source{
			Kind:   KindDatabase,
			Schema: names[len(names)-2],
			Table:  names[len(names)-1],
		}, nil
	case TagFile:
		if len(names) < 2 {
			return Source{}, fmt.Errorf("%w: connection path %q has no bucket segment",
				ErrWrongFileLocation, connPath)
		}
		fileName := strings.Join(names[2:], "/")
		if fileName == "" {
			return Source{}, ErrMissingFileName
		}
		return Source{
			Kind:     KindFile,
			Bucket:   names[1],
			FileName: fileName,
		}, nil
	case TagGeneric:
		return Source{}, ErrNotImplemented
	default:
		return Source{}, &UnrecognizedDataSourceError{Type: tag}
	}
}

func resolveFromProperties(tag string, props map[string]string) (Source, error) {
	switch tag {
	case TagDatabase:
		schema, table := props["schema_name"], props["table_name"]
		if schema == "" || table == "" {
			return Source{}, fmt.Errorf("%w: asset properties must name schema_name and table_name",
				ErrWrongDatabaseSchemaOrTable)
		}
		return Source{Kind: KindDatabase, Schema: schema, Table: table}, nil
	case TagFile:
		fileName := props["file_name"]
		if fileName == "" {
			return Source{}, ErrMissingFileName
		}
		// Bucket may be absent here; the command builder falls back to the
		// connection properties in that case.
		return Source{Kind: KindFile, Bucket: props["bucket"], FileName: fileName}, nil
	case TagGeneric:
		return Source{}, ErrNotImplemented
	default:
		return Source{}, &UnrecognizedDataSourceError{Type: tag}
	}
}
