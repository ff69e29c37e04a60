package transfer

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes emitted by the transfer service when a command references a
// destination it cannot serve. They arrive embedded in the gRPC status
// message, so classification is a substring match on the error text.
const (
	codeWrongLocationProperty      = "CDICO2034E"
	codeWrongFileLocation          = "CDICO2015E"
	codeWrongDatabaseSchemaOrTable = "CDICO2005E"
)

var (
	// ErrDataSourceTypeNotRecognized reports an asset whose data source type
	// is neither a database nor a flat file family.
	ErrDataSourceTypeNotRecognized = errors.New("data source type not recognized")

	// ErrMissingFileName reports a file asset with no file name to read.
	ErrMissingFileName = errors.New("file data source requires a file name")

	// ErrNotImplemented reports a recognized data source family the transfer
	// service has no reader for.
	ErrNotImplemented = errors.New("data source type not implemented")

	// ErrWrongLocationProperty means the remote rejected one of the location
	// properties in the command (code CDICO2034E).
	ErrWrongLocationProperty = errors.New("wrong location property for data source")

	// ErrWrongFileLocation means the remote could not find the requested
	// bucket or file (code CDICO2015E).
	ErrWrongFileLocation = errors.New("wrong file location for data source")

	// ErrWrongDatabaseSchemaOrTable means the remote could not resolve the
	// schema or table named in the command (code CDICO2005E).
	ErrWrongDatabaseSchemaOrTable = errors.New("wrong database schema or table for data source")
)

// UnrecognizedDataSourceError carries the offending type name alongside
// ErrDataSourceTypeNotRecognized.
type UnrecognizedDataSourceError struct {
	Type string
}

func (e *UnrecognizedDataSourceError) Error() string {
	return fmt.Sprintf("transfer service cannot read %q data sources", e.Type)
}

func (e *UnrecognizedDataSourceError) Unwrap() error {
	return ErrDataSourceTypeNotRecognized
}

// StreamError reports a transport failure while draining one endpoint of a
// session. Reads are never retried automatically; retry policy belongs to
// the caller.
type StreamError struct {
	Endpoint int
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("data stream failed on endpoint %d: %v", e.Endpoint, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// classifyOpenErr maps a session-open failure onto a sentinel when the
// remote error text carries a known location code.
func classifyOpenErr(err error) error {
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), codeWrongLocationProperty):
		return fmt.Errorf("%w: %v", ErrWrongLocationProperty, err)
	case strings.Contains(err.Error(), codeWrongFileLocation):
		return fmt.Errorf("%w: %v", ErrWrongFileLocation, err)
	default:
		return err
	}
}

// classifyPlanErr maps a partition-probe failure onto the schema/table
// sentinel. Probe commands name a schema and table, so CDICO2005E is the
// code the remote answers with when either does not exist.
func classifyPlanErr(err error) error {
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), codeWrongDatabaseSchemaOrTable):
		return fmt.Errorf("%w: %v", ErrWrongDatabaseSchemaOrTable, err)
	default:
		return err
	}
}
