// Package connection models platform data connections: where a dataset
// lives, how it is reached, and how to move it in and out of memory.
package connection

// Location addresses a dataset within its source system.
type Location interface {
	location()
}

// S3Location addresses an object in an S3-compatible bucket.
type S3Location struct {
	Bucket string
	Path   string
}

// DatabaseLocation addresses a table reachable through a connection asset.
type DatabaseLocation struct {
	Schema string
	Table  string
}

// FilesystemLocation addresses a managed asset file by its storage path.
type FilesystemLocation struct {
	Path string
}

// AssetLocation names a catalogued data asset by id.
type AssetLocation struct {
	ID string
}

// VolumeLocation addresses a file on an NFS-backed volume. Volume may be
// empty when the connection properties name the volume.
type VolumeLocation struct {
	Volume string
	Path   string
}

func (S3Location) location()         {}
func (DatabaseLocation) location()   {}
func (FilesystemLocation) location() {}
func (AssetLocation) location()      {}
func (VolumeLocation) location()     {}

// Connection identifies how a location is reached: by connection asset id,
// or with inline properties for sources outside the catalog.
type Connection struct {
	AssetID    string
	Properties map[string]string
}

// ReadOptions tune how file payloads are decoded.
type ReadOptions struct {
	// Separator is the field delimiter. Empty means comma.
	Separator string
	// Sheet selects a spreadsheet sheet by name.
	Sheet string
	// Encoding is the text encoding. Empty means UTF-8.
	Encoding string
}

// DataConnection binds a location to the connection it is reached through.
type DataConnection struct {
	Connection Connection
	Location   Location
	Options    ReadOptions
}
