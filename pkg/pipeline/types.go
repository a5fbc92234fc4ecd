package pipeline

// LayoutType identifies how many images share one device display.
type LayoutType string

const (
	LayoutSingle LayoutType = "single"
	LayoutPaired LayoutType = "paired"
	LayoutTriple LayoutType = "triple"
)

// Orientation classifies a width x height pair.
type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
	OrientationSquare    Orientation = "square"
)

// Processing status constants
const (
	StatusProcessed = "processed"
	StatusDuplicate = "duplicate"
)

// Source identifies one image awaiting processing. Created by the
// upstream ingestion pipeline, immutable here.
type Source struct {
	ID          string `json:"id"`
	StagingPath string `json:"staging_path"`
	Origin      string `json:"origin"`
	ExternalID  string `json:"external_id,omitempty"`
}

// LayoutFlags enables layout kinds for one device.
type LayoutFlags struct {
	Single bool `json:"single"`
	Paired bool `json:"paired"`
	Triple bool `json:"triple"`
}

// Any reports whether at least one layout kind is enabled.
func (f LayoutFlags) Any() bool {
	return f.Single || f.Paired || f.Triple
}

// DeviceGeometry describes one display target. Supplied by the backend,
// read-only to this system. Gap is the pixel spacing between images in
// multi-image layouts and defaults to 0 when absent.
type DeviceGeometry struct {
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Orientation Orientation `json:"orientation"`
	Gap         int         `json:"gap,omitempty"`
	Layouts     LayoutFlags `json:"layouts"`
}

// LayoutCandidate is one computed layout option for a (source, device)
// pair. Ephemeral, never persisted.
type LayoutCandidate struct {
	Layout          LayoutType
	TargetWidth     int
	TargetHeight    int
	CropCostPercent float64
}

// Variant is one rendered artifact, identified by
// (fingerprint, layout, width, height). Immutable once produced.
type Variant struct {
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	Orientation   Orientation `json:"orientation"`
	Layout        LayoutType  `json:"layout_type"`
	StoragePath   string      `json:"storage_path"`
	FileSizeBytes int64       `json:"file_size_bytes"`
}

// LayoutFailure records one layout render that failed without failing
// its enclosing source. Partial variant sets are a valid outcome.
type LayoutFailure struct {
	Layout LayoutType `json:"layout_type"`
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Reason string     `json:"reason"`
}

// SourceMetadata describes the original image as decoded.
type SourceMetadata struct {
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Orientation Orientation `json:"orientation"`
	Format      string      `json:"format"`
	SizeBytes   int64       `json:"size_bytes"`
	StoragePath string      `json:"storage_path,omitempty"`
}

// ProcessingResult is the unit handed back to the coordinator and
// onward to the backend. Duplicate results always carry an empty
// variant list.
type ProcessingResult struct {
	Status        string          `json:"status"`
	Fingerprint   string          `json:"fingerprint"`
	Metadata      *SourceMetadata `json:"metadata,omitempty"`
	Palette       []string        `json:"palette,omitempty"`
	Variants      []Variant       `json:"variants"`
	FailedLayouts []LayoutFailure `json:"failed_layouts,omitempty"`
}

// JobProcessSource is the durable worker's only job type.
const JobProcessSource = "process_source"

// ProcessRequest asks the durable worker to process one source.
type ProcessRequest struct {
	Source  Source `json:"source"`
	Job     string `json:"job"`
	Attempt int    `json:"attempt"`
}

// ProcessResponse is returned when a source workflow is enqueued.
type ProcessResponse struct {
	RunID string `json:"run_id"`
}
