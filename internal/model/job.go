package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// JobKind routes a job to its queue and processing stage.
type JobKind string

const (
	JobDXF      JobKind = "DXF"      // panels or cabinet spec -> cut layout
	JobGCode    JobKind = "GCODE"    // cut layout -> contour program
	JobDrilling JobKind = "DRILLING" // panels -> drilling program bundle
	JobZip      JobKind = "ZIP"      // completed jobs -> combined archive
)

func (k JobKind) Valid() bool {
	switch k {
	case JobDXF, JobGCode, JobDrilling, JobZip:
		return true
	}
	return false
}

// JobStatus is the job lifecycle state. Completed and Failed are
// terminal and never change afterwards.
type JobStatus string

const (
	StatusCreated    JobStatus = "Created"
	StatusProcessing JobStatus = "Processing"
	StatusCompleted  JobStatus = "Completed"
	StatusFailed     JobStatus = "Failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one unit of pipeline work. Context holds the kind-specific
// input as JSON and accumulates result fields as the job completes.
type Job struct {
	bun.BaseModel `bun:"table:cam_jobs,alias:j" json:"-"`

	ID             uuid.UUID       `bun:"id,pk,type:uuid" json:"id"`
	Kind           JobKind         `bun:"kind,notnull" json:"kind"`
	Status         JobStatus       `bun:"status,notnull" json:"status"`
	Attempt        int             `bun:"attempt,notnull" json:"attempt"`
	Context        json.RawMessage `bun:"context,type:jsonb" json:"context,omitempty"`
	ArtifactID     *uuid.UUID      `bun:"artifact_id,type:uuid,nullzero" json:"artifact_id,omitempty"`
	IdempotencyKey *string         `bun:"idempotency_key,unique,nullzero" json:"idempotency_key,omitempty"`
	Error          string          `bun:"error,nullzero" json:"error,omitempty"`
	OrderID        string          `bun:"order_id,nullzero" json:"order_id,omitempty"`
	CreatedAt      time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

// NewJob returns a Created job. An empty idempotency key stays NULL so
// the unique constraint only bites on real keys.
func NewJob(kind JobKind, context json.RawMessage, idempotencyKey string) Job {
	now := time.Now().UTC()
	j := Job{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    StatusCreated,
		Context:   context,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if idempotencyKey != "" {
		j.IdempotencyKey = &idempotencyKey
	}
	return j
}

// ArtifactType mirrors the job kind that produced the artifact.
type ArtifactType string

const (
	ArtifactDXF      ArtifactType = "DXF"
	ArtifactGCode    ArtifactType = "GCODE"
	ArtifactDrilling ArtifactType = "DRILLING"
	ArtifactZip      ArtifactType = "ZIP"
)

// Artifact is a stored output file. StorageKey is the object-store key;
// download URLs are minted on demand and never persisted.
type Artifact struct {
	bun.BaseModel `bun:"table:artifacts,alias:a" json:"-"`

	ID         uuid.UUID    `bun:"id,pk,type:uuid" json:"id"`
	Type       ArtifactType `bun:"type,notnull" json:"type"`
	StorageKey string       `bun:"storage_key,notnull" json:"storage_key"`
	SizeBytes  int64        `bun:"size_bytes,nullzero" json:"size_bytes,omitempty"`
	Checksum   string       `bun:"checksum,nullzero" json:"checksum,omitempty"` // sha256 hex
	CreatedAt  time.Time    `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt  *time.Time   `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
}

func NewArtifact(typ ArtifactType, storageKey string, size int64, checksum string) Artifact {
	return Artifact{
		ID:         uuid.New(),
		Type:       typ,
		StorageKey: storageKey,
		SizeBytes:  size,
		Checksum:   checksum,
		CreatedAt:  time.Now().UTC(),
	}
}

// JobPayload is the queue message. The context stays in the database;
// the payload only references it.
type JobPayload struct {
	JobID          string  `json:"job_id"`
	Kind           JobKind `json:"job_kind,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

// DeadLetter is a DLQ entry: the failed payload with enough context for
// an operator to diagnose and requeue.
type DeadLetter struct {
	JobID    string          `json:"job_id,omitempty"`
	Kind     JobKind         `json:"job_kind,omitempty"`
	Queue    string          `json:"queue,omitempty"`
	Error    string          `json:"error"`
	Payload  json.RawMessage `json:"payload"`
	Trace    string          `json:"trace,omitempty"`
	FailedAt time.Time       `json:"failed_at"`
}

// DXFContext is the input for DXF jobs: either an explicit panel list
// or a cabinet spec the calculator expands first.
type DXFContext struct {
	Panels   []Panel        `json:"panels,omitempty"`
	Cabinet  *CabinetSpec   `json:"cabinet,omitempty"`
	Settings *SettingsPatch `json:"settings,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Optimize *bool          `json:"optimize,omitempty"` // nil means true

	Extra map[string]any `json:"-"`
}

// OptimizeEnabled resolves the optional flag; packing is the default.
func (c DXFContext) OptimizeEnabled() bool {
	return c.Optimize == nil || *c.Optimize
}

func (c *DXFContext) UnmarshalJSON(data []byte) error {
	type alias DXFContext
	var a alias
	extra, err := splitExtra(data, &a, "panels", "cabinet", "settings", "tenant_id", "optimize")
	if err != nil {
		return err
	}
	*c = DXFContext(a)
	c.Extra = extra
	return nil
}

func (c DXFContext) MarshalJSON() ([]byte, error) {
	type alias DXFContext
	return mergeExtra(alias(c), c.Extra)
}

// GCodeContext is the input for GCODE jobs. Exactly one of the artifact
// or job reference selects the source DXF.
type GCodeContext struct {
	DXFArtifactID  string         `json:"dxf_artifact_id,omitempty"`
	DXFJobID       string         `json:"dxf_job_id,omitempty"`
	MachineProfile string         `json:"machine_profile,omitempty"`
	Settings       *SettingsPatch `json:"settings,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`

	Extra map[string]any `json:"-"`
}

func (c *GCodeContext) UnmarshalJSON(data []byte) error {
	type alias GCodeContext
	var a alias
	extra, err := splitExtra(data, &a, "dxf_artifact_id", "dxf_job_id", "machine_profile", "settings", "tenant_id")
	if err != nil {
		return err
	}
	*c = GCodeContext(a)
	c.Extra = extra
	return nil
}

func (c GCodeContext) MarshalJSON() ([]byte, error) {
	type alias GCodeContext
	return mergeExtra(alias(c), c.Extra)
}

// DrillingContext is the input for DRILLING jobs: panels with their
// drill points, the target controller and the bundle format.
type DrillingContext struct {
	OrderID        string         `json:"order_id,omitempty"`
	Panels         []Panel        `json:"panels"`
	MachineProfile string         `json:"machine_profile,omitempty"`
	OutputFormat   string         `json:"output_format,omitempty"` // zip or single
	Settings       *SettingsPatch `json:"settings,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`

	Extra map[string]any `json:"-"`
}

func (c *DrillingContext) UnmarshalJSON(data []byte) error {
	type alias DrillingContext
	var a alias
	extra, err := splitExtra(data, &a, "order_id", "panels", "machine_profile", "output_format", "settings", "tenant_id")
	if err != nil {
		return err
	}
	*c = DrillingContext(a)
	c.Extra = extra
	return nil
}

func (c DrillingContext) MarshalJSON() ([]byte, error) {
	type alias DrillingContext
	return mergeExtra(alias(c), c.Extra)
}

// ZipContext is the input for ZIP jobs: completed jobs whose artifacts
// get bundled into a single archive.
type ZipContext struct {
	JobIDs   []string `json:"job_ids"`
	TenantID string   `json:"tenant_id,omitempty"`

	Extra map[string]any `json:"-"`
}

func (c *ZipContext) UnmarshalJSON(data []byte) error {
	type alias ZipContext
	var a alias
	extra, err := splitExtra(data, &a, "job_ids", "tenant_id")
	if err != nil {
		return err
	}
	*c = ZipContext(a)
	c.Extra = extra
	return nil
}

func (c ZipContext) MarshalJSON() ([]byte, error) {
	type alias ZipContext
	return mergeExtra(alias(c), c.Extra)
}

// LayoutResult is what a finished DXF job records back into its context.
type LayoutResult struct {
	UtilizationPercent float64      `json:"utilization_percent"`
	PlacedCount        int          `json:"placed_count"`
	UnplacedCount      int          `json:"unplaced_count"`
	Strategy           string       `json:"strategy,omitempty"`
	Warnings           []string     `json:"warnings,omitempty"`
	Layout             *SheetLayout `json:"layout,omitempty"`
}

// MergeContext overlays the JSON encoding of add onto raw, key by key.
// Existing keys are overwritten; unknown keys in raw survive untouched.
func MergeContext(raw json.RawMessage, add any) (json.RawMessage, error) {
	all := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &all); err != nil {
			return nil, err
		}
	}
	encoded, err := json.Marshal(add)
	if err != nil {
		return nil, err
	}
	var overlay map[string]any
	if err := json.Unmarshal(encoded, &overlay); err != nil {
		return nil, err
	}
	for k, v := range overlay {
		all[k] = v
	}
	return json.Marshal(all)
}

// splitExtra decodes data into the typed struct and returns whatever
// keys the struct does not model, so round-trips lose nothing.
func splitExtra(data []byte, v any, known ...string) (map[string]any, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// mergeExtra re-encodes the typed struct and folds the preserved extra
// keys back in. Typed fields win on collision.
func mergeExtra(v any, extra map[string]any) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	var all map[string]any
	if err := json.Unmarshal(base, &all); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, ok := all[k]; !ok {
			all[k] = val
		}
	}
	return json.Marshal(all)
}
