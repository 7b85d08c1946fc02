// Package onboarding implements the bulk device onboarding pipeline: CSV
// import with per-row failure isolation, the matching export and template
// writers, and enrollment group removal. Import and export share one column
// layout so an exported file round-trips through import unchanged.
package onboarding

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

const (
	columnDeviceID = "device_id"
	columnModelID  = "model_id"
)

// ColumnSchema is the declared tag and writable-property vocabulary the
// column layout is built from.
type ColumnSchema struct {
	Tags       []string
	Properties []string
}

// SchemaSource resolves the column schema once per import or export call.
type SchemaSource interface {
	ColumnSchema(ctx context.Context) (ColumnSchema, error)
}

// ModelUnionSchema derives the column schema as the union of all registered
// device models' declared tags and properties, sorted for a stable layout.
type ModelUnionSchema struct {
	Models interfaces.ModelStore
}

// ColumnSchema implements SchemaSource.
func (s ModelUnionSchema) ColumnSchema(ctx context.Context) (ColumnSchema, error) {
	models, err := s.Models.ListModels(ctx)
	if err != nil {
		return ColumnSchema{}, fmt.Errorf("resolving column schema: %w", err)
	}

	tags := map[string]struct{}{}
	properties := map[string]struct{}{}
	for _, model := range models {
		for _, tag := range model.TagSchema {
			tags[tag] = struct{}{}
		}
		for _, property := range model.PropertySchema {
			properties[property] = struct{}{}
		}
	}
	return ColumnSchema{
		Tags:       sortedKeys(tags),
		Properties: sortedKeys(properties),
	}, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ColumnLayout maps between CSV columns and row fields. The canonical order
// is device_id, model_id, declared tags, declared writable properties.
type ColumnLayout struct {
	schema ColumnSchema

	deviceIdx int
	modelIdx  int
	tagIdx    map[string]int
	propIdx   map[string]int

	// missing lists required columns absent from the header. A non-empty
	// list fails every row rather than aborting the batch.
	missing []string
}

// NewColumnLayout builds the canonical layout used for export and template
// generation.
func NewColumnLayout(schema ColumnSchema) *ColumnLayout {
	layout := &ColumnLayout{
		schema:    schema,
		deviceIdx: 0,
		modelIdx:  1,
		tagIdx:    make(map[string]int, len(schema.Tags)),
		propIdx:   make(map[string]int, len(schema.Properties)),
	}
	for i, tag := range schema.Tags {
		layout.tagIdx[tag] = 2 + i
	}
	for i, property := range schema.Properties {
		layout.propIdx[property] = 2 + len(schema.Tags) + i
	}
	return layout
}

// ResolveHeader builds a layout from an actual file header. Header names
// must match schema field names exactly; unknown columns are ignored.
func ResolveHeader(schema ColumnSchema, header []string) *ColumnLayout {
	layout := &ColumnLayout{
		schema:    schema,
		deviceIdx: -1,
		modelIdx:  -1,
		tagIdx:    make(map[string]int, len(schema.Tags)),
		propIdx:   make(map[string]int, len(schema.Properties)),
	}

	declaredTags := toSet(schema.Tags)
	declaredProperties := toSet(schema.Properties)

	for i, name := range header {
		name = strings.TrimSpace(name)
		switch {
		case name == columnDeviceID:
			layout.deviceIdx = i
		case name == columnModelID:
			layout.modelIdx = i
		default:
			if _, ok := declaredTags[name]; ok {
				layout.tagIdx[name] = i
				continue
			}
			if _, ok := declaredProperties[name]; ok {
				layout.propIdx[name] = i
			}
		}
	}

	if layout.deviceIdx < 0 {
		layout.missing = append(layout.missing, columnDeviceID)
	}
	if layout.modelIdx < 0 {
		layout.missing = append(layout.missing, columnModelID)
	}
	return layout
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Header returns the canonical header row.
func (l *ColumnLayout) Header() []string {
	header := make([]string, 0, 2+len(l.schema.Tags)+len(l.schema.Properties))
	header = append(header, columnDeviceID, columnModelID)
	header = append(header, l.schema.Tags...)
	header = append(header, l.schema.Properties...)
	return header
}

// MissingColumns returns the required columns absent from the resolved
// header, empty when the header is usable.
func (l *ColumnLayout) MissingColumns() []string {
	return l.missing
}

// ParseRecord converts one CSV record into an ImportRow. Cells outside the
// record's bounds and empty cells are treated as absent.
func (l *ColumnLayout) ParseRecord(index int, record []string) interfaces.ImportRow {
	row := interfaces.ImportRow{Index: index}
	row.DeviceID = interfaces.DeviceID(cell(record, l.deviceIdx))
	row.ModelID = interfaces.ModelID(cell(record, l.modelIdx))

	for tag, idx := range l.tagIdx {
		if value := cell(record, idx); value != "" {
			if row.Tags == nil {
				row.Tags = make(map[string]string)
			}
			row.Tags[tag] = value
		}
	}
	for property, idx := range l.propIdx {
		if value := cell(record, idx); value != "" {
			if row.Properties == nil {
				row.Properties = make(map[string]string)
			}
			row.Properties[property] = value
		}
	}
	return row
}

// FormatDevice serializes a device into a record matching the canonical
// layout.
func (l *ColumnLayout) FormatDevice(device *interfaces.Device) []string {
	record := make([]string, 2+len(l.schema.Tags)+len(l.schema.Properties))
	record[0] = device.ID.String()
	record[1] = device.ModelID.String()
	for i, tag := range l.schema.Tags {
		record[2+i] = device.Tags[tag]
	}
	for i, property := range l.schema.Properties {
		record[2+len(l.schema.Tags)+i] = device.Properties[property]
	}
	return record
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
