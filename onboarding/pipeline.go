package onboarding

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fleetcore/device-provisioning-backend/enrollment"
	"github.com/fleetcore/device-provisioning-backend/interfaces"
	"github.com/fleetcore/device-provisioning-backend/metrics"
)

// DefaultImportWorkers bounds the provisioning fan-out of one import call.
const DefaultImportWorkers = 4

// Pipeline drives bulk onboarding: it parses row streams, upserts device
// records and provisions credentials through the issuer. One Pipeline is
// shared across requests; individual calls hold no cross-call state.
type Pipeline struct {
	devices interfaces.DeviceStore
	models  interfaces.ModelStore
	issuer  *enrollment.CredentialIssuer
	groups  *enrollment.GroupStore
	schema  SchemaSource
	workers int
	log     *slog.Logger
}

// NewPipeline creates a pipeline. workers <= 0 selects DefaultImportWorkers.
func NewPipeline(devices interfaces.DeviceStore, models interfaces.ModelStore, issuer *enrollment.CredentialIssuer, groups *enrollment.GroupStore, schema SchemaSource, workers int, log *slog.Logger) *Pipeline {
	if workers <= 0 {
		workers = DefaultImportWorkers
	}
	return &Pipeline{
		devices: devices,
		models:  models,
		issuer:  issuer,
		groups:  groups,
		schema:  schema,
		workers: workers,
		log:     log,
	}
}

// ImportDeviceList consumes a CSV stream and returns one result line per
// data row, in input order. Row-level failures never abort the batch; only
// an unreadable stream does. Rows are handed to a bounded worker pool as
// they are read, each with a pre-allocated result slot, so memory stays
// proportional to the result report and order is preserved regardless of
// scheduling. Records with an unexpected field count fail per-row instead
// of aborting the stream.
func (p *Pipeline) ImportDeviceList(ctx context.Context, r io.Reader) ([]interfaces.ImportResultLine, error) {
	schema, err := p.schema.ColumnSchema(ctx)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading import header: %w", err)
	}

	layout := ResolveHeader(schema, header)
	if missing := layout.MissingColumns(); len(missing) > 0 {
		return p.failAllRows(reader, layout, missing)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(p.workers)

	// Only this loop appends to lines; workers write through their own
	// slot pointer and never touch the slice.
	var lines []*interfaces.ImportResultLine
	for index := 1; ; index++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cancelRun()
			_ = g.Wait()
			return nil, fmt.Errorf("reading import row %d: %w", index, err)
		}

		row := layout.ParseRecord(index, record)
		line := &interfaces.ImportResultLine{}
		lines = append(lines, line)
		g.Go(func() error {
			if gctx.Err() != nil {
				*line = failedLine(row, "import canceled")
			} else {
				*line = p.processRow(gctx, row)
			}
			metrics.ImportRows.WithLabelValues(string(line.Outcome)).Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]interfaces.ImportResultLine, len(lines))
	for i, line := range lines {
		results[i] = *line
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	p.log.Info("Import completed",
		slog.Int("rows", len(results)),
		slog.Int("failed", countOutcome(results, interfaces.OutcomeFailed)))
	return results, nil
}

// failAllRows drains the stream after a required column turned out to be
// absent: every data row gets a Failed line naming the missing columns.
func (p *Pipeline) failAllRows(reader *csv.Reader, layout *ColumnLayout, missing []string) ([]interfaces.ImportResultLine, error) {
	detail := fmt.Sprintf("missing required column(s): %s", strings.Join(missing, ", "))

	var results []interfaces.ImportResultLine
	for index := 1; ; index++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading import row %d: %w", index, err)
		}
		results = append(results, failedLine(layout.ParseRecord(index, record), detail))
		metrics.ImportRows.WithLabelValues(string(interfaces.OutcomeFailed)).Inc()
	}
	return results, nil
}

// processRow runs the per-row state machine: validate, upsert, provision.
// The upsert is not rolled back when provisioning fails afterwards; the
// operator re-importing the file expects the record to reflect the row.
func (p *Pipeline) processRow(ctx context.Context, row interfaces.ImportRow) interfaces.ImportResultLine {
	if row.DeviceID == "" && row.ModelID == "" && len(row.Tags) == 0 && len(row.Properties) == 0 {
		return interfaces.ImportResultLine{RowIndex: row.Index, Outcome: interfaces.OutcomeSkipped}
	}

	if err := row.DeviceID.Validate(); err != nil {
		return failedLine(row, fmt.Sprintf("invalid device_id: %v", err))
	}
	if err := row.ModelID.Validate(); err != nil {
		return failedLine(row, fmt.Sprintf("invalid model_id: %v", err))
	}

	model, err := p.models.GetModel(ctx, row.ModelID)
	if err != nil {
		if errors.Is(err, interfaces.ErrModelNotFound) {
			return failedLine(row, fmt.Sprintf("unknown model %q", row.ModelID))
		}
		return failedLine(row, fmt.Sprintf("resolving model %q: %v", row.ModelID, err))
	}
	if detail := validateRowSchema(row, model); detail != "" {
		return failedLine(row, detail)
	}

	upsert, err := p.devices.UpsertDevice(ctx, interfaces.Device{
		ID:         row.DeviceID,
		ModelID:    row.ModelID,
		Tags:       row.Tags,
		Properties: row.Properties,
	})
	if err != nil {
		return failedLine(row, fmt.Sprintf("storing device: %v", err))
	}

	// Credentials are re-derived only when the device is new or moved to a
	// different model; a plain data refresh keeps its existing key.
	if upsert.Outcome == interfaces.OutcomeCreated || upsert.ModelChanged {
		if _, err := p.issuer.Issue(ctx, row.DeviceID, row.ModelID); err != nil {
			return failedLine(row, fmt.Sprintf("provisioning credentials: %v", err))
		}
	}

	return interfaces.ImportResultLine{
		RowIndex: row.Index,
		DeviceID: row.DeviceID,
		Outcome:  upsert.Outcome,
	}
}

// validateRowSchema checks the row's tags and properties against the
// model's declared schema. A mismatch fails the row, not the batch.
func validateRowSchema(row interfaces.ImportRow, model *interfaces.DeviceModel) string {
	declaredTags := toSet(model.TagSchema)
	for tag := range row.Tags {
		if _, ok := declaredTags[tag]; !ok {
			return fmt.Sprintf("tag %q not declared by model %q", tag, model.ID)
		}
	}
	declaredProperties := toSet(model.PropertySchema)
	for property := range row.Properties {
		if _, ok := declaredProperties[property]; !ok {
			return fmt.Sprintf("property %q not declared by model %q", property, model.ID)
		}
	}
	return ""
}

// ExportDeviceList writes all known devices as CSV using the canonical
// column layout, ordered by device identifier. Its output fed back into
// ImportDeviceList yields only Updated outcomes for an unchanged fleet.
func (p *Pipeline) ExportDeviceList(ctx context.Context, w io.Writer) error {
	schema, err := p.schema.ColumnSchema(ctx)
	if err != nil {
		return err
	}
	layout := NewColumnLayout(schema)

	devices, err := p.devices.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices for export: %w", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(layout.Header()); err != nil {
		return fmt.Errorf("writing export header: %w", err)
	}
	for _, device := range devices {
		if err := writer.Write(layout.FormatDevice(device)); err != nil {
			return fmt.Errorf("writing export row for device %s: %w", device.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ExportTemplateFile writes the canonical header row and nothing else.
func (p *Pipeline) ExportTemplateFile(ctx context.Context, w io.Writer) error {
	schema, err := p.schema.ColumnSchema(ctx)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(NewColumnLayout(schema).Header()); err != nil {
		return fmt.Errorf("writing template header: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

// DeleteEnrollmentGroupByModel removes a model's enrollment group.
// Idempotent like the underlying store.
func (p *Pipeline) DeleteEnrollmentGroupByModel(ctx context.Context, modelID interfaces.ModelID) error {
	return p.groups.Delete(ctx, modelID)
}

func failedLine(row interfaces.ImportRow, detail string) interfaces.ImportResultLine {
	return interfaces.ImportResultLine{
		RowIndex:    row.Index,
		DeviceID:    row.DeviceID,
		Outcome:     interfaces.OutcomeFailed,
		ErrorDetail: detail,
	}
}

func countOutcome(lines []interfaces.ImportResultLine, outcome interfaces.Outcome) int {
	n := 0
	for _, line := range lines {
		if line.Outcome == outcome {
			n++
		}
	}
	return n
}
