// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/uptrace/bun"

	"github.com/toeirei/iscsictl/internal/model"
)

// exportSchemaVersion is written into every history export.
const exportSchemaVersion = 1

var (
	// now allows tests to control timestamps.
	now = func() time.Time { return time.Now().UTC() }
	// newID allows tests to control record ids.
	newID = func() string { return uuid.NewString() }
)

// DeploymentModel maps the deployments table.
type DeploymentModel struct {
	bun.BaseModel `bun:"table:deployments"`
	ID            string    `bun:"id,pk"`
	Role          string    `bun:"role"`
	Host          string    `bun:"host"`
	IQN           string    `bun:"iqn"`
	Device        string    `bun:"device"`
	Status        string    `bun:"status"`
	Error         string    `bun:"error"`
	StartedAt     time.Time `bun:"started_at"`
	FinishedAt    time.Time `bun:"finished_at,nullzero"`
}

func (m DeploymentModel) toModel() model.Deployment {
	d := model.Deployment{
		ID:        m.ID,
		Role:      model.Role(m.Role),
		Host:      m.Host,
		IQN:       m.IQN,
		Device:    m.Device,
		Status:    model.Status(m.Status),
		Error:     m.Error,
		StartedAt: m.StartedAt.UTC(),
	}
	if !m.FinishedAt.IsZero() {
		t := m.FinishedAt.UTC()
		d.FinishedAt = &t
	}
	return d
}

func fromModel(d model.Deployment) DeploymentModel {
	m := DeploymentModel{
		ID:        d.ID,
		Role:      string(d.Role),
		Host:      d.Host,
		IQN:       d.IQN,
		Device:    d.Device,
		Status:    string(d.Status),
		Error:     d.Error,
		StartedAt: d.StartedAt,
	}
	if d.FinishedAt != nil {
		m.FinishedAt = *d.FinishedAt
	}
	return m
}

// Journal records deployment runs.
type Journal struct {
	bun *bun.DB
}

// Close releases the database connection.
func (j *Journal) Close() error {
	return j.bun.Close()
}

// Begin stores a running record and returns it.
func (j *Journal) Begin(role model.Role, host, iqn, device string) (model.Deployment, error) {
	d := model.Deployment{
		ID:        newID(),
		Role:      role,
		Host:      host,
		IQN:       iqn,
		Device:    device,
		Status:    model.StatusRunning,
		StartedAt: now(),
	}
	m := fromModel(d)
	if _, err := j.bun.NewInsert().Model(&m).Exec(context.Background()); err != nil {
		return model.Deployment{}, fmt.Errorf("failed to record deployment: %w", MapDBError(err))
	}
	return d, nil
}

// Finish closes a record with the outcome of runErr and returns the
// updated record. iqn overrides the stored name when not empty, since an
// initiator only learns it during the run.
func (j *Journal) Finish(d model.Deployment, iqn string, runErr error) (model.Deployment, error) {
	finished := now()
	d.FinishedAt = &finished
	d.Status = model.StatusSucceeded
	d.Error = ""
	if runErr != nil {
		d.Status = model.StatusFailed
		d.Error = runErr.Error()
	}
	if iqn != "" {
		d.IQN = iqn
	}
	m := fromModel(d)
	res, err := j.bun.NewUpdate().Model(&m).
		Column("iqn", "status", "error", "finished_at").
		WherePK().
		Exec(context.Background())
	if err != nil {
		return d, fmt.Errorf("failed to update deployment %s: %w", d.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return d, fmt.Errorf("deployment %s: %w", d.ID, ErrNotFound)
	}
	return d, nil
}

// Get returns the record with id.
func (j *Journal) Get(id string) (model.Deployment, error) {
	var m DeploymentModel
	err := j.bun.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(context.Background())
	if errors.Is(err, sql.ErrNoRows) {
		return model.Deployment{}, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Deployment{}, err
	}
	return m.toModel(), nil
}

// List returns the newest records first. A limit of zero or less returns
// everything.
func (j *Journal) List(limit int) ([]model.Deployment, error) {
	var ms []DeploymentModel
	q := j.bun.NewSelect().Model(&ms).OrderExpr("started_at DESC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(context.Background()); err != nil {
		return nil, err
	}
	out := make([]model.Deployment, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.toModel())
	}
	return out, nil
}

// Export writes the whole journal as zstd-compressed JSON and returns the
// number of records written.
func (j *Journal) Export(w io.Writer) (int, error) {
	all, err := j.List(0)
	if err != nil {
		return 0, err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	doc := model.HistoryExport{SchemaVersion: exportSchemaVersion, ExportedAt: now(), Deployments: all}
	if err := enc.Encode(doc); err != nil {
		_ = zw.Close()
		return 0, fmt.Errorf("encode history: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("flush history: %w", err)
	}
	return len(all), nil
}

// ReadExport decodes a document written by Export.
func ReadExport(r io.Reader) (*model.HistoryExport, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	var doc model.HistoryExport
	if err := json.NewDecoder(zr).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if doc.SchemaVersion != exportSchemaVersion {
		return nil, fmt.Errorf("unsupported history schema version %d", doc.SchemaVersion)
	}
	return &doc, nil
}

// Import inserts exported records. Records whose id is already present are
// skipped. It returns how many were imported and skipped.
func (j *Journal) Import(records []model.Deployment) (imported, skipped int, err error) {
	ctx := context.Background()
	for _, d := range records {
		m := fromModel(d)
		if _, err := j.bun.NewInsert().Model(&m).Exec(ctx); err != nil {
			if errors.Is(MapDBError(err), ErrDuplicate) {
				skipped++
				continue
			}
			return imported, skipped, fmt.Errorf("failed to import deployment %s: %w", d.ID, err)
		}
		imported++
	}
	return imported, skipped, nil
}
