// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the records iscsictl keeps about its own runs.
package model // import "github.com/toeirei/iscsictl/internal/model"

import (
	"fmt"
	"time"
)

// Role names a deployment kind.
type Role string

const (
	RoleTarget    Role = "target"
	RoleInitiator Role = "initiator"
	RoleLogout    Role = "logout"
	RoleLoop      Role = "loop-destroy"
	RoleSmoke     Role = "smoke"
)

// Status is the outcome of a deployment run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Deployment is one journaled run against one host.
type Deployment struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Host       string     `json:"host"`
	IQN        string     `json:"iqn,omitempty"`
	Device     string     `json:"device,omitempty"`
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// String returns "role@host".
func (d Deployment) String() string {
	return fmt.Sprintf("%s@%s", d.Role, d.Host)
}

// Duration is the run time, or zero while the run is open.
func (d Deployment) Duration() time.Duration {
	if d.FinishedAt == nil {
		return 0
	}
	return d.FinishedAt.Sub(d.StartedAt)
}

// HistoryExport is the document written by a history export.
type HistoryExport struct {
	SchemaVersion int          `json:"schema_version"`
	ExportedAt    time.Time    `json:"exported_at"`
	Deployments   []Deployment `json:"deployments"`
}
