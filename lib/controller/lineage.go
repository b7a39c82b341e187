// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudya/deploy/lib/config"
)

// lineageRecord is the per-target phase marker. It records the
// highest phase a run has converged the target to, so a later
// bootstrap request against an integrated target is a deliberate
// downgrade rather than an accident.
type lineageRecord struct {
	Target    string    `json:"target"`
	Phase     string    `json:"phase"`
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *lineageRecord) phase() (config.Phase, error) {
	return config.ParsePhase(r.Phase)
}

// loadLineage reads the target's phase marker. A missing file means
// the target has never been deployed: nil record, no error.
func loadLineage(path string) (*lineageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading phase lineage %s: %w", path, err)
	}
	var record lineageRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding phase lineage %s: %w", path, err)
	}
	if _, err := record.phase(); err != nil {
		return nil, fmt.Errorf("phase lineage %s: %w", path, err)
	}
	return &record, nil
}

// storeLineage writes the phase marker atomically (temp file +
// rename) so a crash mid-write never leaves a torn record.
func storeLineage(path string, record *lineageRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding phase lineage: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating phase lineage temp file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing phase lineage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing phase lineage temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("installing phase lineage %s: %w", path, err)
	}
	return nil
}
