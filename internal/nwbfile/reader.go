// Package nwbfile is the low-level-HDF5-first, PyNWB-equivalent-fallback
// file reader described in spec §4.6 extract_file_info: reads all ~18 NWB
// metadata fields (experimenter always a list, bytes decoded, multi-valued
// preserved; institution, lab, species, sex, age, subject description,
// date of birth, session fields). On partial read failure it returns what
// it could extract and marks the rest unknown rather than raising.
package nwbfile

import (
	"context"
	"fmt"
)

// Reader is the external NWB-file-reading contract. A primary
// implementation reads the HDF5 container directly; a fallback shells out
// to a PyNWB-equivalent reader when the primary cannot open the file.
type Reader interface {
	Read(ctx context.Context, nwbPath string) (map[string]any, error)
}

// KnownFields lists the ~18 fields extract_file_info reports (spec §4.6).
var KnownFields = []string{
	"experimenter", "institution", "lab", "species", "sex", "age",
	"date_of_birth", "subject_id", "subject_description", "genotype",
	"strain", "weight", "session_id", "session_description",
	"session_start_time", "experiment_description", "keywords",
	"identifier",
}

// Fallback tries Primary first; on error it tries Secondary, merging
// whatever fields Secondary recovers into Primary's partial result rather
// than discarding it (spec §4.6 "returns what it could extract and marks
// the rest as unknown").
type Fallback struct {
	Primary   Reader
	Secondary Reader
}

func NewFallback(primary, secondary Reader) *Fallback {
	return &Fallback{Primary: primary, Secondary: secondary}
}

func (f *Fallback) Read(ctx context.Context, nwbPath string) (map[string]any, error) {
	info, err := f.Primary.Read(ctx, nwbPath)
	if err == nil {
		return fillUnknown(info), nil
	}
	if f.Secondary == nil {
		return fillUnknown(info), fmt.Errorf("nwbfile: primary reader failed: %w", err)
	}
	secondaryInfo, secondaryErr := f.Secondary.Read(ctx, nwbPath)
	merged := map[string]any{}
	for k, v := range info {
		merged[k] = v
	}
	for k, v := range secondaryInfo {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	if secondaryErr != nil {
		return fillUnknown(merged), fmt.Errorf("nwbfile: both readers degraded: primary=%v secondary=%w", err, secondaryErr)
	}
	return fillUnknown(merged), nil
}

func fillUnknown(info map[string]any) map[string]any {
	if info == nil {
		info = map[string]any{}
	}
	for _, field := range KnownFields {
		if _, ok := info[field]; !ok {
			info[field] = "unknown"
		}
	}
	return info
}
