package descriptor

import (
	"encoding/json"
	"fmt"

	"github.com/modkit/loader/loaderr"
	"github.com/modkit/loader/modid"
	"github.com/modkit/loader/ordered"
)

// Codec serializes and parses ArchiveDescriptor documents in the JSON
// form specified in spec §6.
type Codec struct{}

// Decode parses data as a descriptor document. Unknown top-level keys
// are rejected with loaderr.MalformedDescriptor, per spec §4.3; missing
// optional fields default to empty sets/maps.
func (Codec) Decode(data []byte) (*ArchiveDescriptor, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", loaderr.MalformedDescriptor, err)
	}
	for key := range raw {
		if !documentedFields[key] {
			return nil, fmt.Errorf("%w: unknown field %q", loaderr.MalformedDescriptor, key)
		}
	}

	var w wireDescriptor
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", loaderr.MalformedDescriptor, err)
	}
	if w.ModuleId == "" {
		return nil, fmt.Errorf("%w: missing moduleId", loaderr.MalformedDescriptor)
	}
	id, err := modid.Parse(w.ModuleId)
	if err != nil {
		return nil, fmt.Errorf("%w: moduleId: %v", loaderr.MalformedDescriptor, err)
	}

	d := &ArchiveDescriptor{
		ModuleId:           id,
		CompilerPluginIds:  w.CompilerPluginIds,
		ModuleDependencies: w.ModuleDependencies,
		ArchiveMetadata:    w.ArchiveMetadata,
		ModuleImportFilter: w.ModuleImportFilter,
		ModuleExportFilter: w.ModuleExportFilter,
		AppImportFilter:    w.AppImportFilter,
	}
	if d.CompilerPluginIds == nil {
		d.CompilerPluginIds = &ordered.Set{}
	}
	if d.ModuleDependencies == nil {
		d.ModuleDependencies = &ordered.Set{}
	}
	if d.ArchiveMetadata == nil {
		d.ArchiveMetadata = &ordered.Map{}
	}
	return d, nil
}

// Encode writes d as a descriptor document. Integer-valued fields never
// appear in this schema (spec §6's warning about fractional integers
// concerns archiveMetadata values supplied by callers, who are
// responsible for formatting them as non-fractional strings before
// calling Set).
func (Codec) Encode(d *ArchiveDescriptor) ([]byte, error) {
	w := wireDescriptor{
		ModuleId:           modid.Format(d.ModuleId),
		CompilerPluginIds:  d.CompilerPluginIds,
		ModuleDependencies: d.ModuleDependencies,
		ArchiveMetadata:    d.ArchiveMetadata,
		ModuleImportFilter: d.ModuleImportFilter,
		ModuleExportFilter: d.ModuleExportFilter,
		AppImportFilter:    d.AppImportFilter,
	}
	return json.Marshal(w)
}
