// Package descriptor implements ArchiveDescriptor and its JSON codec
// (spec §3, §4.3, §6).
package descriptor

import (
	"github.com/modkit/loader/modid"
	"github.com/modkit/loader/ordered"
)

// ArchiveDescriptor is a module's self-description: its identity, the
// compiler plugins it asks to be compiled with, its declared module
// dependencies, free-form metadata, and the optional linkage filters
// consulted by [linkage.Context.Resolve].
//
// Empty filters mean "unrestricted"; a non-empty filter acts as an
// allow-list prefix match (spec §3, §4.5).
type ArchiveDescriptor struct {
	ModuleId            modid.ModuleId
	CompilerPluginIds   *ordered.Set
	ModuleDependencies  *ordered.Set
	ArchiveMetadata     *ordered.Map
	ModuleImportFilter  *ordered.Set
	ModuleExportFilter  *ordered.Set
	AppImportFilter     *ordered.Set
}

// Dependencies returns the descriptor's declared dependencies as
// parsed ModuleIds, skipping any that fail to parse (callers that need
// strict validation should call modid.Parse themselves during decode
// and reject the archive there instead).
func (d *ArchiveDescriptor) Dependencies() []modid.ModuleId {
	if d.ModuleDependencies == nil {
		return nil
	}
	var out []modid.ModuleId
	for _, s := range d.ModuleDependencies.Items() {
		if id, err := modid.Parse(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// wireDescriptor mirrors the exact JSON document in spec §6. Every
// field is optional except moduleId; the rest are nil pointers when
// absent, as in ArchiveDescriptor, and omitted from the encoded form.
type wireDescriptor struct {
	ModuleId           string            `json:"moduleId"`
	CompilerPluginIds  *ordered.Set       `json:"compilerPluginIds,omitempty"`
	ModuleDependencies *ordered.Set       `json:"moduleDependencies,omitempty"`
	ArchiveMetadata    *ordered.Map       `json:"archiveMetadata,omitempty"`
	ModuleImportFilter *ordered.Set       `json:"moduleImportFilter,omitempty"`
	ModuleExportFilter *ordered.Set       `json:"moduleExportFilter,omitempty"`
	AppImportFilter    *ordered.Set       `json:"appImportFilter,omitempty"`
}

// documentedFields lists the top-level keys Decode will accept; any
// other key fails with loaderr.MalformedDescriptor per spec §4.3.
var documentedFields = map[string]bool{
	"moduleId":           true,
	"compilerPluginIds":  true,
	"moduleDependencies": true,
	"archiveMetadata":    true,
	"moduleImportFilter": true,
	"moduleExportFilter": true,
	"appImportFilter":    true,
}

