package modid

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// namePat mirrors spec §3: ^[A-Za-z0-9_/][A-Za-z0-9_\-{}\\@$:<>/]*$
var namePat = sync.OnceValue(func() *regexp.Regexp {
	return regexp.MustCompile(`^[A-Za-z0-9_/][A-Za-z0-9_\-{}\\@$:<>/]*$`)
})

// ModuleId identifies a logical module independent of any compiled
// revision. Equality and hashing are over (Name, Version); Version may
// be empty.
type ModuleId struct {
	Name    string
	Version string
}

// CheckName reports whether name is a valid module name component: it
// must match namePat and, since Parse splits textual ids on the first
// dot, must not itself contain a dot.
func CheckName(name string) error {
	if name == "" {
		return &InvalidNameError{Name: name, Err: fmt.Errorf("empty name")}
	}
	if strings.Contains(name, ".") {
		return &InvalidNameError{Name: name, Err: fmt.Errorf("name must not contain '.': the textual form splits on the first dot to recover the version")}
	}
	if !namePat().MatchString(name) {
		return &InvalidNameError{Name: name, Err: fmt.Errorf("does not match required pattern")}
	}
	return nil
}

// New constructs a ModuleId, validating name per [CheckName]. version
// may be empty.
func New(name, version string) (ModuleId, error) {
	if err := CheckName(name); err != nil {
		return ModuleId{}, err
	}
	return ModuleId{Name: name, Version: version}, nil
}

// Parse parses the textual form of a ModuleId: "name" when there is no
// version, otherwise "name.version", splitting on the first '.' in the
// string. Because names may not contain a dot (see [CheckName]) but a
// version commonly does (e.g. "1.2.3"), splitting on the first one is
// the only split that unambiguously recovers both parts.
func Parse(s string) (ModuleId, error) {
	if s == "" {
		return ModuleId{}, &InvalidNameError{Name: s, Err: fmt.Errorf("empty id")}
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		name, version := s[:i], s[i+1:]
		if err := CheckName(name); err != nil {
			return ModuleId{}, err
		}
		return ModuleId{Name: name, Version: version}, nil
	}
	if err := CheckName(s); err != nil {
		return ModuleId{}, err
	}
	return ModuleId{Name: s}, nil
}

// Format returns the textual form of id: just Name when Version is
// empty, otherwise Name + "." + Version.
func Format(id ModuleId) string {
	if id.Version == "" {
		return id.Name
	}
	return id.Name + "." + id.Version
}

func (id ModuleId) String() string { return Format(id) }

// Equal reports structural equality over (Name, Version).
func (id ModuleId) Equal(other ModuleId) bool {
	return id.Name == other.Name && id.Version == other.Version
}

// NameFromRoot derives a module name from an archive root's file name,
// per spec §4.2's builder policy: dots are not allowed in a bare name,
// so for single-file archives dots in the file name are replaced with
// underscores.
func NameFromRoot(rootFileName string) string {
	return strings.ReplaceAll(rootFileName, ".", "_")
}
