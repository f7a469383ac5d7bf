package authz

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/user"
	appfs "github.com/trezcool/shule/fs"
)

// Matrix maps (role, resource, action) to an Effect. The capability table
// is data, not code: it ships as an embedded JSON default and may be
// overridden by an external file, re-validated before activation.
type Matrix map[string]map[Resource]map[Action]Effect

func (m Matrix) effect(role string, res Resource, action Action) Effect {
	if byRes, ok := m[role]; ok {
		if byAction, ok := byRes[res]; ok {
			if eff, ok := byAction[action]; ok {
				return eff
			}
		}
	}
	return EffectDeny
}

// Validate enforces the total-function invariant: every
// (tenant role, resource, action) combination must resolve to an explicit
// effect; missing or unknown entries are rejected, never defaulted.
func (m Matrix) Validate() error {
	for role := range m {
		if !isTenantRole(role) {
			return errors.Errorf("authz: unknown role %q in grants", role)
		}
	}
	for _, role := range user.TenantRoles {
		byRes, ok := m[role]
		if !ok {
			return errors.Errorf("authz: no grants for role %q", role)
		}
		for _, res := range AllResources {
			byAction, ok := byRes[res]
			if !ok {
				return errors.Errorf("authz: no grants for (%s, %s)", role, res)
			}
			for _, action := range AllActions {
				eff, ok := byAction[action]
				if !ok {
					return errors.Errorf("authz: no grant for (%s, %s, %s)", role, res, action)
				}
				switch eff {
				case EffectAllow, EffectDeny, EffectAllowOwner:
				default:
					return errors.Errorf("authz: invalid effect %q for (%s, %s, %s)", eff, role, res, action)
				}
			}
		}
	}
	return nil
}

func isTenantRole(role string) bool {
	for _, r := range user.TenantRoles {
		if r == role {
			return true
		}
	}
	return false
}

// LoadMatrix parses a grants table from r.
func LoadMatrix(r io.Reader) (Matrix, error) {
	var m Matrix
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, errors.Wrap(err, "decoding grants")
	}
	return m, nil
}

// DefaultMatrix loads the embedded default grants table.
func DefaultMatrix() (Matrix, error) {
	f, err := appfs.FS.Open("grants.json")
	if err != nil {
		return nil, errors.Wrap(err, "opening embedded grants")
	}
	defer f.Close()
	return LoadMatrix(f)
}

// LoadMatrixFile loads a grants override from path, falling back to the
// embedded default when path is empty.
func LoadMatrixFile(path string) (Matrix, error) {
	if path == "" {
		return DefaultMatrix()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening grants file %s", path)
	}
	defer f.Close()
	return LoadMatrix(f)
}
