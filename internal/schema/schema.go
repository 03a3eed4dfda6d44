// Package schema deserializes the interface catalogs that describe known
// message, service, and action types, and builds/renders value trees against
// them.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/midfuzz/midfuzz/internal/mtype"
)

// InterfaceParam is a declarative field descriptor for one member of a
// composite message type.
type InterfaceParam struct {
	ArgType      string `json:"arg_type"`
	ArgName      string `json:"arg_name"`
	IsArray      bool   `json:"is_array"`
	MaxArraySize int    `json:"max_array_size"`
	IsConst      bool   `json:"is_const"`
	ConstVal     string `json:"const_val"`
}

// baseType strips a trailing "[]" or "[N]" array suffix from an arg_type.
func baseType(argType string) string {
	if i := strings.IndexByte(argType, '['); i >= 0 {
		return argType[:i]
	}
	return argType
}

// scalarKinds maps catalog type names to the mtype.Kind they resolve to.
var scalarKinds = map[string]mtype.Kind{
	"bool":    mtype.Bool,
	"byte":    mtype.Byte,
	"char":    mtype.Char,
	"int8":    mtype.Int8,
	"int16":   mtype.Int16,
	"int32":   mtype.Int32,
	"int64":   mtype.Int64,
	"uint8":   mtype.UInt8,
	"uint16":  mtype.UInt16,
	"uint32":  mtype.UInt32,
	"uint64":  mtype.UInt64,
	"float32": mtype.Float32,
	"float64": mtype.Float64,
	"string":  mtype.String,
}

// ResolveKind returns the scalar meta-kind for a catalog type name, and
// whether the resolution succeeded.
func ResolveKind(argType string) (mtype.Kind, bool) {
	k, ok := scalarKinds[baseType(argType)]
	return k, ok
}

// IsMetaType reports whether arg_type, with any array suffix stripped,
// resolves to a scalar meta-type.
func (p InterfaceParam) IsMetaType() bool {
	_, ok := ResolveKind(p.ArgType)
	return ok
}

// Catalog is the set of three JSON documents describing a middleware install:
// the field lists per composite type, the alias-to-canonical-name map, and
// the parameter descriptor table. Discovery reads parameter descriptors from
// the CLI, not from Param.
type Catalog struct {
	Types map[string][]InterfaceParam `json:"itf_types"`
	Maps  map[string]string           `json:"itf_maps"`
	Param map[string][]InterfaceParam `json:"itf_param"`
}

// Resolve maps an interface type name to its canonical long name via the
// alias table, falling back to the name itself when no alias is registered.
func (c *Catalog) Resolve(itfType string) string {
	if long, ok := c.Maps[itfType]; ok {
		return long
	}
	return itfType
}

// Fields returns the ordered field list for a canonical (or aliased) type.
func (c *Catalog) Fields(itfType string) ([]InterfaceParam, bool) {
	long := c.Resolve(itfType)
	fields, ok := c.Types[long]
	return fields, ok
}

// profileDir picks the subdirectory of root whose name contains tag as a
// substring; if none matches, root itself is used. tag is the user-supplied
// input_type.
func profileDir(root, tag string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("schema: read profile root %s: %w", root, err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.Contains(e.Name(), tag) {
			return filepath.Join(root, e.Name()), nil
		}
	}
	return root, nil
}

// Load reads itf_types.json, itf_param.json, and itf_maps.json from the
// profile subdirectory of root selected by substring match on tag.
func Load(root, tag string) (*Catalog, error) {
	dir, err := profileDir(root, tag)
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		Types: map[string][]InterfaceParam{},
		Maps:  map[string]string{},
		Param: map[string][]InterfaceParam{},
	}
	if err := loadJSON(filepath.Join(dir, "itf_types.json"), &c.Types); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, "itf_maps.json"), &c.Maps); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, "itf_param.json"), &c.Param); err != nil {
		return nil, err
	}
	return c, nil
}

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("schema: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("schema: parse %s: %w", path, err)
	}
	return nil
}
