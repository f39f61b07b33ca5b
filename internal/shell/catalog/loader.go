// Package catalog discovers addon types by scanning a catalog directory of
// per-type metadata files. This is the only component permitted filesystem
// I/O for template discovery; the result is an immutable addon.Catalog
// loaded once per process.
package catalog

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/artpar/berth/internal/core/addon"
)

//go:embed builtin/*.yml
var builtinFS embed.FS

// Load scans a directory for addon type metadata files (*.yml, *.yaml) and
// builds the catalog. The file base name must match the declared type id.
func Load(dir string) (*addon.Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, NewCatalogError(dir, "cannot read catalog directory", err)
	}
	if !info.IsDir() {
		return nil, NewCatalogError(dir, "catalog path is not a directory", ErrNotDirectory)
	}
	return loadFS(os.DirFS(dir), ".")
}

// LoadBuiltin builds the catalog from the metadata files compiled into the
// binary. Used when no catalog directory is configured.
func LoadBuiltin() (*addon.Catalog, error) {
	return loadFS(builtinFS, "builtin")
}

func loadFS(fsys fs.FS, root string) (*addon.Catalog, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, NewCatalogError(root, "cannot read catalog directory", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yml" || ext == ".yaml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	addonTypes := make([]addon.AddonType, 0, len(names))
	for _, name := range names {
		path := name
		if root != "." {
			path = root + "/" + name
		}
		t, err := loadTypeFile(fsys, path, name)
		if err != nil {
			return nil, err
		}
		addonTypes = append(addonTypes, t)
	}

	cat, err := addon.NewCatalog(addonTypes)
	if err != nil {
		return nil, NewCatalogError(root, err.Error(), ErrInvalidMetadata)
	}
	return cat, nil
}

func loadTypeFile(fsys fs.FS, path, name string) (addon.AddonType, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return addon.AddonType{}, NewCatalogError(path, "cannot read metadata file", err)
	}

	var t addon.AddonType
	if err := yaml.Unmarshal(data, &t); err != nil {
		return addon.AddonType{}, NewCatalogError(path, "invalid metadata YAML", ErrInvalidMetadata)
	}
	if t.PortStep == 0 {
		t.PortStep = 1
	}

	base := strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
	if t.TypeID != base {
		return addon.AddonType{}, NewCatalogError(path,
			fmt.Sprintf("file declares type %q, expected %q", t.TypeID, base), ErrTypeMismatch)
	}

	if errs := addon.ValidateType(t); len(errs) > 0 {
		return addon.AddonType{}, NewCatalogError(path, errs[0].Error(), ErrInvalidMetadata)
	}

	if t.ComposeTemplate != "" {
		if err := validateComposeTemplate(t.TypeID, t.ComposeTemplate); err != nil {
			return addon.AddonType{}, NewCatalogError(path, err.Error(), ErrInvalidComposeTemplate)
		}
	}

	return t, nil
}

// validateComposeTemplate checks that a type's service snippet parses as a
// compose service, so a broken template fails at catalog load rather than
// at render time. Interpolation is skipped because the snippet carries
// ${VERSION}-style placeholders the renderer fills in later.
func validateComposeTemplate(typeID, template string) error {
	var service map[string]interface{}
	if err := yaml.Unmarshal([]byte(template), &service); err != nil {
		return fmt.Errorf("compose template is not valid YAML: %w", err)
	}
	if service == nil {
		return fmt.Errorf("compose template is empty")
	}

	dict := map[string]interface{}{
		"services": map[string]interface{}{typeID: service},
	}

	_, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{Content: []byte(template), Config: dict},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("berth-catalog", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = true // placeholders resolved by the renderer
		opts.SkipNormalization = true
		opts.SkipExtends = true
		// Templates mount ${VOLUME} and the renderer declares the volume
		// when it assembles the full project, so cross-reference checks
		// cannot pass here. Schema validation above still applies.
		opts.SkipConsistencyCheck = true
	})
	if err != nil {
		return fmt.Errorf("compose template rejected: %w", err)
	}
	return nil
}
