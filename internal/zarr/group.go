package zarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"chessscape/internal/external"
	"chessscape/internal/types"
)

// Group is an opened Zarr hierarchy root. When the store carries
// consolidated metadata, arrays open without further requests.
type Group struct {
	store  external.ObjectStore
	root   string
	attrs  map[string]any
	arrays map[string]*Metadata // nil unless consolidated
	opts   Options
}

type v2Consolidated struct {
	Metadata map[string]json.RawMessage `json:"metadata"`
}

// OpenGroup opens the group at root. It looks for v2 consolidated metadata,
// then a plain v2 group, then a v3 group.
func OpenGroup(ctx context.Context, store external.ObjectStore, root string, opts Options) (*Group, error) {
	g := &Group{store: store, root: root, opts: opts, attrs: map[string]any{}}

	doc, err := external.ReadAll(ctx, store, path.Join(root, v2ConsolidatedKey))
	switch {
	case err == nil:
		if err := g.loadConsolidatedV2(doc); err != nil {
			return nil, err
		}
		return g, nil
	case !errors.Is(err, external.ErrObjectNotFound):
		return nil, err
	}

	if _, err := external.ReadAll(ctx, store, path.Join(root, v2GroupKey)); err == nil {
		attrs, err := external.ReadAll(ctx, store, path.Join(root, v2AttrsKey))
		if err == nil {
			if err := json.Unmarshal(attrs, &g.attrs); err != nil {
				return nil, types.NewAppError(
					types.ErrCodeSchemaMismatch,
					fmt.Sprintf("failed to parse %s/.zattrs", root),
					err,
				)
			}
		} else if !errors.Is(err, external.ErrObjectNotFound) {
			return nil, err
		}
		return g, nil
	} else if !errors.Is(err, external.ErrObjectNotFound) {
		return nil, err
	}

	doc, err = external.ReadAll(ctx, store, path.Join(root, v3MetaKey))
	if err != nil {
		if errors.Is(err, external.ErrObjectNotFound) {
			return nil, types.NewAppError(
				types.ErrCodeSourceNotFound,
				fmt.Sprintf("no zarr group at %q", root),
				err,
			)
		}
		return nil, err
	}
	if err := g.loadV3(doc); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Group) loadConsolidatedV2(doc []byte) error {
	var c v2Consolidated
	if err := json.Unmarshal(doc, &c); err != nil {
		return types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("failed to parse %s/.zmetadata", g.root),
			err,
		)
	}
	if attrs, ok := c.Metadata[v2AttrsKey]; ok {
		if err := json.Unmarshal(attrs, &g.attrs); err != nil {
			return types.NewAppError(types.ErrCodeSchemaMismatch, "failed to parse group attributes", err)
		}
	}

	g.arrays = make(map[string]*Metadata)
	for key, arrayDoc := range c.Metadata {
		name, ok := strings.CutSuffix(key, "/"+v2ArrayKey)
		if !ok {
			continue
		}
		meta, err := parseV2(path.Join(g.root, name), arrayDoc, c.Metadata[name+"/"+v2AttrsKey])
		if err != nil {
			return err
		}
		g.arrays[name] = meta
	}
	return nil
}

func (g *Group) loadV3(doc []byte) error {
	var raw v3Meta
	if err := json.Unmarshal(doc, &raw); err != nil {
		return types.NewAppError(
			types.ErrCodeSchemaMismatch,
			fmt.Sprintf("failed to parse %s/zarr.json", g.root),
			err,
		)
	}
	if raw.ZarrFormat != 3 || raw.NodeType != "group" {
		return unsupported(g.root, "not a v3 group (zarr_format %d, node_type %q)", raw.ZarrFormat, raw.NodeType)
	}
	if raw.Attributes != nil {
		g.attrs = raw.Attributes
	}
	if raw.ConsolidatedMetadata == nil {
		return nil
	}

	g.arrays = make(map[string]*Metadata)
	for name, nodeDoc := range raw.ConsolidatedMetadata.Metadata {
		var node v3Meta
		if err := json.Unmarshal(nodeDoc, &node); err != nil {
			return types.NewAppError(
				types.ErrCodeSchemaMismatch,
				fmt.Sprintf("failed to parse consolidated metadata for %s", name),
				err,
			)
		}
		if node.NodeType != "array" {
			continue
		}
		meta, err := metadataFromV3(path.Join(g.root, name), &node)
		if err != nil {
			return err
		}
		g.arrays[name] = meta
	}
	return nil
}

// Attrs returns the group attributes.
func (g *Group) Attrs() map[string]any { return g.attrs }

// Consolidated reports whether array metadata was loaded with the group.
func (g *Group) Consolidated() bool { return g.arrays != nil }

// ArrayNames lists the arrays known from consolidated metadata, sorted.
// It returns nil for unconsolidated groups.
func (g *Group) ArrayNames() []string {
	if g.arrays == nil {
		return nil
	}
	names := make([]string, 0, len(g.arrays))
	for name := range g.arrays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Array opens the named child array.
func (g *Group) Array(ctx context.Context, name string) (*Array, error) {
	p := path.Join(g.root, name)
	if g.arrays != nil {
		meta, ok := g.arrays[name]
		if !ok {
			return nil, types.NewAppError(
				types.ErrCodeSourceNotFound,
				fmt.Sprintf("group %q has no array %q", g.root, name),
				nil,
			)
		}
		return newArray(g.store, p, meta, g.opts), nil
	}
	return OpenArray(ctx, g.store, p, g.opts)
}

// HasArray reports whether the named array exists.
func (g *Group) HasArray(ctx context.Context, name string) (bool, error) {
	if g.arrays != nil {
		_, ok := g.arrays[name]
		return ok, nil
	}
	_, err := loadArrayMeta(ctx, g.store, path.Join(g.root, name))
	switch {
	case err == nil:
		return true, nil
	case types.HasCode(err, types.ErrCodeSourceNotFound):
		return false, nil
	}
	return false, err
}
