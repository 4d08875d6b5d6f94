package importer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Tnze/go-mc/nbt"
)

var airBlocks = map[string]struct{}{
	"minecraft:air":         {},
	"minecraft:cave_air":    {},
	"minecraft:void_air":    {},
	"minecraft:dead_bush":   {},
	"minecraft:short_grass": {},
	"minecraft:lily_pad":    {},
	"minecraft:torch":       {},
	"minecraft:wall_torch":  {},
}

func isAirBlock(block string) bool {
	_, ok := airBlocks[block]
	return ok
}

var grassBlocks = map[string]struct{}{
	"minecraft:grass":       {},
	"minecraft:grass_block": {},
	"minecraft:tall_grass":  {},
	"minecraft:vine":        {},
	"minecraft:fern":        {},
	"minecraft:large_fern":  {},
}

func isGrassBlock(block string) bool {
	_, ok := grassBlocks[block]
	return ok
}

var foliageBlocks = map[string]struct{}{
	"minecraft:oak_leaves":      {},
	"minecraft:jungle_leaves":   {},
	"minecraft:acacia_leaves":   {},
	"minecraft:dark_oak_leaves": {},
	"minecraft:mangrove_leaves": {},
	"minecraft:azalea_leaves":   {},
	"minecraft:cherry_leaves":   {},
}

func isFoliageBlock(block string) bool {
	_, ok := foliageBlocks[block]
	return ok
}

type blockStateMultipart struct {
	Apply json.RawMessage `json:"apply"`
	When  json.RawMessage `json:"when"`
}

type blockStateVariant struct {
	Model string `json:"model"`
}

type blockStateInfo struct {
	Variants  map[string]json.RawMessage `json:"variants"`
	Multipart []blockStateMultipart      `json:"multipart"`
}

type modelInfo struct {
	Parent   string            `json:"parent"`
	Textures map[string]string `json:"textures"`
}

// resourceName strips the namespace from a resource location.
func resourceName(loc string) string {
	if i := strings.IndexByte(loc, ':'); i >= 0 {
		return loc[i+1:]
	}
	return loc
}

func propertiesMap(msg nbt.RawMessage) (map[string]string, error) {
	props := map[string]string{}
	if msg.Type == nbt.TagEnd || len(msg.Data) == 0 {
		return props, nil
	}
	if err := msg.Unmarshal(&props); err != nil {
		return nil, err
	}
	return props, nil
}

// decodeVariants accepts either a single variant or a weighted list.
func decodeVariants(raw json.RawMessage) ([]blockStateVariant, error) {
	var variants []blockStateVariant
	if err := json.Unmarshal(raw, &variants); err == nil {
		return variants, nil
	}
	var v blockStateVariant
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return []blockStateVariant{v}, nil
}

func parseVariantProperties(raw string) map[string]string {
	result := make(map[string]string)
	if raw == "" {
		return result
	}
	for _, part := range strings.Split(raw, ",") {
		k, v, _ := strings.Cut(part, "=")
		result[k] = v
	}
	return result
}

// findVariant picks the variant whose property selector matches props.
// Selectors are tried in sorted order so the choice is stable.
func findVariant(props map[string]string, raw map[string]json.RawMessage) (string, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		matches := true
		for pk, pv := range parseVariantProperties(k) {
			if props[pk] != pv {
				matches = false
				break
			}
		}
		if !matches {
			continue
		}
		variants, err := decodeVariants(raw[k])
		if err != nil {
			return "", fmt.Errorf("variant %q: %w", k, err)
		}
		if len(variants) > 0 {
			return variants[0].Model, nil
		}
	}
	return "", fmt.Errorf("no variant matches %v", props)
}

// firstMultipartModel returns the model of the first multipart case.
// Conditions are ignored; the first case is the base shape for every
// multipart block in the vanilla resources.
func firstMultipartModel(raw []blockStateMultipart) (string, error) {
	for _, mp := range raw {
		var apply blockStateVariant
		if err := json.Unmarshal(mp.Apply, &apply); err == nil && apply.Model != "" {
			return apply.Model, nil
		}
		var applies []blockStateVariant
		if err := json.Unmarshal(mp.Apply, &applies); err != nil {
			return "", fmt.Errorf("multipart apply %s: %w", string(mp.Apply), err)
		}
		if len(applies) > 0 {
			return applies[0].Model, nil
		}
	}
	return "", fmt.Errorf("empty multipart")
}

// modelFor resolves the model name of a block state.
func (b blockStateInfo) modelFor(props map[string]string) (string, error) {
	switch {
	case b.Multipart != nil:
		return firstMultipartModel(b.Multipart)
	case len(b.Variants) == 1:
		for _, v := range b.Variants {
			variants, err := decodeVariants(v)
			if err != nil {
				return "", err
			}
			if len(variants) == 0 {
				break
			}
			return variants[0].Model, nil
		}
		return "", fmt.Errorf("empty variant")
	default:
		return findVariant(props, b.Variants)
	}
}

// topTexture picks the texture that faces up on a map.
func (m modelInfo) topTexture() string {
	if len(m.Textures) == 1 {
		for _, v := range m.Textures {
			return v
		}
	}
	for _, key := range []string{"top", "end", "all", "texture", "cross", "side", "particle"} {
		if tex, ok := m.Textures[key]; ok && !strings.HasPrefix(tex, "#") {
			return tex
		}
	}
	keys := make([]string, 0, len(m.Textures))
	for k, v := range m.Textures {
		if !strings.HasPrefix(v, "#") {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return m.Textures[keys[0]]
}
