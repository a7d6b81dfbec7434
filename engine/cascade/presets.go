package cascade

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/WessleyAI/wessley-compare/engine/domain"
	"github.com/WessleyAI/wessley-compare/pkg/fn"
)

// Label members seen across API versions.
var (
	makeKeys  = []string{"name", "Make_Name", "MakeName"}
	yearKeys  = []string{"name", "year", "ModelYear"}
	typeKeys  = []string{"typeName", "VehicleTypeName", "name"}
	modelKeys = []string{"modelName", "Model_Name", "name"}
)

// MakeYearModel is the make → year → model chain.
func MakeYearModel() ChainDef {
	return ChainDef{
		Name: "make-year-model",
		Role: "vehicle",
		Fields: []FieldDef{
			{Name: "Make", Resource: "makes", Path: "/api/makes", Keys: makeKeys},
			{Name: "Year", Resource: "years", Path: "/api/years/{make}", Keys: yearKeys},
			{Name: "Model", Resource: "models", Path: "/api/models/{make}/{year}", Keys: modelKeys},
		},
	}
}

// MakeTypeYearModel is the type-aware make → type → year → model chain.
func MakeTypeYearModel() ChainDef {
	return ChainDef{
		Name: "make-type-year-model",
		Role: "vehicle",
		Fields: []FieldDef{
			{Name: "Make", Resource: "makes", Path: "/api/makes", Keys: makeKeys},
			{Name: "Type", Resource: "vehicle types", Path: "/api/vehicle-types/{make}", Keys: typeKeys},
			{Name: "Year", Resource: "years", Path: "/api/years/{make}", Keys: yearKeys},
			{Name: "Model", Resource: "models", Path: "/api/models/{make}/{year}/{type}", Keys: modelKeys},
		},
		ShowLoading: true,
	}
}

// YearMakeModel is the year-first chain. Years are a fixed list, so the root
// needs no fetch. Failures read "for year 2020" and "for Honda 2020".
func YearMakeModel() ChainDef {
	years := fn.Map(domain.ModelYears(), func(y int) Option {
		s := strconv.Itoa(y)
		return Option{Label: s, Value: s}
	})
	return ChainDef{
		Name: "year-make-model",
		Role: "vehicle",
		Fields: []FieldDef{
			{Name: "Year", Resource: "years", Static: years},
			{Name: "Make", Resource: "makes", Path: "/api/makes/{year}", Keys: makeKeys, About: "year {year}"},
			{Name: "Model", Resource: "models", Path: "/api/models/{make}/{year}", Keys: modelKeys, About: "{make} {year}"},
		},
	}
}

var presets = map[string]func() ChainDef{
	"make-year-model":      MakeYearModel,
	"make-type-year-model": MakeTypeYearModel,
	"year-make-model":      YearMakeModel,
}

// Preset returns the named chain definition.
func Preset(name string) (ChainDef, error) {
	p, ok := presets[name]
	if !ok {
		return ChainDef{}, fmt.Errorf("%w: unknown variant %q (have %v)", ErrInvalidChain, name, PresetNames())
	}
	return p(), nil
}

// PresetNames lists the available variants.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
