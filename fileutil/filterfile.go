package fileutil

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"github.com/CSUNetSec/bgpcore/filter"
)

// FilterConfig is the declarative filter set loaded from a YAML file
// (with BGPCORE_FILTER_-prefixed environment overlay) via koanf.
type FilterConfig struct {
	MonitoredPrefixes []string `koanf:"monitored_prefixes"`
	SourceASes        []uint32 `koanf:"source_ases"`
	DestASes          []uint32 `koanf:"dest_ases"`
	MidPathASes       []uint32 `koanf:"midpath_ases"`
	AnywhereASes      []uint32 `koanf:"anywhere_ases"`
}

// LoadFilterConfig reads path (YAML) and overlays any
// BGPCORE_FILTER_-prefixed environment variables, e.g.
// BGPCORE_FILTER_SOURCE_ASES=100,200 -> source_ases.
func LoadFilterConfig(path string) (*FilterConfig, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "fileutil: loading filter config %s", path)
		}
	}
	if err := k.Load(env.Provider("BGPCORE_FILTER_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BGPCORE_FILTER_")
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, errors.Wrap(err, "fileutil: loading filter env overlay")
	}

	var cfg FilterConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "fileutil: unmarshaling filter config")
	}
	return &cfg, nil
}

// Filters compiles the declarative config into the ANDed filter set
// FilterAll-style callers expect: each AS list is compiled against its
// own position (source, dest, midpath, anywhere).
func (f *FilterConfig) Filters() ([]filter.Filter, error) {
	var ret []filter.Filter
	if len(f.MonitoredPrefixes) > 0 {
		fil, err := filter.NewPrefixFilterFromSlice(f.MonitoredPrefixes, filter.AdvPrefix)
		if err != nil {
			return nil, errors.Wrap(err, "fileutil: prefix filter")
		}
		ret = append(ret, fil)
	}
	if len(f.SourceASes) > 0 {
		fil, err := filter.NewASFilterFromSlice(f.SourceASes, filter.AsSource)
		if err != nil {
			return nil, errors.Wrap(err, "fileutil: source AS filter")
		}
		ret = append(ret, fil)
	}
	if len(f.DestASes) > 0 {
		fil, err := filter.NewASFilterFromSlice(f.DestASes, filter.AsDestination)
		if err != nil {
			return nil, errors.Wrap(err, "fileutil: destination AS filter")
		}
		ret = append(ret, fil)
	}
	if len(f.MidPathASes) > 0 {
		fil, err := filter.NewASFilterFromSlice(f.MidPathASes, filter.AsMidpath)
		if err != nil {
			return nil, errors.Wrap(err, "fileutil: midpath AS filter")
		}
		ret = append(ret, fil)
	}
	if len(f.AnywhereASes) > 0 {
		fil, err := filter.NewASFilterFromSlice(f.AnywhereASes, filter.AsAnywhere)
		if err != nil {
			return nil, errors.Wrap(err, "fileutil: anywhere AS filter")
		}
		ret = append(ret, fil)
	}
	return ret, nil
}

// NewFiltersFromFile loads path and compiles its filter set in one
// call, the common case for a CLI driver.
func NewFiltersFromFile(path string) ([]filter.Filter, error) {
	cfg, err := LoadFilterConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg.Filters()
}
