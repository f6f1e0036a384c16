// Package refdata imports reference data vocabularies from local JSON
// sources and answers reference data queries.
package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"metax/pkg/domain"
)

// Importer names.
const (
	ImporterLocalJSON           = "local_json"
	ImporterLocalJSONFileFormat = "local_json_file_format"
	ImporterLocalJSONLicense    = "local_json_license"
)

// Source configures where the concepts of one vocabulary come from.
type Source struct {
	Type     domain.RefdataType `yaml:"type"`
	Importer string             `yaml:"importer"`
	Source   string             `yaml:"source"`
	Scheme   string             `yaml:"scheme"`
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources reads a YAML source list. Relative source paths are resolved
// against the directory of the file.
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read refdata sources: %w", err)
	}
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode refdata sources %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i, s := range f.Sources {
		if !slices.Contains(domain.RefdataTypes, s.Type) {
			return nil, fmt.Errorf("refdata source %d: unknown type %q", i, s.Type)
		}
		if _, ok := importers[s.Importer]; !ok {
			return nil, fmt.Errorf("refdata source %s: unknown importer %q", s.Type, s.Importer)
		}
		if s.Scheme == "" {
			f.Sources[i].Scheme = domain.RefdataSchemes[s.Type]
		}
		if !filepath.IsAbs(s.Source) && !strings.Contains(s.Source, "://") {
			f.Sources[i].Source = filepath.Join(dir, s.Source)
		}
	}
	return f.Sources, nil
}

// item is one entry of a local JSON vocabulary.
type item struct {
	URI                 string           `json:"uri"`
	Scheme              string           `json:"scheme"`
	Label               domain.MultiLang `json:"label"`
	SameAs              []string         `json:"same_as"`
	Broader             []string         `json:"broader"`
	AsWKT               string           `json:"as_wkt"`
	InputFileFormat     string           `json:"input_file_format"`
	OutputFormatVersion string           `json:"output_format_version"`
}

type importer func(s Source, it item) domain.Concept

var importers = map[string]importer{
	ImporterLocalJSON:           localJSON,
	ImporterLocalJSONFileFormat: localJSONFileFormat,
	// Licenses need nothing beyond the generic mapping.
	ImporterLocalJSONLicense: localJSON,
}

func localJSON(s Source, it item) domain.Concept {
	scheme := it.Scheme
	if scheme == "" {
		scheme = s.Scheme
	}
	return domain.Concept{
		Type:            s.Type,
		URL:             it.URI,
		InScheme:        scheme,
		PrefLabel:       it.Label,
		SameAs:          it.SameAs,
		Broader:         it.Broader,
		AsWKT:           it.AsWKT,
		IsReferenceData: true,
	}
}

// localJSONFileFormat labels file format versions by format and version.
func localJSONFileFormat(s Source, it item) domain.Concept {
	c := localJSON(s, it)
	c.FileFormat = it.InputFileFormat
	c.FormatVersion = it.OutputFormatVersion
	label := strings.TrimSpace(strings.Join([]string{it.InputFileFormat, it.OutputFormatVersion}, " "))
	c.PrefLabel = domain.MultiLang{"en": label, "fi": label, "und": label}
	return c
}

// load reads the concepts of s.
func load(_ context.Context, s Source) ([]domain.Concept, error) {
	data, err := os.ReadFile(s.Source)
	if err != nil {
		return nil, fmt.Errorf("read %s data: %w", s.Type, err)
	}
	var items []item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", s.Type, err)
	}
	imp := importers[s.Importer]
	out := make([]domain.Concept, 0, len(items))
	for i, it := range items {
		if it.URI == "" {
			return nil, fmt.Errorf("%s item %d: missing uri", s.Type, i)
		}
		out = append(out, imp(s, it))
	}
	return out, nil
}
