// Package schemafile builds a colcache.Schema from a YAML document:
//
//	models:
//	  - name: res.partner
//	    fields:
//	      - {name: name, type: char}
//	      - {name: is_company, type: boolean}
//	      - {name: display_name, type: char, computed: true, depends: [name, is_company]}
//	      - {name: parent_id, type: many2one}
//
// A depends entry is either a field of the same model or "model:field".
// Dependencies may refer to models and fields declared later in the file.
// Compute routines are attached afterwards with Schema.SetCompute.
package schemafile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andreyvit/colcache"
)

var (
	ErrUnknownType  = errors.New("unknown field type")
	ErrUnknownField = errors.New("unknown field")
	ErrDuplicate    = errors.New("duplicate name")
	ErrInvalid      = errors.New("invalid schema")
)

// Document is the YAML representation of a schema.
type Document struct {
	Models []ModelDoc `yaml:"models"`
}

type ModelDoc struct {
	Name   string     `yaml:"name"`
	Fields []FieldDoc `yaml:"fields"`
}

type FieldDoc struct {
	Name string `yaml:"name"`

	// Type is one of the names in Types.
	Type string `yaml:"type"`

	Computed bool `yaml:"computed,omitempty"`

	// Stored makes a computed field persistent. Ignored for plain fields,
	// which are always stored.
	Stored bool `yaml:"stored,omitempty"`

	Depends []string `yaml:"depends,omitempty"`
}

type fieldAdder func(model *colcache.Model, name string, opts ...any) *colcache.Field

var types = map[string]fieldAdder{
	"boolean":   colcache.AddField[bool],
	"integer":   colcache.AddField[int64],
	"float":     colcache.AddField[float64],
	"monetary":  colcache.AddField[float64],
	"char":      colcache.AddField[string],
	"text":      colcache.AddField[string],
	"selection": colcache.AddField[string],
	"html":      colcache.AddField[string],
	"binary":    colcache.AddField[[]byte],
	"many2one":  colcache.AddField[colcache.RecordID],
	"one2many":  colcache.AddField[[]colcache.RecordID],
	"many2many": colcache.AddField[[]colcache.RecordID],
	"datetime":  colcache.AddField[time.Time],
	"date":      colcache.AddField[time.Time],
}

// Types returns the supported field type names in alphabetical order.
func Types() []string {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func LoadFile(path string) (*colcache.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scm, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scm, nil
}

func Parse(data []byte) (*colcache.Schema, error) {
	return Load(bytes.NewReader(data))
}

// Load decodes a YAML document and builds the schema it describes. Unknown
// keys are rejected.
func Load(r io.Reader) (*colcache.Schema, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return Build(&doc)
}

// Build turns a decoded document into a schema. Fields are declared first,
// dependency edges second, so edges may point forward.
func Build(doc *Document) (*colcache.Schema, error) {
	if err := doc.validate(); err != nil {
		return nil, err
	}

	scm := colcache.NewSchema(colcache.SchemaOpts{})
	for _, md := range doc.Models {
		model := scm.AddModel(md.Name)
		for _, fd := range md.Fields {
			var opts []any
			if fd.Computed {
				opts = append(opts, colcache.Computed)
				if fd.Stored {
					opts = append(opts, colcache.Stored)
				}
			}
			types[fd.Type](model, fd.Name, opts...)
		}
	}

	for _, md := range doc.Models {
		model := scm.ModelNamed(md.Name)
		for _, fd := range md.Fields {
			dependent := model.FieldNamed(fd.Name)
			for _, dep := range fd.Depends {
				source, err := resolve(scm, model, dep)
				if err != nil {
					return nil, fmt.Errorf("model %s: field %s: depends %q: %w", md.Name, fd.Name, dep, err)
				}
				scm.AddDependency(source, dependent)
			}
		}
	}
	return scm, nil
}

func (doc *Document) validate() error {
	modelNames := make(map[string]bool)
	for i, md := range doc.Models {
		if md.Name == "" {
			return fmt.Errorf("%w: model #%d: name missing", ErrInvalid, i+1)
		}
		key := strings.ToLower(md.Name)
		if modelNames[key] {
			return fmt.Errorf("model %s: %w", md.Name, ErrDuplicate)
		}
		modelNames[key] = true

		fieldNames := make(map[string]bool)
		for j, fd := range md.Fields {
			if fd.Name == "" {
				return fmt.Errorf("%w: model %s: field #%d: name missing", ErrInvalid, md.Name, j+1)
			}
			if fieldNames[fd.Name] {
				return fmt.Errorf("model %s: field %s: %w", md.Name, fd.Name, ErrDuplicate)
			}
			fieldNames[fd.Name] = true
			if types[fd.Type] == nil {
				return fmt.Errorf("model %s: field %s: %w %q", md.Name, fd.Name, ErrUnknownType, fd.Type)
			}
			if len(fd.Depends) > 0 && !fd.Computed {
				return fmt.Errorf("%w: model %s: field %s: depends requires computed: true", ErrInvalid, md.Name, fd.Name)
			}
		}
	}
	return nil
}

func resolve(scm *colcache.Schema, model *colcache.Model, ref string) (*colcache.Field, error) {
	if modelName, fieldName, ok := strings.Cut(ref, ":"); ok {
		model = scm.ModelNamed(modelName)
		if model == nil {
			return nil, fmt.Errorf("%w: no model %s", ErrUnknownField, modelName)
		}
		ref = fieldName
	}
	fld := model.FieldNamed(ref)
	if fld == nil {
		return nil, fmt.Errorf("%w: %s has no field %s", ErrUnknownField, model.Name(), ref)
	}
	return fld, nil
}
