package config

import (
	"os"

	"github.com/vectormill/vectormill/pkg/postprocess"
	"github.com/vectormill/vectormill/pkg/stream"
)

// Postprocess declares the vector transform chain applied after merge.
type Postprocess struct {
	Transforms []stream.Clause `yaml:"transforms"`
}

// LoadPostprocess reads the optional postprocess descriptor. A missing file
// yields an empty chain.
func LoadPostprocess(path string) (*Postprocess, error) {
	pp := &Postprocess{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return pp, nil
	}
	if err := loadYAML(path, pp); err != nil {
		return nil, err
	}
	if err := pp.Validate(); err != nil {
		return nil, err
	}
	return pp, nil
}

// Validate resolves every clause against the vector transform registry.
func (p *Postprocess) Validate() error {
	for _, clause := range p.Transforms {
		if _, err := postprocess.New(clause); err != nil {
			return err
		}
	}
	return nil
}
