// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"io/ioutil"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/cnv/cbs"
	"github.com/grailbio/cnv/hqsnp"
	"github.com/grailbio/cnv/mappingbias"
	"github.com/grailbio/cnv/refine"
	"gopkg.in/yaml.v3"
)

// config holds the tunables of every stage.  A YAML file given by -config is
// decoded over the defaults, and flags set on the command line override both.
type config struct {
	CBS         cbs.Opts         `yaml:"cbs"`
	Refine      refine.Opts      `yaml:"refine"`
	MappingBias mappingbias.Opts `yaml:"mapping_bias"`
	HQSNP       hqsnp.Opts       `yaml:"hqsnp"`
}

func defaultConfig() config {
	return config{
		CBS:         cbs.DefaultOpts,
		Refine:      refine.DefaultOpts,
		MappingBias: mappingbias.DefaultOpts,
		HQSNP:       hqsnp.DefaultOpts,
	}
}

// decodeConfig overlays the YAML document data on c.  Unknown keys are
// errors.
func decodeConfig(data []byte, c *config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return errors.E(errors.Invalid, "bio-cnv: parse config", err)
	}
	return nil
}

func readConfig(ctx context.Context, path string, c *config) (err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "bio-cnv: open config", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	data, err := ioutil.ReadAll(in.Reader(ctx))
	if err != nil {
		return errors.E(err, "bio-cnv: read config", path)
	}
	return decodeConfig(data, c)
}

// applyConfig loads the YAML file at path (if any) into c, then reapplies the
// flags of fs that were set explicitly.  The flags of fs must be bound to
// fields of c.
func applyConfig(ctx context.Context, fs *flag.FlagSet, path string, c *config) error {
	if path == "" {
		return nil
	}
	set := map[string]string{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })
	if err := readConfig(ctx, path, c); err != nil {
		return err
	}
	for name, value := range set {
		if err := fs.Set(name, value); err != nil {
			return errors.E(errors.Invalid, "bio-cnv: flag", name, err)
		}
	}
	return nil
}
