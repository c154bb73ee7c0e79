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
	"context"
	"fmt"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cnv/encoding/vcf"
	"github.com/grailbio/cnv/hqsnp"
	"github.com/grailbio/cnv/mappingbias"
	"v.io/x/lib/cmdline"
)

func newCmdMappingBias() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "mapping-bias",
		Short:    "Estimate per-site mapping bias from a panel of normals",
		ArgsName: "pon out",
	}
	c := defaultConfig()
	configPath := cmd.Flags.String("config", "", "YAML file overlaying the default tunables")
	mb := &c.MappingBias
	cmd.Flags.IntVar(&mb.MinNormals, "min-normals", mb.MinNormals, "Minimum informative samples for a site estimate")
	cmd.Flags.IntVar(&mb.MinNormalsAssignBetafit, "min-normals-assign-betafit", mb.MinNormalsAssignBetafit, "Minimum informative samples for centroid assignment")
	cmd.Flags.IntVar(&mb.Betafit.MinNormals, "min-normals-betafit", mb.Betafit.MinNormals, "Minimum informative samples for a per-site fit")
	cmd.Flags.IntVar(&mb.MinNormalsPositionSpecificFit, "min-normals-position-specific-fit", mb.MinNormalsPositionSpecificFit, "Panels smaller than this use centroid assignment for every site")
	cmd.Flags.Float64Var(&mb.Betafit.MinRho, "min-betafit-rho", mb.Betafit.MinRho, "Lower bound of the fitted dispersion")
	cmd.Flags.Float64Var(&mb.Betafit.MaxRho, "max-betafit-rho", mb.Betafit.MaxRho, "Upper bound of the fitted dispersion")
	cmd.Flags.IntVar(&mb.NumBetafitClusters, "num-betafit-clusters", mb.NumBetafitClusters, "Maximum mixture components")
	cmd.Flags.IntVar(&mb.ChunkSize, "chunk-size", mb.ChunkSize, "Sites processed at a time")
	cmd.Flags.IntVar(&mb.Parallelism, "parallelism", mb.Parallelism, "Concurrent site fits; 0 uses all CPUs")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("mapping-bias takes pon out, but got %v", argv)
		}
		ctx := vcontext.Background()
		if err := applyConfig(ctx, &cmd.Flags, *configPath, &c); err != nil {
			return err
		}
		return runMappingBias(ctx, argv[0], argv[1], c.MappingBias)
	})
	return cmd
}

func runMappingBias(ctx context.Context, ponPath, outPath string, opts mappingbias.Opts) (err error) {
	if err := opts.Validate(); err != nil {
		return err
	}
	r, err := mappingbias.Open(ctx, mappingbias.Input{Path: ponPath})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	log.Printf("mapping-bias: %d panel samples in %s", len(r.Samples()), ponPath)
	return mappingbias.StreamFile(ctx, r, opts, outPath)
}

func newCmdSelectSNPs() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "select-snps",
		Short:    "Select high-quality SNP sites from a mapping-bias table",
		ArgsName: "bias out",
	}
	c := defaultConfig()
	configPath := cmd.Flags.String("config", "", "YAML file overlaying the default tunables")
	vcfPath := cmd.Flags.String("vcf", "", "If set, write the records of this VCF at high-quality sites instead of a mapping-bias table")
	cmd.Flags.Float64Var(&c.HQSNP.MaxBias, "max-bias", c.HQSNP.MaxBias, "Largest accepted |bias-1|")
	cmd.Flags.IntVar(&c.HQSNP.MinPon, "min-pon", c.HQSNP.MinPon, "Minimum informative panel samples")
	cmd.Flags.BoolVar(&c.HQSNP.AllowTriallelic, "allow-triallelic", c.HQSNP.AllowTriallelic, "Keep sites sharing a position with another site")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("select-snps takes bias out, but got %v", argv)
		}
		ctx := vcontext.Background()
		if err := applyConfig(ctx, &cmd.Flags, *configPath, &c); err != nil {
			return err
		}
		return runSelectSNPs(ctx, argv[0], *vcfPath, argv[1], c.HQSNP)
	})
	return cmd
}

func runSelectSNPs(ctx context.Context, biasPath, vcfPath, outPath string, opts hqsnp.Opts) error {
	recs, err := mappingbias.ReadFile(ctx, biasPath)
	if err != nil {
		return err
	}
	if vcfPath == "" {
		pass, err := hqsnp.Select(recs, opts)
		if err != nil {
			return err
		}
		return mappingbias.WriteFile(ctx, outPath, pass)
	}
	h, external, err := vcf.ReadAll(ctx, vcfPath)
	if err != nil {
		return err
	}
	pass, err := hqsnp.SelectVCF(recs, external, opts)
	if err != nil {
		return err
	}
	return vcf.WriteFile(ctx, outPath, h, pass)
}
