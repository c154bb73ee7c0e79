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
	"sort"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cnv/cbs"
	"github.com/grailbio/cnv/encoding/vcf"
	"github.com/grailbio/cnv/interval"
	"github.com/grailbio/cnv/mappingbias"
	"github.com/grailbio/cnv/refine"
	"v.io/x/lib/cmdline"
)

type segmentFlags struct {
	configPath string
	id         string
	dictPath   string
	bedPath    string
	region     string
	vcfPath    string
	sample     string
	minDepth   int
	biasPath   string
	minPon     int
	noRefine   bool
}

func newCmdSegment() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "segment",
		Short:    "Segment per-target log-ratios",
		ArgsName: "logratio.tsv out.seg.tsv",
	}
	c := defaultConfig()
	var flags segmentFlags
	cmd.Flags.StringVar(&flags.configPath, "config", "", "YAML file overlaying the default tunables")
	cmd.Flags.StringVar(&flags.id, "id", "sample", "Sample ID written in the ID column")
	cmd.Flags.StringVar(&flags.dictPath, "dict", "", "Sequence dictionary (.dict) or SAM header giving the chromosome order. By default, the order of first appearance in the log-ratio table")
	cmd.Flags.StringVar(&flags.bedPath, "bed", "", "BED file; only targets overlapping its regions are segmented")
	cmd.Flags.StringVar(&flags.region, "region", "", "Only segment targets overlapping this region, given as chrom, chrom:pos or chrom:start-end")
	cmd.Flags.StringVar(&flags.vcfPath, "vcf", "", "Germline VCF of the sample. If empty, segments are not refined by allele fraction")
	cmd.Flags.StringVar(&flags.sample, "sample", "", "Sample column of -vcf. By default, the first one")
	cmd.Flags.IntVar(&flags.minDepth, "min-depth", 10, "Skip variants with fewer reads")
	cmd.Flags.StringVar(&flags.biasPath, "bias", "", "Mapping-bias table used to correct allele fractions")
	cmd.Flags.IntVar(&flags.minPon, "min-pon", 2, "Only correct allele fractions at sites with this many informative panel samples")
	cmd.Flags.BoolVar(&flags.noRefine, "no-refine", false, "Write the circular binary segmentation output as is")

	cmd.Flags.Float64Var(&c.CBS.Alpha, "alpha", c.CBS.Alpha, "Significance level for accepting a change point")
	cmd.Flags.IntVar(&c.CBS.NPerm, "nperm", c.CBS.NPerm, "Permutations per change point test")
	cmd.Flags.IntVar(&c.CBS.NMin, "nmin", c.CBS.NMin, "Series length above which long arcs use the tail approximation; 0 permutes in full")
	cmd.Flags.IntVar(&c.CBS.KMax, "kmax", c.CBS.KMax, "Longest arc scanned per permutation of a long series")
	cmd.Flags.IntVar(&c.CBS.MinWidth, "min-width", c.CBS.MinWidth, "Minimum number of targets per segment")
	cmd.Flags.BoolVar(&c.CBS.Weighted, "weighted", c.CBS.Weighted, "Use target weights")
	cmd.Flags.Float64Var(&c.CBS.UndoSD, "undo-sd", c.CBS.UndoSD, "Undo strength in noise standard deviations; negative selects it from the data")
	cmd.Flags.IntVar(&c.CBS.MaxSegments, "max-segments", c.CBS.MaxSegments, "Retry with a stronger undo step above this many segments")
	cmd.Flags.Int64Var(&c.CBS.Seed, "seed", c.CBS.Seed, "Permutation seed")
	cmd.Flags.Float64Var(&c.Refine.MaxPValue, "max-pval", c.Refine.MaxPValue, "Breakpoints with a smaller p-value are never pruned")
	cmd.Flags.IntVar(&c.Refine.MinSize, "min-size", c.Refine.MinSize, "Minimum variants on each side of a prunable breakpoint")
	cmd.Flags.Float64Var(&c.Refine.MergePValue, "merge-pval", c.Refine.MergePValue, "Merge neighbors whose allele fractions differ with a larger p-value")
	cmd.Flags.IntVar(&c.Refine.MinVariants, "min-variants", c.Refine.MinVariants, "Minimum variants on each side of a CNN-LOH split")
	cmd.Flags.Float64Var(&c.Refine.HclustHeight, "hclust-height", c.Refine.HclustHeight, "Dosage clustering height; 0 selects it from the data")
	cmd.Flags.StringVar(&c.Refine.HclustMethod, "hclust-method", c.Refine.HclustMethod, "Dosage clustering linkage: ward.D, ward.D2, complete, average or single")
	parallelism := cmd.Flags.Int("parallelism", 0, "Chromosomes processed concurrently; 0 uses all CPUs")

	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("segment takes logratio.tsv out.seg.tsv, but got %v", argv)
		}
		ctx := vcontext.Background()
		if err := applyConfig(ctx, &cmd.Flags, flags.configPath, &c); err != nil {
			return err
		}
		if *parallelism > 0 {
			c.CBS.Parallelism = *parallelism
			c.Refine.Parallelism = *parallelism
		}
		return runSegment(ctx, argv[0], argv[1], flags, c)
	})
	return cmd
}

func runSegment(ctx context.Context, inPath, outPath string, flags segmentFlags, c config) error {
	targets, logRatio, err := cbs.ReadLogRatios(ctx, inPath)
	if err != nil {
		return err
	}
	ord := cbs.AppearanceOrder(targets)
	if flags.dictPath != "" {
		if ord, err = interval.ReadSequenceDictionary(ctx, flags.dictPath); err != nil {
			return err
		}
	}
	if flags.bedPath != "" || flags.region != "" {
		if targets, logRatio, err = restrictTargets(ctx, targets, logRatio, ord, flags); err != nil {
			return err
		}
	}
	seg, err := cbs.NewSegmenter(c.CBS)
	if err != nil {
		return err
	}
	res, err := seg.Segment(ctx, targets, logRatio, ord)
	if err != nil {
		return err
	}
	log.Printf("segment: %d segments from %d targets (undo_sd %.2f, %d retries)", len(res.Segments), len(targets), res.UndoSD, res.Retries)
	segs := res.Segments
	if !flags.noRefine {
		in := refine.Input{
			Segments: segs,
			Targets:  targets,
			LogRatio: logRatio,
			Order:    ord,
		}
		if flags.vcfPath != "" {
			if in.Variants, err = readVariants(ctx, flags, ord); err != nil {
				return err
			}
		}
		if segs, err = refine.Refine(ctx, in, c.Refine); err != nil {
			return err
		}
	}
	return cbs.WriteSegments(ctx, outPath, flags.id, segs)
}

// restrictTargets keeps the targets overlapping -bed or -region.
func restrictTargets(ctx context.Context, targets []cbs.Target, logRatio []float64, ord interval.ChromOrder, flags segmentFlags) ([]cbs.Target, []float64, error) {
	var regions []interval.Interval
	if flags.bedPath != "" {
		ivs, err := interval.ReadBED(ctx, flags.bedPath)
		if err != nil {
			return nil, nil, err
		}
		regions = append(regions, ivs...)
	}
	if flags.region != "" {
		iv, err := interval.ParseRegion(flags.region)
		if err != nil {
			return nil, nil, errors.E(errors.Invalid, "segment: -region", err)
		}
		regions = append(regions, iv)
	}
	keep, err := interval.Restrict(cbs.Intervals(targets), regions, ord)
	if err != nil {
		return nil, nil, err
	}
	kt := make([]cbs.Target, len(keep))
	kl := make([]float64, len(keep))
	for i, k := range keep {
		kt[i], kl[i] = targets[k], logRatio[k]
	}
	log.Printf("segment: %d of %d targets overlap the requested regions", len(kt), len(targets))
	return kt, kl, nil
}

// readVariants reads the sample's allele fractions sorted under ord, dropping
// variants on chromosomes ord does not know, and corrects them for mapping
// bias if a table is given.
func readVariants(ctx context.Context, flags segmentFlags, ord interval.ChromOrder) ([]vcf.VariantAllele, error) {
	all, err := vcf.ReadAlleles(ctx, flags.vcfPath, flags.sample, flags.minDepth)
	if err != nil {
		return nil, err
	}
	vars := all[:0]
	for _, v := range all {
		if _, ok := ord.Rank(v.Chrom); ok {
			vars = append(vars, v)
		}
	}
	sort.SliceStable(vars, func(i, j int) bool { return ord.Less(vars[i].Interval, vars[j].Interval) })
	log.Printf("segment: %d germline variants from %s", len(vars), flags.vcfPath)
	if flags.biasPath == "" {
		return vars, nil
	}
	recs, err := mappingbias.ReadFile(ctx, flags.biasPath)
	if err != nil {
		return nil, err
	}
	bias := recs[:0]
	for _, r := range recs {
		if _, ok := ord.Rank(r.Chrom); ok {
			bias = append(bias, r)
		}
	}
	sort.SliceStable(bias, func(i, j int) bool { return ord.Less(bias[i].Interval, bias[j].Interval) })
	return refine.AdjustVAF(vars, bias, ord, flags.minPon)
}
