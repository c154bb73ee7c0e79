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

/*
bio-cnv computes somatic copy-number segments and germline mapping-bias
tables.

	bio-cnv segment [flags] logratio.tsv out.seg.tsv

segments per-target tumor/normal log-ratios with circular binary segmentation
and, given a germline VCF (-vcf), refines the segments with variant allele
fractions.  A mapping-bias table (-bias) corrects the allele fractions first.

	bio-cnv mapping-bias [flags] pon.{vcf,vcf.gz,db} out.{rio,tsv}

estimates the per-site mapping bias of a panel of normals, given either as a
multi-sample VCF with AD fields or as a SQLite allele_counts database.

	bio-cnv select-snps [flags] bias.{rio,tsv} out

writes the high-quality sites of a mapping-bias table.  With -vcf, the output
is the subset of that VCF at high-quality sites.

Every stage reads its tunables from an optional YAML file (-config) with the
sections cbs, refine, mapping_bias and hqsnp.  Flags given on the command line
take precedence over the file.
*/
package main
