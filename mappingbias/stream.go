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

package mappingbias

import (
	"context"
	"io"

	"github.com/grailbio/base/log"
)

// SiteReader yields panel-of-normal sites one at a time, in position order.
// Sites sharing a position must be yielded consecutively.
type SiteReader interface {
	// Samples returns the panel sample names.  Count slices returned by Read
	// are indexed like Samples.
	Samples() []string
	// Read returns the next site, or io.EOF after the last one.
	Read(ctx context.Context) (site Site, ref, alt []int, err error)
	// Close releases the reader's resources.
	Close(ctx context.Context) error
}

// chunker groups sites from a SiteReader into matrices of roughly chunkSize
// rows.  A chunk is never cut between two sites at the same position, so
// triallelic groups stay together.
type chunker struct {
	r         SiteReader
	chunkSize int

	peeked           bool
	site             Site
	peekRef, peekAlt []int
	done             bool
}

func (c *chunker) peek(ctx context.Context) (bool, error) {
	if c.peeked {
		return true, nil
	}
	if c.done {
		return false, nil
	}
	site, ref, alt, err := c.r.Read(ctx)
	if err == io.EOF {
		c.done = true
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.peeked, c.site, c.peekRef, c.peekAlt = true, site, ref, alt
	return true, nil
}

// next returns the next chunk, or nil at the end of input.
func (c *chunker) next(ctx context.Context) (*SiteAlleleMatrix, error) {
	m := &SiteAlleleMatrix{Samples: c.r.Samples()}
	for {
		ok, err := c.peek(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if n := m.NumSites(); n >= c.chunkSize {
			last := m.Sites[n-1]
			if last.Chrom != c.site.Chrom || last.Start != c.site.Start {
				break
			}
		}
		m.append(c.site, c.peekRef, c.peekAlt)
		c.peeked = false
	}
	if m.NumSites() == 0 {
		return nil, nil
	}
	return m, nil
}

// Stream computes mapping bias chunk by chunk and passes each chunk's records
// to emit, in input order.  The empirical-Bayes prior and the mixture model
// are estimated per chunk.
func Stream(ctx context.Context, r SiteReader, opts Opts, emit func([]Record) error) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	c := &chunker{r: r, chunkSize: opts.ChunkSize}
	nChunks, nSites := 0, 0
	for {
		m, err := c.next(ctx)
		if err != nil {
			return err
		}
		if m == nil {
			break
		}
		recs, err := Compute(ctx, m, opts)
		if err != nil {
			return err
		}
		if err := emit(recs); err != nil {
			return err
		}
		nChunks++
		nSites += len(recs)
		log.Debug.Printf("mappingbias: chunk %d done (%d sites so far)", nChunks, nSites)
	}
	log.Printf("mappingbias: processed %d sites in %d chunks", nSites, nChunks)
	return nil
}

// ComputeAll streams r and collects all records.
func ComputeAll(ctx context.Context, r SiteReader, opts Opts) ([]Record, error) {
	var all []Record
	err := Stream(ctx, r, opts, func(recs []Record) error {
		all = append(all, recs...)
		return nil
	})
	return all, err
}
