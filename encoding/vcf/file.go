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

package vcf

import (
	"context"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
)

// File is a VCF reader bound to an open file.
type File struct {
	*Reader
	f  file.File
	gz *gzip.Reader
}

// Open opens path for reading.  Gzip and bgzip compressed files are
// recognized by extension.
func Open(ctx context.Context, path string) (*File, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "vcf: open", path)
	}
	vf := &File{f: f}
	var r io.Reader = f.Reader(ctx)
	if fileio.DetermineType(path) == fileio.Gzip {
		if vf.gz, err = gzip.NewReader(r); err != nil {
			f.Close(ctx) // nolint: errcheck
			return nil, errors.E(err, "vcf: gzip", path)
		}
		r = vf.gz
	}
	if vf.Reader, err = NewReader(r); err != nil {
		vf.Close(ctx) // nolint: errcheck
		return nil, errors.E(err, path)
	}
	return vf, nil
}

// Close closes the underlying file.
func (vf *File) Close(ctx context.Context) error {
	if vf.gz != nil {
		vf.gz.Close() // nolint: errcheck
	}
	return vf.f.Close(ctx)
}

// ReadAll reads every record of the VCF at path.
func ReadAll(ctx context.Context, path string) (h Header, recs []*Record, err error) {
	vf, err := Open(ctx, path)
	if err != nil {
		return Header{}, nil, err
	}
	defer func() {
		if cerr := vf.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for {
		rec, err := vf.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Header{}, nil, errors.E(err, path)
		}
		recs = append(recs, rec)
	}
	return vf.Header, recs, nil
}

// WriteFile writes h and recs to path.
func WriteFile(ctx context.Context, path string, h Header, recs []*Record) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "vcf: create", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	return Write(out.Writer(ctx), h, recs)
}
