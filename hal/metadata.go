// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package hal

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Metadata describes one compiled variant of a kernel, as produced by code
// generation.
type Metadata struct {
	// KernelName is the logical kernel the variant implements.
	KernelName string `yaml:"kernel_name"`

	// VariantName is the entry point of the variant in the binary.
	VariantName string `yaml:"variant_name"`

	LocalMemoryUsed uint64 `yaml:"local_memory_used"`
	MinWorkWidth    uint32 `yaml:"min_work_width"`
	PrefWorkWidth   uint32 `yaml:"pref_work_width"`

	// SubGroupSize is 0 for variants using degenerate sub-groups, which span
	// the whole work-group.
	SubGroupSize uint32 `yaml:"sub_group_size"`

	// Args describes how the entry point receives each kernel argument.
	Args []ArgMetadata `yaml:"args,omitempty"`

	// PackedArgsSize is the size of the packed-argument struct. Zero when
	// arguments are passed as parameters.
	PackedArgsSize uint64 `yaml:"packed_args_size,omitempty"`

	// StateParam is the index of the execution-state pointer among the
	// entry parameters that follow instance and slice.
	StateParam int `yaml:"state_param"`
}

// ArgMetadata is the placement of one kernel argument.
type ArgMetadata struct {
	Kind ArgKind `yaml:"kind"`

	// Size is the byte size of scalar and by-value arguments.
	Size uint64 `yaml:"size,omitempty"`

	// Packed arguments live at Offset in the packed-argument struct; the
	// others are entry parameter Param (counted after instance and slice).
	Packed bool   `yaml:"packed,omitempty"`
	Offset uint64 `yaml:"offset,omitempty"`
	Param  int    `yaml:"param,omitempty"`

	// LocalBySize local arguments are passed as their size; the entry
	// allocates the memory.
	LocalBySize bool `yaml:"local_by_size,omitempty"`
}

type metadataFile struct {
	Kernels []Metadata `yaml:"kernels"`
}

// EncodeMetadata writes records as YAML.
func EncodeMetadata(w io.Writer, records []Metadata) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(metadataFile{Kernels: records}); err != nil {
		return errors.Wrap(err, "encoding kernel metadata")
	}
	return errors.Wrap(enc.Close(), "encoding kernel metadata")
}

// DecodeMetadata reads records written by EncodeMetadata.
func DecodeMetadata(r io.Reader) ([]Metadata, error) {
	var f metadataFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "decoding kernel metadata")
	}
	for i, md := range f.Kernels {
		if md.KernelName == "" || md.VariantName == "" {
			return nil, errors.Wrapf(ErrInvalidArgument, "metadata record %d lacks kernel or variant name", i)
		}
		if md.MinWorkWidth == 0 {
			f.Kernels[i].MinWorkWidth = 1
		}
		if md.PrefWorkWidth == 0 {
			f.Kernels[i].PrefWorkWidth = 1
		}
	}
	return f.Kernels, nil
}

// WriteMetadataFile stores records at path.
func WriteMetadataFile(path string, records []Metadata) error {
	var buf bytes.Buffer
	if err := EncodeMetadata(&buf, records); err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, buf.Bytes(), 0o644), "writing %s", path)
}

// ReadMetadataFile loads records from path.
func ReadMetadataFile(path string) ([]Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	records, err := DecodeMetadata(f)
	return records, errors.WithMessagef(err, "reading %s", path)
}
