// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	fieldEmbeddingDim = "embedding_dim"
	fieldData         = "data"
	fieldMatrix       = "matrix"
	fieldEntityName   = "entity_name"
	fieldVectorID     = "__id__"
)

// ErrRowMismatch indicates the metadata list and the matrix disagree on the
// number of rows.
var ErrRowMismatch = errors.New("vector metadata and matrix row counts differ")

// VectorRecord is one metadata row of the vector store.
type VectorRecord struct {
	ID         string
	EntityName string

	rest *object
}

// VectorStore is the entity embedding store (`vdb_entities.json`): a
// metadata list and a row-major float32 matrix that must stay aligned.
type VectorStore struct {
	EmbeddingDim int
	Records      []VectorRecord
	Matrix       []float32

	rest *object
}

// Rows returns the number of matrix rows.
func (s *VectorStore) Rows() int {
	if s.EmbeddingDim == 0 {
		return 0
	}
	return len(s.Matrix) / s.EmbeddingDim
}

// Row returns the embedding at index i.
func (s *VectorStore) Row(i int) []float32 {
	return s.Matrix[i*s.EmbeddingDim : (i+1)*s.EmbeddingDim]
}

// Validate checks the alignment invariant.
func (s *VectorStore) Validate() error {
	if s.EmbeddingDim < 0 {
		return fmt.Errorf("negative embedding_dim %d", s.EmbeddingDim)
	}
	if s.EmbeddingDim == 0 {
		if len(s.Matrix) != 0 || len(s.Records) != 0 {
			return fmt.Errorf("%w: embedding_dim is 0 with %d records and %d values", ErrRowMismatch, len(s.Records), len(s.Matrix))
		}
		return nil
	}
	if len(s.Matrix)%s.EmbeddingDim != 0 {
		return fmt.Errorf("%w: %d values is not a multiple of dim %d", ErrRowMismatch, len(s.Matrix), s.EmbeddingDim)
	}
	if rows := s.Rows(); rows != len(s.Records) {
		return fmt.Errorf("%w: %d records, %d rows", ErrRowMismatch, len(s.Records), rows)
	}
	return nil
}

// Keep retains the rows at the given ascending indices in both the metadata
// list and the matrix.
func (s *VectorStore) Keep(indices []int) {
	records := make([]VectorRecord, 0, len(indices))
	matrix := make([]float32, 0, len(indices)*s.EmbeddingDim)
	for _, i := range indices {
		records = append(records, s.Records[i])
		if s.EmbeddingDim > 0 {
			matrix = append(matrix, s.Row(i)...)
		}
	}
	s.Records = records
	s.Matrix = matrix
}

// LoadVectors reads a vector store file and checks the row invariant.
func LoadVectors(path string) (*VectorStore, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseVectors(data)
	if err != nil {
		return nil, corrupt(path, err)
	}
	return s, nil
}

// ParseVectors parses vector store JSON.
func ParseVectors(data []byte) (*VectorStore, error) {
	o, err := parseObject(data)
	if err != nil {
		return nil, err
	}
	s := &VectorStore{rest: o}
	if _, err := o.get(fieldEmbeddingDim, &s.EmbeddingDim); err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if _, err := o.get(fieldData, &rows); err != nil {
		return nil, err
	}
	for i, raw := range rows {
		ro, err := parseObject(raw)
		if err != nil {
			return nil, fmt.Errorf("data[%d]: %w", i, err)
		}
		rec := VectorRecord{rest: ro}
		if _, err := ro.get(fieldEntityName, &rec.EntityName); err != nil {
			return nil, fmt.Errorf("data[%d]: %w", i, err)
		}
		if _, err := ro.get(fieldVectorID, &rec.ID); err != nil {
			return nil, fmt.Errorf("data[%d]: %w", i, err)
		}
		s.Records = append(s.Records, rec)
	}

	var encoded string
	if _, err := o.get(fieldMatrix, &encoded); err != nil {
		return nil, err
	}
	matrix, err := decodeMatrix(encoded)
	if err != nil {
		return nil, err
	}
	s.Matrix = matrix

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Bytes serializes the store after checking the row invariant.
func (s *VectorStore) Bytes() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	o := s.rest
	if o == nil {
		o = newObject()
	} else {
		o = o.clone()
	}
	if err := o.set(fieldEmbeddingDim, s.EmbeddingDim); err != nil {
		return nil, err
	}

	data := make([]json.RawMessage, 0, len(s.Records))
	for _, rec := range s.Records {
		ro := rec.rest
		if ro == nil {
			ro = newObject()
		} else {
			ro = ro.clone()
		}
		if rec.ID != "" || ro.has(fieldVectorID) {
			if err := ro.set(fieldVectorID, rec.ID); err != nil {
				return nil, err
			}
		}
		if err := ro.set(fieldEntityName, rec.EntityName); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := ro.encode(&buf, 0); err != nil {
			return nil, err
		}
		data = append(data, buf.Bytes())
	}
	if err := o.set(fieldData, data); err != nil {
		return nil, err
	}
	if err := o.set(fieldMatrix, encodeMatrix(s.Matrix)); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := o.encode(&buf, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the store atomically.
func (s *VectorStore) Save(path string) error {
	data, err := s.Bytes()
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0644)
}

func decodeMatrix(encoded string) ([]float32, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding matrix: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: matrix length %d is not a multiple of 4", ErrRowMismatch, len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

func encodeMatrix(m []float32) string {
	raw := make([]byte, len(m)*4)
	for i, v := range m {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(raw)
}
