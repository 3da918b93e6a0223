// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/sift/core"
)

// MarshalPositions encodes an ascending position list as varint deltas.
func MarshalPositions(positions []uint32) []byte {
	size := varint.Uint64.Size(uint64(len(positions)))
	prev := uint32(0)
	for _, p := range positions {
		size += varint.Uint64.Size(uint64(p - prev))
		prev = p
	}
	buf := make([]byte, size)
	n := varint.Uint64.Marshal(uint64(len(positions)), buf)
	prev = 0
	for _, p := range positions {
		n += varint.Uint64.Marshal(uint64(p-prev), buf[n:])
		prev = p
	}
	return buf
}

// UnmarshalPositions decodes a list written by MarshalPositions.
func UnmarshalPositions(data []byte) ([]uint32, error) {
	count, n, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: positions: %w", ErrSerializationFailed, err)
	}
	if count > uint64(len(data)) {
		return nil, fmt.Errorf("%w: positions count %d", ErrTruncatedData, count)
	}
	out := make([]uint32, 0, count)
	prev := uint32(0)
	for i := uint64(0); i < count; i++ {
		delta, m, err := varint.Uint64.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: positions: %w", ErrTruncatedData, err)
		}
		n += m
		prev += uint32(delta)
		out = append(out, prev)
	}
	return out, nil
}

// MarshalDocumentID encodes a document id value.
func MarshalDocumentID(id core.DocumentID) []byte {
	return DocidKey(id)
}

// UnmarshalDocumentID decodes a document id value.
func UnmarshalDocumentID(data []byte) (core.DocumentID, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("%w: document id of %d bytes", ErrTruncatedData, len(data))
	}
	return core.DocumentID(binary.BigEndian.Uint32(data)), nil
}

// MarshalVersion encodes the commit counter.
func MarshalVersion(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// UnmarshalVersion decodes the commit counter.
func UnmarshalVersion(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: version of %d bytes", ErrTruncatedData, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// MarshalGeoPoint encodes a coordinate pair.
func MarshalGeoPoint(p core.GeoPoint) []byte {
	buf := make([]byte, 16)
	n := raw.Float64.Marshal(p.Lat, buf)
	raw.Float64.Marshal(p.Lng, buf[n:])
	return buf
}

// UnmarshalGeoPoint decodes a coordinate pair.
func UnmarshalGeoPoint(data []byte) (core.GeoPoint, error) {
	lat, n, err := raw.Float64.Unmarshal(data)
	if err != nil {
		return core.GeoPoint{}, fmt.Errorf("%w: geo point: %w", ErrTruncatedData, err)
	}
	lng, _, err := raw.Float64.Unmarshal(data[n:])
	if err != nil {
		return core.GeoPoint{}, fmt.Errorf("%w: geo point: %w", ErrTruncatedData, err)
	}
	return core.GeoPoint{Lat: lat, Lng: lng}, nil
}

// MarshalVector encodes an embedding.
func MarshalVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	n := 0
	for _, f := range vec {
		n += raw.Float32.Marshal(f, buf[n:])
	}
	return buf
}

// UnmarshalVector decodes an embedding.
func UnmarshalVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: vector of %d bytes", ErrTruncatedData, len(data))
	}
	vec := make([]float32, len(data)/4)
	n := 0
	for i := range vec {
		f, m, err := raw.Float32.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: vector: %w", ErrSerializationFailed, err)
		}
		vec[i] = f
		n += m
	}
	return vec, nil
}

// MarshalFieldNames encodes the interned field list in id order.
func MarshalFieldNames(names []string) []byte {
	size := varint.Uint64.Size(uint64(len(names)))
	for _, name := range names {
		size += ord.String.Size(name)
	}
	buf := make([]byte, size)
	n := varint.Uint64.Marshal(uint64(len(names)), buf)
	for _, name := range names {
		n += ord.String.Marshal(name, buf[n:])
	}
	return buf
}

// UnmarshalFieldNames decodes the interned field list.
func UnmarshalFieldNames(data []byte) ([]string, error) {
	count, n, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: fields: %w", ErrSerializationFailed, err)
	}
	if count > uint64(len(data)) {
		return nil, fmt.Errorf("%w: fields count %d", ErrTruncatedData, count)
	}
	names := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		name, m, err := ord.String.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: fields: %w", ErrTruncatedData, err)
		}
		n += m
		names = append(names, name)
	}
	return names, nil
}

// MarshalDocument encodes a stored document.
func MarshalDocument(doc *core.Document) []byte {
	buf := make([]byte, core.DocumentMUS.Size(*doc))
	core.DocumentMUS.Marshal(*doc, buf)
	return buf
}

// UnmarshalDocument decodes a stored document.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	doc, _, err := core.DocumentMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: document: %w", ErrSerializationFailed, err)
	}
	return &doc, nil
}

// MarshalSettings encodes index settings.
func MarshalSettings(s *core.Settings) []byte {
	buf := make([]byte, core.SettingsMUS.Size(*s))
	core.SettingsMUS.Marshal(*s, buf)
	return buf
}

// UnmarshalSettings decodes index settings.
func UnmarshalSettings(data []byte) (*core.Settings, error) {
	s, _, err := core.SettingsMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: settings: %w", ErrSerializationFailed, err)
	}
	return &s, nil
}
