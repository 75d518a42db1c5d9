package model

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers shared with the search cluster's schema:
//
//	message Request  { string search_query = 1; }
//	message Response {
//	  repeated DocumentStats relevant_documents = 1;
//	  message DocumentStats { string document_name = 1; double score = 2; }
//	}
const (
	fieldSearchQuery       protowire.Number = 1
	fieldRelevantDocuments protowire.Number = 1
	fieldDocumentName      protowire.Number = 1
	fieldScore             protowire.Number = 2
)

var ErrMalformedPayload = errors.New("malformed cluster payload")

type ClusterSearchRequest struct {
	SearchQuery string
}

type ClusterSearchResponse struct {
	RelevantDocuments []DocumentStats
}

type DocumentStats struct {
	DocumentName string
	Score        float64
}

// Marshal encodes the request in protobuf wire format. Zero values are
// omitted as proto3 does.
func (r ClusterSearchRequest) Marshal() []byte {
	var b []byte
	if r.SearchQuery != "" {
		b = protowire.AppendTag(b, fieldSearchQuery, protowire.BytesType)
		b = protowire.AppendString(b, r.SearchQuery)
	}
	return b
}

func (r *ClusterSearchRequest) Unmarshal(b []byte) error {
	*r = ClusterSearchRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldSearchQuery || typ != protowire.BytesType {
			return -1, nil
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return 0, fmt.Errorf("%w: search_query: %v", ErrMalformedPayload, protowire.ParseError(n))
		}
		r.SearchQuery = v
		return n, nil
	})
}

func (r ClusterSearchResponse) Marshal() []byte {
	var b []byte
	for _, doc := range r.RelevantDocuments {
		b = protowire.AppendTag(b, fieldRelevantDocuments, protowire.BytesType)
		b = protowire.AppendBytes(b, doc.marshal())
	}
	return b
}

func (r *ClusterSearchResponse) Unmarshal(b []byte) error {
	*r = ClusterSearchResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldRelevantDocuments || typ != protowire.BytesType {
			return -1, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, fmt.Errorf("%w: relevant_documents: %v", ErrMalformedPayload, protowire.ParseError(n))
		}
		var doc DocumentStats
		if err := doc.unmarshal(v); err != nil {
			return 0, err
		}
		r.RelevantDocuments = append(r.RelevantDocuments, doc)
		return n, nil
	})
}

func (d DocumentStats) marshal() []byte {
	var b []byte
	if d.DocumentName != "" {
		b = protowire.AppendTag(b, fieldDocumentName, protowire.BytesType)
		b = protowire.AppendString(b, d.DocumentName)
	}
	if d.Score != 0 {
		b = protowire.AppendTag(b, fieldScore, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(d.Score))
	}
	return b
}

func (d *DocumentStats) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldDocumentName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, fmt.Errorf("%w: document_name: %v", ErrMalformedPayload, protowire.ParseError(n))
			}
			d.DocumentName = v
			return n, nil
		case num == fieldScore && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, fmt.Errorf("%w: score: %v", ErrMalformedPayload, protowire.ParseError(n))
			}
			d.Score = math.Float64frombits(v)
			return n, nil
		}
		return -1, nil
	})
}

// walkFields iterates the top-level fields of b. The visitor returns the
// number of value bytes it consumed, or -1 to have the field skipped.
func walkFields(b []byte, visit func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", ErrMalformedPayload, protowire.ParseError(n))
		}
		b = b[n:]

		n, err := visit(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedPayload, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return nil
}
