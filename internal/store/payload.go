package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FeedType tags both the job payload variant and the concurrency slot a job occupies.
type FeedType string

const (
	FeedTypeCatalog     FeedType = "catalog"
	FeedTypeProductSync FeedType = "product_sync"
)

// Valid reports whether t names a known payload variant.
func (t FeedType) Valid() bool {
	return t == FeedTypeCatalog || t == FeedTypeProductSync
}

// Payload describes the unit of work carried by a job. Each feed type has
// exactly one concrete payload type.
type Payload interface {
	FeedType() FeedType
	Validate() error
}

// ProductFilter restricts which products a catalog feed enumerates.
type ProductFilter struct {
	IncludeHidden bool     `json:"include_hidden,omitempty"`
	Categories    []string `json:"categories,omitempty"`
}

// CatalogFeedPayload regenerates the full catalog feed.
type CatalogFeedPayload struct {
	Filter ProductFilter `json:"filter"`
}

func (CatalogFeedPayload) FeedType() FeedType { return FeedTypeCatalog }

func (CatalogFeedPayload) Validate() error { return nil }

// ProductSyncPayload writes a batch file for an explicit list of products.
type ProductSyncPayload struct {
	ProductIDs []string `json:"product_ids"`
}

func (ProductSyncPayload) FeedType() FeedType { return FeedTypeProductSync }

func (p ProductSyncPayload) Validate() error {
	if len(p.ProductIDs) == 0 {
		return errors.New("product_sync payload requires at least one product id")
	}
	return nil
}

type payloadEnvelope struct {
	Type FeedType        `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodePayload serializes p into its tagged envelope.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, errors.New("payload is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.FeedType(), err)
	}
	return json.Marshal(payloadEnvelope{Type: p.FeedType(), Data: data})
}

// DecodePayload parses a tagged envelope back into its concrete variant.
func DecodePayload(raw json.RawMessage) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid payload envelope: %w", err)
	}
	return DecodePayloadData(env.Type, env.Data)
}

// DecodePayloadData decodes the variant selected by feedType from data.
func DecodePayloadData(feedType FeedType, data json.RawMessage) (Payload, error) {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	switch feedType {
	case FeedTypeCatalog:
		var p CatalogFeedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid catalog payload: %w", err)
		}
		return p, nil
	case FeedTypeProductSync:
		var p ProductSyncPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid product_sync payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown feed type %q", feedType)
	}
}
