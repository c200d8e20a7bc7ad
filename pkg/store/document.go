package store

import (
	"encoding/json"
	"fmt"

	"vpc-mesh/pkg/model"
)

// EncodeDocument renders the persisted snapshot document: a JSON array with one record per
// region, in slot order.
func EncodeDocument(s model.Snapshot) ([]byte, error) {
	networks := s.Networks
	if networks == nil {
		networks = []model.NetworkDescriptor{}
	}
	return json.MarshalIndent(networks, "", "  ")
}

// DecodeDocument parses a snapshot document. Version and creation time are not part of the
// document; callers fill them from their own metadata.
func DecodeDocument(b []byte) (model.Snapshot, error) {
	var networks []model.NetworkDescriptor
	if err := json.Unmarshal(b, &networks); err != nil {
		return model.Snapshot{}, fmt.Errorf("store: decode snapshot document: %w", err)
	}
	return model.Snapshot{Networks: networks}, nil
}
