package store

import (
	"context"
	"fmt"
)

// DeleteCollection deletes every direct child of the collection and reports how many were removed.
func DeleteCollection(ctx context.Context, s Store, collection Path) (int, error) {
	docs, err := s.List(ctx, collection)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, doc := range docs {
		if err := s.Delete(ctx, doc.Path); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", doc.Path, err)
		}
		deleted++
	}

	return deleted, nil
}
