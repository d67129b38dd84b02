package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Dataset is the JSON seed format accepted by the seed command and the
// test fixtures.
type Dataset struct {
	Products []*Product `json:"products"`
	Reviews  []*Review  `json:"reviews"`
}

// ReadDataset decodes a Dataset from r.
func ReadDataset(r io.Reader) (*Dataset, error) {
	var ds Dataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return nil, fmt.Errorf("store: decode dataset: %w", err)
	}
	return &ds, nil
}

// ReadDatasetFile decodes a Dataset from the file at path.
func ReadDatasetFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open dataset: %w", err)
	}
	defer f.Close()
	return ReadDataset(f)
}

// Seed inserts the dataset's products, then its reviews.
func (c *Catalog) Seed(ctx context.Context, ds *Dataset) error {
	if ds == nil {
		return nil
	}
	if _, err := c.AddProducts(ctx, ds.Products); err != nil {
		return err
	}
	if _, err := c.AddReviews(ctx, ds.Reviews); err != nil {
		return err
	}
	return nil
}
