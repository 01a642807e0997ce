package tables

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// ImageContextHeader is the column set of img-context.csv.
var ImageContextHeader = []string{
	"image_id", "article_id", "image_path", "source_image_path", "page",
	"context_before", "context_after", "context",
}

// WriteImageContext replaces img-context.csv with recs. Block lists are stored as JSON arrays.
func WriteImageContext(path string, recs []domain.ImageRecord) error {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		before, err := encodeBlocks(r.ContextBefore)
		if err != nil {
			return err
		}
		after, err := encodeBlocks(r.ContextAfter)
		if err != nil {
			return err
		}
		rows = append(rows, []string{
			r.ImageID, r.ArticleID, r.ImagePath, r.SourceImagePath, strconv.Itoa(r.Page),
			before, after, r.Context,
		})
	}
	return WriteAtomic(path, ImageContextHeader, rows)
}

// ReadImageContext loads img-context.csv.
func ReadImageContext(path string) ([]domain.ImageRecord, error) {
	t, err := Read(path, ImageContextHeader)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ImageRecord, 0, t.Len())
	for i := range t.Records {
		page, err := strconv.Atoi(t.Get(i, "page"))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad page: %w", path, i+2, err)
		}
		before, err := decodeBlocks(t.Get(i, "context_before"))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		after, err := decodeBlocks(t.Get(i, "context_after"))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		out = append(out, domain.ImageRecord{
			ImageID:         t.Get(i, "image_id"),
			ArticleID:       t.Get(i, "article_id"),
			ImagePath:       t.Get(i, "image_path"),
			SourceImagePath: t.Get(i, "source_image_path"),
			Page:            page,
			ContextBefore:   before,
			ContextAfter:    after,
			Context:         t.Get(i, "context"),
		})
	}
	return out, nil
}

func encodeBlocks(blocks []string) (string, error) {
	if blocks == nil {
		blocks = []string{}
	}
	b, err := json.Marshal(blocks)
	if err != nil {
		return "", fmt.Errorf("encode context blocks: %w", err)
	}
	return string(b), nil
}

func decodeBlocks(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode context blocks: %w", err)
	}
	return out, nil
}
