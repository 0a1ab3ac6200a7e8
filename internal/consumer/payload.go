package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"herdwatch/internal/ingestion"
)

// Ingester 遥测接入入口（ingestion.Service 实现）
type Ingester interface {
	Ingest(ctx context.Context, reading ingestion.Reading) (ingestion.Outcome, error)
}

// decodeReading 解析一条 JSON 遥测数据
func decodeReading(payload []byte) (ingestion.Reading, error) {
	var r ingestion.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return r, fmt.Errorf("%w: malformed payload: %w", ingestion.ErrValidation, err)
	}
	return r, nil
}
