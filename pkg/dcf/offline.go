package dcf

import (
	"context"
	"errors"
	"fmt"

	"github.com/tse-report-engine/internal/domain"
)

// ErrOffline is returned when a message is sent without a configured
// collection system.
var ErrOffline = errors.New("collection system not configured")

// Offline stands in for the collection system when no endpoint is set.
// Sends fail and no dataset is ever known remotely.
type Offline struct{}

func (Offline) Send(_ context.Context, report *domain.Report, op domain.Operation) (string, error) {
	return "", fmt.Errorf("sending %s for %s: %w", op, report.SenderDatasetID(), ErrOffline)
}

func (Offline) GetDataset(_ context.Context, datasetID string) (*domain.Dataset, error) {
	return nil, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrNotFound)
}

func (Offline) ListDatasets(context.Context, string) ([]domain.Dataset, error) {
	return nil, nil
}

