package api

import (
	"context"
	"errors"

	"iencode/internal/queue"
)

// CancelActionService captures the operations needed by batch cancel workflows.
type CancelActionService interface {
	Cancel(ctx context.Context, id, requester string) (CancelResponse, error)
}

type CancelItemOutcome string

const (
	CancelItemCancelled       CancelItemOutcome = "cancelled"
	CancelItemCancelling      CancelItemOutcome = "cancelling"
	CancelItemAlreadyFinished CancelItemOutcome = "already_finished"
	CancelItemNotFound        CancelItemOutcome = "not_found"
	CancelItemNotOwner        CancelItemOutcome = "not_owner"
)

type CancelItemResult struct {
	ID          string            `json:"id"`
	Outcome     CancelItemOutcome `json:"outcome"`
	FinalStatus string            `json:"finalStatus,omitempty"`
}

type CancelItemsResult struct {
	UpdatedCount int                `json:"updatedCount"`
	Items        []CancelItemResult `json:"items"`
}

// CancelItemsByID cancels each id in turn. Missing or foreign jobs are
// reported per item; any other error aborts the batch.
func CancelItemsByID(ctx context.Context, service CancelActionService, ids []string, requester string) (CancelItemsResult, error) {
	result := CancelItemsResult{Items: make([]CancelItemResult, 0, len(ids))}
	for _, id := range ids {
		ack, err := service.Cancel(ctx, id, requester)
		switch {
		case errors.Is(err, queue.ErrNotFound):
			result.Items = append(result.Items, CancelItemResult{ID: id, Outcome: CancelItemNotFound})
			continue
		case errors.Is(err, queue.ErrNotOwner):
			result.Items = append(result.Items, CancelItemResult{ID: id, Outcome: CancelItemNotOwner})
			continue
		case err != nil:
			return CancelItemsResult{}, err
		}

		item := CancelItemResult{ID: id, FinalStatus: ack.Status}
		switch {
		case ack.AlreadyTerminal:
			item.Outcome = CancelItemAlreadyFinished
		case ack.Status == string(queue.StatusCancelling):
			item.Outcome = CancelItemCancelling
			result.UpdatedCount++
		default:
			item.Outcome = CancelItemCancelled
			result.UpdatedCount++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}
