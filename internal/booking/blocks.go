package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/internal/availability"
)

// BlockRequest reserves staff time on a resource.
type BlockRequest struct {
	ResourceID uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Category   appointment.BlockCategory
	Label      string
}

// BlockResult is the outcome of CreateBlock and DeleteBlock.
type BlockResult struct {
	Success bool
	Block   *appointment.BlockingEvent
	// Overlapping lists active appointments the block was placed over.
	Overlapping []availability.BusyInterval
	Kind        appointment.ErrorKind
	Details     map[string]string
}

// CreateBlock inserts a blocking event under the resource lock. Blocks are
// authoritative: overlapping appointments are reported, not rejected.
func (s *Service) CreateBlock(ctx context.Context, req BlockRequest) BlockResult {
	ctx, span := tracer.Start(ctx, "booking.create_block")
	defer span.End()
	span.SetAttributes(
		attribute.String("salon.resource_id", req.ResourceID.String()),
		attribute.String("salon.category", string(req.Category)),
	)

	if req.ResourceID == uuid.Nil {
		return blockFailed(appointment.NewFailure(appointment.KindResourceNotFound, "reason", "resource id is required"))
	}
	if req.StartTime.IsZero() || !req.EndTime.After(req.StartTime) {
		return blockFailed(appointment.NewFailure(appointment.KindInvalidRequest, "reason", "end time must be after start time"))
	}
	if req.Category == "" {
		req.Category = appointment.BlockOther
	}
	if !req.Category.IsValid() {
		return blockFailed(appointment.NewFailure(appointment.KindInvalidRequest, "reason", "unknown block category", "category", string(req.Category)))
	}

	now := s.now().UTC()
	block := &appointment.BlockingEvent{
		ID:         uuid.New(),
		ResourceID: req.ResourceID,
		StartTime:  req.StartTime.UTC(),
		EndTime:    req.EndTime.UTC(),
		Category:   req.Category,
		Label:      req.Label,
		CreatedAt:  now,
	}

	var overlapping []availability.BusyInterval
	txCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.store.InTx(txCtx, func(ctx context.Context) error {
		overlapping = nil
		if _, err := s.store.LockResource(ctx, req.ResourceID); err != nil {
			return err
		}
		busy, err := s.store.ListBusyExcluding(ctx, req.ResourceID, block.StartTime, block.EndTime, uuid.Nil)
		if err != nil {
			return err
		}
		for _, b := range availability.Conflicts(busy, block.StartTime, block.EndTime) {
			if b.Kind == availability.BusyAppointment {
				overlapping = append(overlapping, b)
			}
		}
		return s.store.InsertBlock(ctx, block)
	})
	if err != nil {
		f := s.classify(err)
		if f.Kind == appointment.KindDatabaseError {
			s.logger.Error("booking: create block failed", "resource_id", req.ResourceID, "start", block.StartTime, "end", block.EndTime, "error", err)
		}
		return blockFailed(f)
	}

	if len(overlapping) > 0 {
		s.logger.Warn("booking: block overlaps active appointments",
			"block_id", block.ID,
			"resource_id", block.ResourceID,
			"overlapping", len(overlapping),
		)
	}
	s.mirror.PushBlock(*block)
	return BlockResult{Success: true, Block: block, Overlapping: overlapping}
}

// DeleteBlock removes a blocking event from a resource.
func (s *Service) DeleteBlock(ctx context.Context, resourceID, blockID uuid.UUID) BlockResult {
	ctx, span := tracer.Start(ctx, "booking.delete_block")
	defer span.End()
	span.SetAttributes(
		attribute.String("salon.resource_id", resourceID.String()),
		attribute.String("salon.block_id", blockID.String()),
	)

	if resourceID == uuid.Nil {
		return blockFailed(appointment.NewFailure(appointment.KindResourceNotFound, "reason", "resource id is required"))
	}
	if blockID == uuid.Nil {
		return blockFailed(appointment.NewFailure(appointment.KindBlockNotFound, "reason", "block id is required"))
	}

	var block *appointment.BlockingEvent
	txCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.store.InTx(txCtx, func(ctx context.Context) error {
		if _, err := s.store.LockResource(ctx, resourceID); err != nil {
			return err
		}
		b, err := s.store.DeleteBlock(ctx, resourceID, blockID)
		if err != nil {
			return err
		}
		block = b
		return nil
	})
	if err != nil {
		f := s.classify(err)
		if f.Kind == appointment.KindDatabaseError {
			s.logger.Error("booking: delete block failed", "resource_id", resourceID, "block_id", blockID, "error", err)
		}
		return blockFailed(f)
	}

	s.mirror.DeleteBlock(*block)
	return BlockResult{Success: true, Block: block}
}

func blockFailed(f *appointment.Failure) BlockResult {
	return BlockResult{Kind: f.Kind, Details: f.Details}
}
