package translationcmd

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/commands"
	"github.com/locsync/locsync/internal/engine"
	"github.com/locsync/locsync/pkg/interfaces"
)

const incrementalUpdateMessageType = "locsync.translation.update"

// IncrementalUpdateCommand requests an incremental update of one existing
// clone relationship.
type IncrementalUpdateCommand struct {
	SpaceID       string `json:"space_id,omitempty"`
	EnvironmentID string `json:"environment_id,omitempty"`
	SourceEntryID string `json:"source_entry_id"`
	TargetEntryID string `json:"target_entry_id"`
	Reason        string `json:"reason,omitempty"`
}

// Type implements command.Message.
func (IncrementalUpdateCommand) Type() string { return incrementalUpdateMessageType }

// Validate ensures the message carries both relationship sides.
func (m IncrementalUpdateCommand) Validate() error {
	errs := validation.Errors{}
	if strings.TrimSpace(m.SourceEntryID) == "" {
		errs["source_entry_id"] = validation.NewError("locsync.translation.update.source_required", "source_entry_id is required")
	}
	if strings.TrimSpace(m.TargetEntryID) == "" {
		errs["target_entry_id"] = validation.NewError("locsync.translation.update.target_required", "target_entry_id is required")
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// IncrementalUpdateHandler runs incremental updates through the engine.
type IncrementalUpdateHandler struct {
	inner *commands.Handler[IncrementalUpdateCommand]
}

// NewIncrementalUpdateHandler constructs a handler wired to the engine.
// onResult, when non-nil, receives the update result of every execution that
// reached the engine.
func NewIncrementalUpdateHandler(eng *engine.Engine, logger interfaces.Logger, onResult func(*engine.UpdateResult), opts ...commands.HandlerOption[IncrementalUpdateCommand]) *IncrementalUpdateHandler {
	exec := func(ctx context.Context, msg IncrementalUpdateCommand) error {
		result, err := eng.Update(ctx, engine.UpdateRequest{
			Scope:         cms.Scope{SpaceID: msg.SpaceID, EnvironmentID: msg.EnvironmentID},
			SourceEntryID: msg.SourceEntryID,
			TargetEntryID: msg.TargetEntryID,
			Reason:        msg.Reason,
		})
		if err != nil {
			return err
		}
		if onResult != nil {
			onResult(result)
		}
		return nil
	}

	handlerOpts := []commands.HandlerOption[IncrementalUpdateCommand]{
		commands.WithLogger[IncrementalUpdateCommand](logger),
		commands.WithOperation[IncrementalUpdateCommand]("translation.update"),
	}
	handlerOpts = append(handlerOpts, opts...)

	return &IncrementalUpdateHandler{
		inner: commands.NewHandler[IncrementalUpdateCommand](exec, handlerOpts...),
	}
}

// Execute satisfies command.Commander[IncrementalUpdateCommand].Execute.
func (h *IncrementalUpdateHandler) Execute(ctx context.Context, msg IncrementalUpdateCommand) error {
	return h.inner.Execute(ctx, msg)
}
