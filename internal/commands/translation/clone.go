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

const cloneEntryMessageType = "locsync.translation.clone"

// CloneEntryCommand requests a full recursive clone of one source entry into
// one target language.
type CloneEntryCommand struct {
	SpaceID        string `json:"space_id,omitempty"`
	EnvironmentID  string `json:"environment_id,omitempty"`
	SourceEntryID  string `json:"source_entry_id"`
	SourceLanguage string `json:"source_language,omitempty"`
	TargetLanguage string `json:"target_language"`
}

// Type implements command.Message.
func (CloneEntryCommand) Type() string { return cloneEntryMessageType }

// Validate ensures the message carries the required fields before reaching
// handlers.
func (m CloneEntryCommand) Validate() error {
	errs := validation.Errors{}
	if strings.TrimSpace(m.SourceEntryID) == "" {
		errs["source_entry_id"] = validation.NewError("locsync.translation.clone.source_required", "source_entry_id is required")
	}
	if strings.TrimSpace(m.TargetLanguage) == "" {
		errs["target_language"] = validation.NewError("locsync.translation.clone.target_language_required", "target_language is required")
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// CloneEntryHandler runs clones through the engine using the shared command
// handler foundation.
type CloneEntryHandler struct {
	inner *commands.Handler[CloneEntryCommand]
}

// NewCloneEntryHandler constructs a handler wired to the engine. onResult, when
// non-nil, receives the clone result of every successful execution.
func NewCloneEntryHandler(eng *engine.Engine, logger interfaces.Logger, onResult func(*engine.CloneResult), opts ...commands.HandlerOption[CloneEntryCommand]) *CloneEntryHandler {
	exec := func(ctx context.Context, msg CloneEntryCommand) error {
		result, err := eng.Clone(ctx, engine.CloneRequest{
			Scope:          cms.Scope{SpaceID: msg.SpaceID, EnvironmentID: msg.EnvironmentID},
			SourceEntryID:  msg.SourceEntryID,
			SourceLanguage: msg.SourceLanguage,
			TargetLanguage: msg.TargetLanguage,
		})
		if err != nil {
			return err
		}
		if onResult != nil {
			onResult(result)
		}
		return nil
	}

	handlerOpts := []commands.HandlerOption[CloneEntryCommand]{
		commands.WithLogger[CloneEntryCommand](logger),
		commands.WithOperation[CloneEntryCommand]("translation.clone"),
	}
	handlerOpts = append(handlerOpts, opts...)

	return &CloneEntryHandler{
		inner: commands.NewHandler[CloneEntryCommand](exec, handlerOpts...),
	}
}

// Execute satisfies command.Commander[CloneEntryCommand].Execute.
func (h *CloneEntryHandler) Execute(ctx context.Context, msg CloneEntryCommand) error {
	return h.inner.Execute(ctx, msg)
}
