// Package reset groups the destructive half of the pipeline: unlinking
// titles, annulling registrations, and the voyage-wide full reset that
// watermarks the ledger so the registration pipeline can start over.
package reset

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/ledger"
	"github.com/litoral-labs/micdta/pkg/orchestrator"
	"github.com/litoral-labs/micdta/pkg/validate"
)

// ErrJustificationTooShort is returned before anything is sent when a
// full reset lacks a usable operator motive.
var ErrJustificationTooShort = fmt.Errorf(
	"reset: justification must be at least %d characters", validate.MinJustificationLen)

// Service exposes the annulment and recovery operations.
type Service struct {
	exec   *orchestrator.Orchestrator
	ledger ledger.Ledger
	logger *slog.Logger
}

// NewService creates the annulment service on top of the orchestrator.
func NewService(exec *orchestrator.Orchestrator, lg ledger.Ledger) *Service {
	return &Service{
		exec:   exec,
		ledger: lg,
		logger: slog.Default().With("component", "reset"),
	}
}

// UnlinkTitles detaches titles from the registered MIC/DTA without
// annulling anything.
func (s *Service) UnlinkTitles(ctx context.Context, voyageID string, titles []string) (*contracts.Outcome, error) {
	return s.exec.Execute(ctx, voyageID, contracts.OpDesvincularTitMicDta, orchestrator.Options{
		Titles: titles,
	})
}

// AnnulTitle voids one registered title.
func (s *Service) AnnulTitle(ctx context.Context, voyageID, title, justification string) (*contracts.Outcome, error) {
	return s.exec.Execute(ctx, voyageID, contracts.OpAnularTitulo, orchestrator.Options{
		Titles:        []string{title},
		Justification: justification,
	})
}

// AnnulShipments runs the partial AnularEnvios variant against one
// shipment, or voyage-wide without the watermark when shipmentID is
// empty.
func (s *Service) AnnulShipments(ctx context.Context, voyageID, shipmentID, justification string) (*contracts.Outcome, error) {
	return s.exec.Execute(ctx, voyageID, contracts.OpAnularEnvios, orchestrator.Options{
		ShipmentID:    shipmentID,
		Justification: justification,
	})
}

// RequestMicDtaAnnulment files the annulment request that precedes
// AnnulMicDta at the authority.
func (s *Service) RequestMicDtaAnnulment(ctx context.Context, voyageID, justification string) (*contracts.Outcome, error) {
	return s.exec.Execute(ctx, voyageID, contracts.OpSolicitarAnularMicDta, orchestrator.Options{
		Justification: justification,
	})
}

// AnnulMicDta voids the registered MIC/DTA itself.
func (s *Service) AnnulMicDta(ctx context.Context, voyageID, justification string) (*contracts.Outcome, error) {
	return s.exec.Execute(ctx, voyageID, contracts.OpAnularMicDta, orchestrator.Options{
		Justification: justification,
	})
}

// FullReset runs AnularEnvios with anular_todos, writing the watermark
// record that hides all prior history from validation and status reads.
// The justification is checked before anything touches the ledger; the
// reset is irreversible, so a thin motive is refused up front.
func (s *Service) FullReset(ctx context.Context, voyageID, justification string) (*contracts.Outcome, error) {
	if len(strings.TrimSpace(justification)) < validate.MinJustificationLen {
		return nil, ErrJustificationTooShort
	}

	out, err := s.exec.Execute(ctx, voyageID, contracts.OpAnularEnvios, orchestrator.Options{
		AnularTodos:   true,
		Justification: justification,
	})
	if err != nil {
		return out, err
	}

	// The watermark only takes effect once the reset record is
	// sealed SUCCESS; confirm the window actually collapsed.
	view, verr := s.ledger.View(ctx, voyageID)
	if verr != nil {
		return out, fmt.Errorf("reset: verify watermark: %w", verr)
	}
	if view.WatermarkSeq == 0 {
		return out, fmt.Errorf("reset: watermark not visible after full reset of %s", voyageID)
	}

	s.logger.InfoContext(ctx, "full reset applied",
		"voyage", voyageID, "watermark_seq", view.WatermarkSeq)
	return out, nil
}
