package validate

import (
	"fmt"

	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/ledger"
	"github.com/litoral-labs/micdta/pkg/tracks"
)

// Report is the three-bucket validation result surfaced to operators:
// hard errors, warnings that do not block, and positively verified
// details. A boolean alone cannot drive the operator UI.
type Report struct {
	CanProcess      bool     `json:"can_process"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
	VerifiedDetails []string `json:"verified_details"`
}

// Review inspects the voyage and its ledger window and fills the three
// buckets. It performs no I/O.
func Review(v *contracts.Voyage, view *ledger.View) Report {
	rep := Report{
		Errors:          []string{},
		Warnings:        []string{},
		VerifiedDetails: []string{},
	}

	if len(v.Shipments) == 0 {
		rep.Errors = append(rep.Errors, "voyage has no shipments")
	} else {
		rep.VerifiedDetails = append(rep.VerifiedDetails, fmt.Sprintf("%d shipment(s) attached", len(v.Shipments)))
	}

	if v.LeadVessel == "" {
		rep.Errors = append(rep.Errors, "voyage has no lead vessel")
	}
	if v.IsConvoy() {
		rep.VerifiedDetails = append(rep.VerifiedDetails, fmt.Sprintf("convoy of %d vessels", v.VesselCount))
	}

	for _, sh := range v.Shipments {
		if titlesRegisteredFor(view, sh.ID) {
			rep.VerifiedDetails = append(rep.VerifiedDetails, fmt.Sprintf("titles registered for shipment %s", sh.ID))
		} else {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("shipment %s has no registered titles yet", sh.ID))
		}
		if len(sh.Titles) == 0 {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("shipment %s carries no transport titles", sh.ID))
		}
	}

	derived := tracks.Derive(view)
	live := 0
	for _, t := range derived {
		switch {
		case t.Status == contracts.TrackCancelled:
			continue
		case t.Synthetic():
			live++
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("track %s is synthetic (sandbox-assigned, not an authority identifier)", t.Number))
		default:
			live++
		}
	}
	if live > 0 {
		rep.VerifiedDetails = append(rep.VerifiedDetails, fmt.Sprintf("%d live track(s)", live))
	}

	if rec := view.LatestSuccess(contracts.OpRegistrarMicDta); rec != nil {
		rep.VerifiedDetails = append(rep.VerifiedDetails, fmt.Sprintf("MIC/DTA registered (ref %s)", rec.ExternalRef))
	}

	for _, rec := range view.Records {
		if rec.Status == contracts.RecordPending || rec.Status == contracts.RecordSent {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("attempt %s (%s) is still in flight", rec.ID, rec.Operation))
		}
	}
	if last := lastError(view); last != nil {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("last %s attempt failed: %s", last.Operation, last.Error.Message))
	}

	if irrecoverable(v, view) {
		rep.Errors = append(rep.Errors, "pipeline has no valid next step; the only recovery is a full reset (AnularEnvios with anular_todos)")
	}

	rep.CanProcess = len(rep.Errors) == 0
	return rep
}

func lastError(view *ledger.View) *contracts.SubmissionRecord {
	for i := len(view.Records) - 1; i >= 0; i-- {
		r := &view.Records[i]
		if r.Status == contracts.RecordError && r.Error != nil {
			return r
		}
	}
	return nil
}

// irrecoverable reports whether no mutating operation other than the
// escape hatch can run. A completed pipeline (MIC/DTA registered) is
// never irrecoverable.
func irrecoverable(v *contracts.Voyage, view *ledger.View) bool {
	if view.Empty() {
		return false
	}
	if view.LatestSuccess(contracts.OpRegistrarMicDta) != nil {
		return false
	}
	for _, op := range contracts.Operations() {
		spec, _ := op.Spec()
		if !spec.Mutating || spec.Watermark {
			continue
		}
		req := Request{}
		if spec.Scope == contracts.ScopeShipment && len(v.Shipments) > 0 {
			req.ShipmentID = v.Shipments[0].ID
		}
		if d := Check(v, op, req, view); d.Allowed {
			return false
		}
	}
	return true
}
