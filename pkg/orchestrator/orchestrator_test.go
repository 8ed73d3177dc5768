package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litoral-labs/micdta/pkg/audit"
	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/ledger"
	"github.com/litoral-labs/micdta/pkg/remote"
)

type staticVoyages map[string]*contracts.Voyage

func (s staticVoyages) Voyage(id string) (*contracts.Voyage, error) {
	v, ok := s[id]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func singleVoyage() staticVoyages {
	return staticVoyages{
		"VOY-001": {
			ID:          "VOY-001",
			Origin:      "ARBUE",
			Destination: "PYASU",
			LeadVessel:  "BT-GUARANI",
			VesselCount: 1,
			Shipments:   []contracts.Shipment{{ID: "s1", VoyageID: "VOY-001", Titles: []string{"T-1"}}},
		},
	}
}

func newTestOrchestrator(t *testing.T, voyages contracts.VoyageSource, client remote.Client) (*Orchestrator, *ledger.MemoryLedger) {
	t.Helper()
	lg := ledger.NewMemoryLedger()
	o := New(voyages, lg, client, WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}))
	return o, lg
}

// march walks the happy path up to and including the given operation.
func march(t *testing.T, o *Orchestrator, upTo contracts.Operation) {
	t.Helper()
	path := []contracts.Operation{
		contracts.OpRegistrarTitEnvios,
		contracts.OpRegistrarEnvios,
		contracts.OpRegistrarMicDta,
		contracts.OpRegistrarSalidaZonaPrimaria,
		contracts.OpRegistrarArriboZonaPrimaria,
	}
	for _, op := range path {
		out, err := o.Execute(context.Background(), "VOY-001", op, Options{})
		require.NoError(t, err, "step %s", op)
		require.Equal(t, contracts.OutcomeSuccess, out.Status)
		if op == upTo {
			return
		}
	}
}

func TestExecuteHappyPathSealsSuccess(t *testing.T) {
	o, lg := newTestOrchestrator(t, singleVoyage(), remote.NewSandboxClient())

	out, err := o.Execute(context.Background(), "VOY-001", contracts.OpRegistrarTitEnvios, Options{})
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSuccess, out.Status)
	assert.NotEmpty(t, out.ExternalRef)

	view, err := lg.View(context.Background(), "VOY-001")
	require.NoError(t, err)
	require.Len(t, view.Records, 1)
	rec := view.Records[0]
	assert.Equal(t, contracts.RecordSuccess, rec.Status)
	assert.Equal(t, "s1", rec.ShipmentID, "single-shipment voyage defaults the target")
	assert.NotNil(t, rec.SealedAt)
}

func TestExecuteBlockedLeavesNoRecord(t *testing.T) {
	o, lg := newTestOrchestrator(t, singleVoyage(), remote.NewSandboxClient())

	out, err := o.Execute(context.Background(), "VOY-001", contracts.OpRegistrarMicDta, Options{})
	var blocked *contracts.BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, contracts.OutcomeBlocked, out.Status)
	assert.NotEmpty(t, out.Reason)

	view, err := lg.View(context.Background(), "VOY-001")
	require.NoError(t, err)
	assert.True(t, view.Empty(), "blocked attempts are never persisted")
}

func TestExecuteRemoteFailureIsSealed(t *testing.T) {
	sandbox := remote.NewSandboxClient()
	sandbox.FailWith(contracts.OpRegistrarEnvios, &contracts.RemoteError{
		Code: "GEN01", Message: "titulo vencido",
	})
	o, lg := newTestOrchestrator(t, singleVoyage(), sandbox)
	march(t, o, contracts.OpRegistrarTitEnvios)

	out, err := o.Execute(context.Background(), "VOY-001", contracts.OpRegistrarEnvios, Options{})
	var remoteErr *contracts.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "GEN01", remoteErr.Code)
	assert.Equal(t, contracts.OutcomeFailed, out.Status)

	view, err := lg.View(context.Background(), "VOY-001")
	require.NoError(t, err)
	rec := view.Latest(contracts.OpRegistrarEnvios)
	require.NotNil(t, rec, "failed attempts are part of the ledger")
	assert.Equal(t, contracts.RecordError, rec.Status)
	assert.Equal(t, "GEN01", rec.Error.Code)
}

func TestExecuteRefusesResendWithoutForce(t *testing.T) {
	o, _ := newTestOrchestrator(t, singleVoyage(), remote.NewSandboxClient())
	march(t, o, contracts.OpRegistrarMicDta)

	out, err := o.Execute(context.Background(), "VOY-001", contracts.OpRegistrarMicDta, Options{})
	var already *contracts.AlreadySentError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, contracts.OutcomeRefused, out.Status)
	assert.NotEmpty(t, out.ExternalRef, "refusal points at the prior confirmation")

	out, err = o.Execute(context.Background(), "VOY-001", contracts.OpRegistrarMicDta, Options{ForceSend: true})
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSuccess, out.Status)
}

func TestExecuteProducedTracksAreSynthetic(t *testing.T) {
	o, _ := newTestOrchestrator(t, singleVoyage(), remote.NewSandboxClient())
	march(t, o, contracts.OpRegistrarEnvios)

	got := o.Tracks().TracksFor("VOY-001")
	require.Len(t, got, 1)
	assert.Equal(t, contracts.TrackOriginSynthetic, got[0].Origin)
	assert.Equal(t, contracts.TrackGenerated, got[0].Status)
}

func TestExecuteTimeoutSealsTimeoutCode(t *testing.T) {
	o, lg := newTestOrchestrator(t, singleVoyage(), timeoutClient{})
	o.timeout = 10 * time.Millisecond
	march2 := func() {
		out, err := o.Execute(context.Background(), "VOY-001", contracts.OpRegistrarTitEnvios, Options{})
		var remoteErr *contracts.RemoteError
		require.ErrorAs(t, err, &remoteErr)
		assert.True(t, remoteErr.Timeout())
		assert.Equal(t, contracts.OutcomeFailed, out.Status)
	}
	march2()

	view, err := lg.View(context.Background(), "VOY-001")
	require.NoError(t, err)
	rec := view.Latest(contracts.OpRegistrarTitEnvios)
	require.NotNil(t, rec)
	assert.True(t, rec.Error.Timeout())
}

type timeoutClient struct{}

func (timeoutClient) Invoke(ctx context.Context, _ contracts.Operation, _ interface{}) (*remote.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestExecuteUnknownVoyageAndOperation(t *testing.T) {
	o, _ := newTestOrchestrator(t, singleVoyage(), remote.NewSandboxClient())

	_, err := o.Execute(context.Background(), "VOY-404", contracts.OpDummy, Options{})
	require.ErrorIs(t, err, contracts.ErrVoyageNotFound)

	_, err = o.Execute(context.Background(), "VOY-001", contracts.Operation("NoSuchMethod"), Options{})
	require.ErrorIs(t, err, contracts.ErrUnknownOperation)
}

func TestExecuteSerializesMutatingOperationsPerVoyage(t *testing.T) {
	o, _ := newTestOrchestrator(t, singleVoyage(), remote.NewSandboxClient())

	require.True(t, o.acquire("VOY-001"))
	_, err := o.Execute(context.Background(), "VOY-001", contracts.OpRegistrarTitEnvios, Options{})
	require.ErrorIs(t, err, ErrOperationInFlight)
	o.release("VOY-001")

	out, err := o.Execute(context.Background(), "VOY-001", contracts.OpRegistrarTitEnvios, Options{})
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSuccess, out.Status)
}

func TestExecuteAuditsMutatingAttempts(t *testing.T) {
	var buf bytes.Buffer
	lg := ledger.NewMemoryLedger()
	o := New(singleVoyage(), lg, remote.NewSandboxClient(), WithAudit(audit.NewLoggerWithWriter(&buf)))

	_, err := o.Execute(context.Background(), "VOY-001", contracts.OpRegistrarTitEnvios, Options{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "RegistrarTitEnvios")
	assert.Contains(t, buf.String(), "VOY-001")
}

func TestPreviewMatchesExecutedRequest(t *testing.T) {
	o, lg := newTestOrchestrator(t, singleVoyage(), remote.NewSandboxClient())

	preview, err := o.Preview("VOY-001", contracts.OpRegistrarTitEnvios, Options{})
	require.NoError(t, err)

	_, err = o.Execute(context.Background(), "VOY-001", contracts.OpRegistrarTitEnvios, Options{})
	require.NoError(t, err)

	view, err := lg.View(context.Background(), "VOY-001")
	require.NoError(t, err)
	assert.JSONEq(t, string(preview), string(view.Records[0].Request))
}

func twoShipmentVoyage() staticVoyages {
	return staticVoyages{
		"VOY-002": {
			ID:          "VOY-002",
			Origin:      "ARBUE",
			Destination: "PYASU",
			LeadVessel:  "BT-GUARANI",
			VesselCount: 1,
			Shipments: []contracts.Shipment{
				{ID: "s1", VoyageID: "VOY-002", Titles: []string{"T-A"}},
				{ID: "s2", VoyageID: "VOY-002", Titles: []string{"T-B"}},
			},
		},
	}
}

func TestExecuteAnnulTitleCancelsOnlyOwningShipmentTracks(t *testing.T) {
	o, _ := newTestOrchestrator(t, twoShipmentVoyage(), remote.NewSandboxClient())
	ctx := context.Background()

	for _, sh := range []string{"s1", "s2"} {
		for _, op := range []contracts.Operation{contracts.OpRegistrarTitEnvios, contracts.OpRegistrarEnvios} {
			out, err := o.Execute(ctx, "VOY-002", op, Options{ShipmentID: sh})
			require.NoError(t, err, "%s for %s", op, sh)
			require.Equal(t, contracts.OutcomeSuccess, out.Status)
		}
	}

	out, err := o.Execute(ctx, "VOY-002", contracts.OpAnularTitulo, Options{Titles: []string{"T-A"}})
	require.NoError(t, err)
	require.Equal(t, contracts.OutcomeSuccess, out.Status)

	statuses := make(map[string]contracts.TrackStatus)
	for _, tr := range o.Tracks().TracksFor("VOY-002") {
		statuses[tr.ShipmentID] = tr.Status
	}
	assert.Equal(t, contracts.TrackCancelled, statuses["s1"])
	assert.Equal(t, contracts.TrackGenerated, statuses["s2"],
		"annulling a title of s1 must leave s2's track alive")
}

func TestExecuteAnnulTitleRefusalIsPerTitle(t *testing.T) {
	o, _ := newTestOrchestrator(t, twoShipmentVoyage(), remote.NewSandboxClient())
	ctx := context.Background()

	for _, sh := range []string{"s1", "s2"} {
		for _, op := range []contracts.Operation{contracts.OpRegistrarTitEnvios, contracts.OpRegistrarEnvios} {
			out, err := o.Execute(ctx, "VOY-002", op, Options{ShipmentID: sh})
			require.NoError(t, err, "%s for %s", op, sh)
			require.Equal(t, contracts.OutcomeSuccess, out.Status)
		}
	}

	out, err := o.Execute(ctx, "VOY-002", contracts.OpAnularTitulo, Options{Titles: []string{"T-A"}})
	require.NoError(t, err)
	require.Equal(t, contracts.OutcomeSuccess, out.Status)

	// A different title is a fresh target, not a resend.
	out, err = o.Execute(ctx, "VOY-002", contracts.OpAnularTitulo, Options{Titles: []string{"T-B"}})
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSuccess, out.Status)

	// The first title is already annulled and stays off limits.
	out, err = o.Execute(ctx, "VOY-002", contracts.OpAnularTitulo, Options{Titles: []string{"T-A"}})
	require.Error(t, err)
	assert.Equal(t, contracts.OutcomeBlocked, out.Status)
}

func TestBuildPayloadCallerFieldsWin(t *testing.T) {
	v := singleVoyage()["VOY-001"]
	body := BuildPayload(v, contracts.OpRegistrarMicDta, Options{
		Payload: map[string]interface{}{"lead_vessel": "BT-OVERRIDE"},
	})
	assert.Equal(t, "BT-OVERRIDE", body["lead_vessel"])
	assert.Equal(t, "VOY-001", body["voyage_id"])

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ARBUE")
}
