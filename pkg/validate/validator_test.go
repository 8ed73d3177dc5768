package validate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/ledger"
)

func singleVoyage() *contracts.Voyage {
	return &contracts.Voyage{
		ID:          "v1",
		Origin:      "ARBUE",
		Destination: "PYASU",
		LeadVessel:  "Guarani II",
		VesselCount: 1,
		Shipments: []contracts.Shipment{
			{ID: "s1", VoyageID: "v1", Titles: []string{"T-100", "T-101"}},
		},
	}
}

func convoyVoyage() *contracts.Voyage {
	v := singleVoyage()
	v.VesselCount = 3
	return v
}

type fixture struct {
	t *testing.T
	l *ledger.MemoryLedger
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, l: ledger.NewMemoryLedger()}
}

func (f *fixture) success(op contracts.Operation, shipmentID string, mutate func(*contracts.SubmissionRecord)) {
	f.t.Helper()
	rec := &contracts.SubmissionRecord{VoyageID: "v1", Operation: op, ShipmentID: shipmentID}
	if mutate != nil {
		mutate(rec)
	}
	stored, err := f.l.Append(context.Background(), rec)
	require.NoError(f.t, err)
	_, err = f.l.SealRecord(context.Background(), "v1", stored.ID, ledger.Seal{
		Status: contracts.RecordSuccess, ExternalRef: "REF-" + string(op), Result: rec.Result,
	})
	require.NoError(f.t, err)
}

func (f *fixture) successWithTracks(op contracts.Operation, shipmentID string, numbers ...string) {
	f.t.Helper()
	trackList := make([]map[string]string, 0, len(numbers))
	for _, n := range numbers {
		trackList = append(trackList, map[string]string{"number": n, "origin": "REAL"})
	}
	result, _ := json.Marshal(map[string]interface{}{"tracks": trackList})
	rec := &contracts.SubmissionRecord{VoyageID: "v1", Operation: op, ShipmentID: shipmentID}
	stored, err := f.l.Append(context.Background(), rec)
	require.NoError(f.t, err)
	_, err = f.l.SealRecord(context.Background(), "v1", stored.ID, ledger.Seal{
		Status: contracts.RecordSuccess, ExternalRef: "REF", Result: result,
	})
	require.NoError(f.t, err)
}

func (f *fixture) view() *ledger.View {
	v, err := f.l.View(context.Background(), "v1")
	require.NoError(f.t, err)
	return v
}

func TestEnviosRequiresTitEnvios(t *testing.T) {
	f := newFixture(t)
	v := singleVoyage()

	d := Check(v, contracts.OpRegistrarEnvios, Request{ShipmentID: "s1"}, f.view())
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "RegistrarTitEnvios")

	f.success(contracts.OpRegistrarTitEnvios, "s1", nil)
	d = Check(v, contracts.OpRegistrarEnvios, Request{ShipmentID: "s1"}, f.view())
	assert.True(t, d.Allowed)
}

func TestVoyageWideTitEnviosCoversShipments(t *testing.T) {
	f := newFixture(t)
	v := singleVoyage()

	f.success(contracts.OpRegistrarTitEnvios, "", nil)
	d := Check(v, contracts.OpRegistrarEnvios, Request{ShipmentID: "s1"}, f.view())
	assert.True(t, d.Allowed)
}

func TestMicDtaRequiresTracksForEveryShipment(t *testing.T) {
	f := newFixture(t)
	v := singleVoyage()
	v.Shipments = append(v.Shipments, contracts.Shipment{ID: "s2", VoyageID: "v1", Titles: []string{"T-200"}})

	f.success(contracts.OpRegistrarTitEnvios, "", nil)
	f.successWithTracks(contracts.OpRegistrarEnvios, "s1", "TRK-1")

	d := Check(v, contracts.OpRegistrarMicDta, Request{}, f.view())
	require.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "s2")
	assert.Contains(t, d.Reason, "track")

	f.successWithTracks(contracts.OpRegistrarEnvios, "s2", "TRK-2")
	d = Check(v, contracts.OpRegistrarMicDta, Request{}, f.view())
	assert.True(t, d.Allowed)
}

func TestConvoyOpsBlockedForSingleVessel(t *testing.T) {
	f := newFixture(t)
	v := singleVoyage()

	// Even a fully advanced ledger does not unlock convoy operations.
	f.success(contracts.OpRegistrarTitEnvios, "s1", nil)
	f.successWithTracks(contracts.OpRegistrarEnvios, "s1", "TRK-1")
	f.success(contracts.OpRegistrarMicDta, "", nil)

	for _, op := range []contracts.Operation{
		contracts.OpRegistrarConvoy,
		contracts.OpAsignarATARemol,
		contracts.OpRectifConvoyMicDta,
	} {
		d := Check(v, op, Request{}, f.view())
		assert.False(t, d.Allowed, "%s should be blocked", op)
		assert.Contains(t, d.Reason, "convoy", "%s reason should be convoy-specific", op)
	}
}

func TestConvoyChain(t *testing.T) {
	f := newFixture(t)
	v := convoyVoyage()

	d := Check(v, contracts.OpRegistrarConvoy, Request{}, f.view())
	assert.False(t, d.Allowed)

	f.success(contracts.OpRegistrarTitEnvios, "s1", nil)
	f.successWithTracks(contracts.OpRegistrarEnvios, "s1", "TRK-1")
	f.success(contracts.OpRegistrarMicDta, "", nil)

	assert.True(t, Check(v, contracts.OpRegistrarConvoy, Request{}, f.view()).Allowed)
	assert.False(t, Check(v, contracts.OpAsignarATARemol, Request{}, f.view()).Allowed)

	f.success(contracts.OpRegistrarConvoy, "", nil)
	assert.True(t, Check(v, contracts.OpAsignarATARemol, Request{}, f.view()).Allowed)
	assert.True(t, Check(v, contracts.OpRectifConvoyMicDta, Request{}, f.view()).Allowed)
}

func TestDesvincularChecksLinkedTitles(t *testing.T) {
	f := newFixture(t)
	v := singleVoyage()

	d := Check(v, contracts.OpDesvincularTitMicDta, Request{Titles: []string{"T-100"}}, f.view())
	assert.False(t, d.Allowed)

	f.success(contracts.OpRegistrarTitMicDta, "", func(r *contracts.SubmissionRecord) {
		r.LinkedTitles = []string{"T-100", "T-101"}
	})

	assert.True(t, Check(v, contracts.OpDesvincularTitMicDta, Request{Titles: []string{"T-100"}}, f.view()).Allowed)

	d = Check(v, contracts.OpDesvincularTitMicDta, Request{Titles: []string{"T-999"}}, f.view())
	require.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "T-999")
}

func TestAnularTituloTargeting(t *testing.T) {
	f := newFixture(t)
	v := singleVoyage()

	d := Check(v, contracts.OpAnularTitulo, Request{Titles: []string{"T-100"}}, f.view())
	assert.False(t, d.Allowed)

	f.success(contracts.OpRegistrarTitEnvios, "s1", nil)
	assert.True(t, Check(v, contracts.OpAnularTitulo, Request{Titles: []string{"T-100"}}, f.view()).Allowed)

	d = Check(v, contracts.OpAnularTitulo, Request{Titles: []string{"T-404"}}, f.view())
	require.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "not currently registered")

	f.success(contracts.OpAnularTitulo, "", func(r *contracts.SubmissionRecord) {
		r.LinkedTitles = []string{"T-100"}
	})
	d = Check(v, contracts.OpAnularTitulo, Request{Titles: []string{"T-100"}}, f.view())
	require.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "already annulled")

	assert.True(t, Check(v, contracts.OpAnularTitulo, Request{AnularTodos: true}, f.view()).Allowed)
}

func TestFullResetJustification(t *testing.T) {
	f := newFixture(t)
	v := singleVoyage()

	d := Check(v, contracts.OpAnularEnvios, Request{AnularTodos: true, Justification: "too short"}, f.view())
	require.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "justification")

	d = Check(v, contracts.OpAnularEnvios, Request{AnularTodos: true, Justification: "operator requested complete restart of the chain"}, f.view())
	assert.True(t, d.Allowed)

	// Escape hatch: permitted even when everything else is blocked.
	d = Check(v, contracts.OpAnularEnvios, Request{}, f.view())
	assert.True(t, d.Allowed)
}

func TestResetUnblocksPipeline(t *testing.T) {
	f := newFixture(t)
	v := singleVoyage()

	f.success(contracts.OpRegistrarTitEnvios, "s1", nil)
	f.successWithTracks(contracts.OpRegistrarEnvios, "s1", "TRK-1")

	// Reset: watermark hides everything before it.
	f.success(contracts.OpAnularEnvios, "", func(r *contracts.SubmissionRecord) {
		r.Watermark = true
		r.Justification = "chain corrupted, restarting from scratch"
	})

	view := f.view()
	d := Check(v, contracts.OpRegistrarEnvios, Request{ShipmentID: "s1"}, view)
	assert.False(t, d.Allowed, "pre-reset TitEnvios must be invisible")

	d = Check(v, contracts.OpRegistrarTitEnvios, Request{ShipmentID: "s1"}, view)
	assert.True(t, d.Allowed, "recovery is idempotent: the pipeline restarts cleanly")
}

func TestZonaPrimariaOrdering(t *testing.T) {
	f := newFixture(t)
	v := singleVoyage()

	assert.False(t, Check(v, contracts.OpRegistrarSalidaZonaPrimaria, Request{}, f.view()).Allowed)

	f.success(contracts.OpRegistrarTitEnvios, "s1", nil)
	f.successWithTracks(contracts.OpRegistrarEnvios, "s1", "TRK-1")
	f.success(contracts.OpRegistrarMicDta, "", nil)

	assert.True(t, Check(v, contracts.OpRegistrarSalidaZonaPrimaria, Request{}, f.view()).Allowed)
	assert.False(t, Check(v, contracts.OpRegistrarArriboZonaPrimaria, Request{}, f.view()).Allowed)

	f.success(contracts.OpRegistrarSalidaZonaPrimaria, "", nil)
	assert.True(t, Check(v, contracts.OpRegistrarArriboZonaPrimaria, Request{}, f.view()).Allowed)
}

func TestQueriesAlwaysAllowed(t *testing.T) {
	f := newFixture(t)
	v := singleVoyage()
	for _, op := range []contracts.Operation{
		contracts.OpConsultarMicDta,
		contracts.OpConsultarTitEnviosReg,
		contracts.OpConsultarPrecumplido,
		contracts.OpDummy,
	} {
		assert.True(t, Check(v, op, Request{}, f.view()).Allowed, "%s", op)
	}
}

func TestUnknownOperationBlocked(t *testing.T) {
	f := newFixture(t)
	d := Check(singleVoyage(), contracts.Operation("RegistrarAlgo"), Request{}, f.view())
	assert.False(t, d.Allowed)
}

func TestReviewBuckets(t *testing.T) {
	f := newFixture(t)
	v := singleVoyage()

	rep := Review(v, f.view())
	assert.True(t, rep.CanProcess)
	assert.NotEmpty(t, rep.Warnings) // titles not registered yet

	f.success(contracts.OpRegistrarTitEnvios, "s1", nil)
	result, _ := json.Marshal(map[string]interface{}{"tracks": []map[string]string{{"number": "TRK-9", "origin": "SYNTHETIC"}}})
	rec, _ := f.l.Append(context.Background(), &contracts.SubmissionRecord{VoyageID: "v1", Operation: contracts.OpRegistrarEnvios, ShipmentID: "s1"})
	_, _ = f.l.SealRecord(context.Background(), "v1", rec.ID, ledger.Seal{Status: contracts.RecordSuccess, Result: result})

	rep = Review(v, f.view())
	assert.True(t, rep.CanProcess)

	syntheticFlagged := false
	for _, w := range rep.Warnings {
		if w == "track TRK-9 is synthetic (sandbox-assigned, not an authority identifier)" {
			syntheticFlagged = true
		}
	}
	assert.True(t, syntheticFlagged, "synthetic tracks must be visible in every read path")

	rep = Review(&contracts.Voyage{ID: "v2", LeadVessel: "X"}, f.view())
	assert.False(t, rep.CanProcess)
}
