package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/geofence"
	"github.com/litoral-labs/micdta/pkg/ledger"
	"github.com/litoral-labs/micdta/pkg/orchestrator"
	"github.com/litoral-labs/micdta/pkg/remote"
	"github.com/litoral-labs/micdta/pkg/validate"
)

type staticVoyages map[string]*contracts.Voyage

func (s staticVoyages) Voyage(id string) (*contracts.Voyage, error) {
	return s[id], nil
}

type fixture struct {
	facade  *Facade
	exec    *orchestrator.Orchestrator
	sandbox *remote.SandboxClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	voyages := staticVoyages{
		"VOY-001": {
			ID: "VOY-001", Origin: "ARBUE", Destination: "PYASU",
			LeadVessel: "BT-GUARANI", VesselCount: 1,
			Shipments: []contracts.Shipment{{ID: "s1", VoyageID: "VOY-001", Titles: []string{"T-1"}}},
		},
	}
	lg := ledger.NewMemoryLedger()
	sandbox := remote.NewSandboxClient()
	exec := orchestrator.New(voyages, lg, sandbox)
	engine := geofence.NewEngine(exec, lg, nil, geofence.Config{})
	return &fixture{
		facade:  NewFacade(voyages, lg, exec, engine),
		exec:    exec,
		sandbox: sandbox,
	}
}

func (f *fixture) run(t *testing.T, ops ...contracts.Operation) {
	t.Helper()
	for _, op := range ops {
		out, err := f.exec.Execute(context.Background(), "VOY-001", op, orchestrator.Options{})
		require.NoError(t, err, "step %s", op)
		require.Equal(t, contracts.OutcomeSuccess, out.Status)
	}
}

func TestStatusStageProgression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.facade.Status(ctx, "VOY-001")
	require.NoError(t, err)
	assert.Equal(t, StageNotStarted, st.Stage)

	f.run(t, contracts.OpRegistrarTitEnvios)
	st, _ = f.facade.Status(ctx, "VOY-001")
	assert.Equal(t, StageTitlesRegistered, st.Stage)

	f.run(t, contracts.OpRegistrarEnvios)
	st, _ = f.facade.Status(ctx, "VOY-001")
	assert.Equal(t, StageEnviosRegistered, st.Stage)

	f.run(t, contracts.OpRegistrarMicDta)
	st, _ = f.facade.Status(ctx, "VOY-001")
	assert.Equal(t, StageMicDtaRegistered, st.Stage)
	assert.NotEmpty(t, st.MicDtaRef)

	f.run(t, contracts.OpRegistrarSalidaZonaPrimaria)
	st, _ = f.facade.Status(ctx, "VOY-001")
	assert.Equal(t, StageZonePrimariaExited, st.Stage)

	f.run(t, contracts.OpRegistrarArriboZonaPrimaria)
	st, _ = f.facade.Status(ctx, "VOY-001")
	assert.Equal(t, StageArrived, st.Stage)
}

func TestStatusCarriesLastError(t *testing.T) {
	f := newFixture(t)
	f.run(t, contracts.OpRegistrarTitEnvios)

	f.sandbox.FailWith(contracts.OpRegistrarEnvios, &contracts.RemoteError{Code: "GEN01", Message: "rechazado"})
	_, err := f.exec.Execute(context.Background(), "VOY-001", contracts.OpRegistrarEnvios, orchestrator.Options{})
	require.Error(t, err)

	st, err := f.facade.Status(context.Background(), "VOY-001")
	require.NoError(t, err)
	assert.Equal(t, StageTitlesRegistered, st.Stage, "failed attempts do not advance the stage")
	require.NotNil(t, st.LastError)
	assert.Equal(t, "GEN01", st.LastError.Code)
	assert.Equal(t, 2, st.Attempts)
}

func TestStatusAnnulmentFlags(t *testing.T) {
	f := newFixture(t)
	f.run(t,
		contracts.OpRegistrarTitEnvios,
		contracts.OpRegistrarEnvios,
		contracts.OpRegistrarMicDta,
		contracts.OpSolicitarAnularMicDta,
	)

	st, err := f.facade.Status(context.Background(), "VOY-001")
	require.NoError(t, err)
	assert.True(t, st.AnnulmentRequested)
	assert.False(t, st.MicDtaAnnulled)
	assert.Equal(t, StageMicDtaRegistered, st.Stage)

	f.run(t, contracts.OpAnularMicDta)
	st, _ = f.facade.Status(context.Background(), "VOY-001")
	assert.True(t, st.MicDtaAnnulled)
	assert.Equal(t, StageEnviosRegistered, st.Stage, "annulled MIC/DTA drops back to shipments")
}

func TestStatusCanSendAndLastSentAt(t *testing.T) {
	f := newFixture(t)

	st, err := f.facade.Status(context.Background(), "VOY-001")
	require.NoError(t, err)
	assert.True(t, st.CanSend)
	assert.Nil(t, st.LastSentAt, "nothing has been sent yet")

	f.run(t, contracts.OpRegistrarTitEnvios, contracts.OpRegistrarEnvios)

	st, err = f.facade.Status(context.Background(), "VOY-001")
	require.NoError(t, err)
	assert.True(t, st.CanSend)
	require.NotNil(t, st.LastSentAt)
	assert.WithinDuration(t, time.Now(), *st.LastSentAt, time.Minute)
}

func TestStatusCanSendFalseWithoutShipments(t *testing.T) {
	voyages := staticVoyages{
		"VOY-EMPTY": {ID: "VOY-EMPTY", LeadVessel: "BT-X", VesselCount: 1},
	}
	lg := ledger.NewMemoryLedger()
	exec := orchestrator.New(voyages, lg, remote.NewSandboxClient())
	facade := NewFacade(voyages, lg, exec, nil)

	st, err := facade.Status(context.Background(), "VOY-EMPTY")
	require.NoError(t, err)
	assert.False(t, st.CanSend)
	assert.Nil(t, st.LastSentAt)
}

func TestValidateReportBuckets(t *testing.T) {
	f := newFixture(t)

	rep, err := f.facade.Validate(context.Background(), "VOY-001")
	require.NoError(t, err)
	assert.NotEmpty(t, rep.Warnings, "unregistered titles warn")
	assert.NotEmpty(t, rep.VerifiedDetails)
}

func TestCheckOperationDoesNotExecute(t *testing.T) {
	f := newFixture(t)

	d, err := f.facade.CheckOperation(context.Background(), "VOY-001", contracts.OpRegistrarMicDta, validate.Request{})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	st, _ := f.facade.Status(context.Background(), "VOY-001")
	assert.Zero(t, st.Attempts)
}

func TestActivityNewestFirstWithFilter(t *testing.T) {
	f := newFixture(t)
	f.run(t, contracts.OpRegistrarTitEnvios, contracts.OpRegistrarEnvios)

	recs, err := f.facade.Activity(context.Background(), "VOY-001", ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, contracts.OpRegistrarEnvios, recs[0].Operation)

	recs, err = f.facade.Activity(context.Background(), "VOY-001", ledger.Filter{
		Operation: contracts.OpRegistrarTitEnvios,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestPreviewPayloadUnknownVoyage(t *testing.T) {
	f := newFixture(t)
	_, err := f.facade.PreviewPayload("VOY-404", contracts.OpDummy, orchestrator.Options{})
	require.ErrorIs(t, err, contracts.ErrVoyageNotFound)
}

func TestPositionsRequireEngine(t *testing.T) {
	f := newFixture(t)
	bare := NewFacade(staticVoyages{}, ledger.NewMemoryLedger(), f.exec, nil)

	_, err := bare.Positions(context.Background(), "VOY-001", time.Time{})
	require.ErrorIs(t, err, ErrTrackingDisabled)
	_, err = bare.PositionStats(context.Background(), "VOY-001", time.Time{})
	require.ErrorIs(t, err, ErrTrackingDisabled)
}
