package reset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/ledger"
	"github.com/litoral-labs/micdta/pkg/orchestrator"
	"github.com/litoral-labs/micdta/pkg/remote"
)

type staticVoyages map[string]*contracts.Voyage

func (s staticVoyages) Voyage(id string) (*contracts.Voyage, error) {
	return s[id], nil
}

func fixture(t *testing.T) (*Service, *orchestrator.Orchestrator, *ledger.MemoryLedger) {
	t.Helper()
	voyages := staticVoyages{
		"VOY-001": {
			ID: "VOY-001", Origin: "ARBUE", Destination: "PYASU",
			LeadVessel: "BT-GUARANI", VesselCount: 1,
			Shipments: []contracts.Shipment{{ID: "s1", VoyageID: "VOY-001", Titles: []string{"T-1"}}},
		},
	}
	lg := ledger.NewMemoryLedger()
	exec := orchestrator.New(voyages, lg, remote.NewSandboxClient())
	return NewService(exec, lg), exec, lg
}

func register(t *testing.T, exec *orchestrator.Orchestrator, ops ...contracts.Operation) {
	t.Helper()
	for _, op := range ops {
		out, err := exec.Execute(context.Background(), "VOY-001", op, orchestrator.Options{})
		require.NoError(t, err, "step %s", op)
		require.Equal(t, contracts.OutcomeSuccess, out.Status)
	}
}

const goodMotive = "carga reprogramada por bajante del rio Parana"

func TestFullResetRefusesThinJustification(t *testing.T) {
	svc, _, lg := fixture(t)

	_, err := svc.FullReset(context.Background(), "VOY-001", "oops")
	require.ErrorIs(t, err, ErrJustificationTooShort)

	view, verr := lg.View(context.Background(), "VOY-001")
	require.NoError(t, verr)
	assert.True(t, view.Empty(), "refused reset must not touch the ledger")
}

func TestFullResetWatermarksAndRestartsPipeline(t *testing.T) {
	svc, exec, lg := fixture(t)
	register(t, exec,
		contracts.OpRegistrarTitEnvios,
		contracts.OpRegistrarEnvios,
		contracts.OpRegistrarMicDta,
	)

	out, err := svc.FullReset(context.Background(), "VOY-001", goodMotive)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSuccess, out.Status)

	view, err := lg.View(context.Background(), "VOY-001")
	require.NoError(t, err)
	assert.NotZero(t, view.WatermarkSeq)
	require.Len(t, view.Records, 1, "window collapses to the reset record")
	assert.True(t, view.Records[0].Watermark)

	// The pipeline starts over from titles.
	register(t, exec, contracts.OpRegistrarTitEnvios)
}

func TestAnnulTitleAndUnlink(t *testing.T) {
	svc, exec, _ := fixture(t)
	register(t, exec,
		contracts.OpRegistrarTitEnvios,
		contracts.OpRegistrarEnvios,
		contracts.OpRegistrarMicDta,
	)

	out, err := exec.Execute(context.Background(), "VOY-001", contracts.OpRegistrarTitMicDta,
		orchestrator.Options{Titles: []string{"T-1"}})
	require.NoError(t, err)
	require.Equal(t, contracts.OutcomeSuccess, out.Status)

	out, err = svc.UnlinkTitles(context.Background(), "VOY-001", []string{"T-1"})
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSuccess, out.Status)

	out, err = svc.AnnulTitle(context.Background(), "VOY-001", "T-1", "documento emitido con error")
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSuccess, out.Status)
}

func TestAnnulShipmentsEscapeHatchAlwaysRuns(t *testing.T) {
	svc, _, _ := fixture(t)

	// Partial annulment has no preconditions, even on a fresh voyage.
	out, err := svc.AnnulShipments(context.Background(), "VOY-001", "s1", "")
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSuccess, out.Status)
}
