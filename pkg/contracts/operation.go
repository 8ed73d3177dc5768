package contracts

// Operation is the closed set of remote customs interface methods.
// Every operation the gateway can dispatch is enumerated here; nothing
// in the codebase may infer an operation's family from its name.
type Operation string

const (
	OpRegistrarTitEnvios          Operation = "RegistrarTitEnvios"
	OpRegistrarEnvios             Operation = "RegistrarEnvios"
	OpRegistrarMicDta             Operation = "RegistrarMicDta"
	OpRegistrarTitMicDta          Operation = "RegistrarTitMicDta"
	OpRegistrarConvoy             Operation = "RegistrarConvoy"
	OpAsignarATARemol             Operation = "AsignarATARemol"
	OpRectifConvoyMicDta          Operation = "RectifConvoyMicDta"
	OpDesvincularTitMicDta        Operation = "DesvincularTitMicDta"
	OpAnularTitulo                Operation = "AnularTitulo"
	OpAnularEnvios                Operation = "AnularEnvios"
	OpSolicitarAnularMicDta       Operation = "SolicitarAnularMicDta"
	OpAnularMicDta                Operation = "AnularMicDta"
	OpRegistrarSalidaZonaPrimaria Operation = "RegistrarSalidaZonaPrimaria"
	OpRegistrarArriboZonaPrimaria Operation = "RegistrarArriboZonaPrimaria"
	OpActualizarPosicion          Operation = "ActualizarPosicion"
	OpConsultarMicDta             Operation = "ConsultarMicDta"
	OpConsultarTitEnviosReg       Operation = "ConsultarTitEnviosReg"
	OpConsultarPrecumplido        Operation = "ConsultarPrecumplido"
	OpDummy                       Operation = "Dummy"
)

// OperationFamily groups operations by pipeline role.
type OperationFamily string

const (
	FamilyRegistration OperationFamily = "REGISTRATION"
	FamilyAnnulment    OperationFamily = "ANNULMENT"
	FamilyConvoy       OperationFamily = "CONVOY"
	FamilyZonePrimaria OperationFamily = "ZONE_PRIMARIA"
	FamilyPosition     OperationFamily = "POSITION"
	FamilyQuery        OperationFamily = "QUERY"
)

// OperationScope says what a single invocation addresses.
type OperationScope string

const (
	ScopeVoyage   OperationScope = "VOYAGE"
	ScopeShipment OperationScope = "SHIPMENT"
	ScopeTitle    OperationScope = "TITLE"
)

// OperationSpec carries everything the orchestrator and validator need
// to know about one operation, as data rather than name inspection.
type OperationSpec struct {
	Name       Operation
	Family     OperationFamily
	Scope      OperationScope
	Mutating   bool
	Idempotent bool // safe to repeat without ForceSend
	ConvoyOnly bool // requires voyage.VesselCount > 1
	// ProducesTracks marks operations whose success payload may carry
	// new tracking identifiers.
	ProducesTracks bool
	// Watermark marks the full-reset operation. Its success record
	// hides all earlier ledger history from validation and queries.
	Watermark bool
}

var operationSpecs = map[Operation]OperationSpec{
	OpRegistrarTitEnvios:          {Name: OpRegistrarTitEnvios, Family: FamilyRegistration, Scope: ScopeShipment, Mutating: true},
	OpRegistrarEnvios:             {Name: OpRegistrarEnvios, Family: FamilyRegistration, Scope: ScopeShipment, Mutating: true, ProducesTracks: true},
	OpRegistrarMicDta:             {Name: OpRegistrarMicDta, Family: FamilyRegistration, Scope: ScopeVoyage, Mutating: true},
	OpRegistrarTitMicDta:          {Name: OpRegistrarTitMicDta, Family: FamilyRegistration, Scope: ScopeVoyage, Mutating: true},
	OpRegistrarConvoy:             {Name: OpRegistrarConvoy, Family: FamilyConvoy, Scope: ScopeVoyage, Mutating: true, ConvoyOnly: true, ProducesTracks: true},
	OpAsignarATARemol:             {Name: OpAsignarATARemol, Family: FamilyConvoy, Scope: ScopeVoyage, Mutating: true, ConvoyOnly: true},
	OpRectifConvoyMicDta:          {Name: OpRectifConvoyMicDta, Family: FamilyConvoy, Scope: ScopeVoyage, Mutating: true, ConvoyOnly: true},
	OpDesvincularTitMicDta:        {Name: OpDesvincularTitMicDta, Family: FamilyAnnulment, Scope: ScopeTitle, Mutating: true},
	OpAnularTitulo:                {Name: OpAnularTitulo, Family: FamilyAnnulment, Scope: ScopeTitle, Mutating: true},
	OpAnularEnvios:                {Name: OpAnularEnvios, Family: FamilyAnnulment, Scope: ScopeVoyage, Mutating: true, Idempotent: true, Watermark: true},
	OpSolicitarAnularMicDta:       {Name: OpSolicitarAnularMicDta, Family: FamilyAnnulment, Scope: ScopeVoyage, Mutating: true},
	OpAnularMicDta:                {Name: OpAnularMicDta, Family: FamilyAnnulment, Scope: ScopeVoyage, Mutating: true},
	OpRegistrarSalidaZonaPrimaria: {Name: OpRegistrarSalidaZonaPrimaria, Family: FamilyZonePrimaria, Scope: ScopeVoyage, Mutating: true},
	OpRegistrarArriboZonaPrimaria: {Name: OpRegistrarArriboZonaPrimaria, Family: FamilyZonePrimaria, Scope: ScopeVoyage, Mutating: true},
	OpActualizarPosicion:          {Name: OpActualizarPosicion, Family: FamilyPosition, Scope: ScopeVoyage, Mutating: true, Idempotent: true},
	OpConsultarMicDta:             {Name: OpConsultarMicDta, Family: FamilyQuery, Scope: ScopeVoyage, Idempotent: true},
	OpConsultarTitEnviosReg:       {Name: OpConsultarTitEnviosReg, Family: FamilyQuery, Scope: ScopeVoyage, Idempotent: true},
	OpConsultarPrecumplido:        {Name: OpConsultarPrecumplido, Family: FamilyQuery, Scope: ScopeVoyage, Idempotent: true},
	OpDummy:                       {Name: OpDummy, Family: FamilyQuery, Scope: ScopeVoyage, Idempotent: true},
}

// Spec returns the static metadata for op. The second return is false
// for operation names outside the closed set.
func (op Operation) Spec() (OperationSpec, bool) {
	s, ok := operationSpecs[op]
	return s, ok
}

// Valid reports whether op is one of the enumerated operations.
func (op Operation) Valid() bool {
	_, ok := operationSpecs[op]
	return ok
}

// Operations returns the full operation set in a stable order.
func Operations() []Operation {
	return []Operation{
		OpRegistrarTitEnvios,
		OpRegistrarEnvios,
		OpRegistrarMicDta,
		OpRegistrarTitMicDta,
		OpRegistrarConvoy,
		OpAsignarATARemol,
		OpRectifConvoyMicDta,
		OpDesvincularTitMicDta,
		OpAnularTitulo,
		OpAnularEnvios,
		OpSolicitarAnularMicDta,
		OpAnularMicDta,
		OpRegistrarSalidaZonaPrimaria,
		OpRegistrarArriboZonaPrimaria,
		OpActualizarPosicion,
		OpConsultarMicDta,
		OpConsultarTitEnviosReg,
		OpConsultarPrecumplido,
		OpDummy,
	}
}
